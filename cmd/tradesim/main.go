// Command tradesim runs the order matching simulator: an HTTP and websocket
// front end, optionally fed through Kafka.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	match "github.com/0x5487/mocktrading"
	"github.com/0x5487/mocktrading/api"
	"github.com/0x5487/mocktrading/config"
	"github.com/0x5487/mocktrading/idgen"
	"github.com/0x5487/mocktrading/kafka"
	"github.com/0x5487/mocktrading/logging"
	"github.com/0x5487/mocktrading/metrics"
	"github.com/0x5487/mocktrading/quote"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tradesim:", err)
		os.Exit(1)
	}
}

// fatalIDs stops the process on the first allocation failure. Duplicate or
// reused ids would corrupt the registry, so there is no retry.
type fatalIDs struct {
	ids     match.IDGenerator
	onFatal func(error)
}

func (f fatalIDs) NextID() (uint64, error) {
	id, err := f.ids.NextID()
	if err != nil {
		f.onFatal(err)
	}
	return id, err
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	match.SetLogger(logger)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(sigCtx)
	defer cancel(nil)

	allocator, err := idgen.New(cfg.NodeID)
	if err != nil {
		return err
	}
	fatal := func(err error) {
		logger.Error("fatal error, shutting down", slog.Any("error", err))
		cancel(err)
	}
	ids := fatalIDs{ids: allocator, onFatal: fatal}

	hub := api.NewHub(logger)
	collector := metrics.NewCollector()
	depths := match.NewAggregatedBooks()
	publishers := []match.PublishLog{hub, collector, depths}

	var (
		events       *kafka.EventPublisher
		eventsCancel context.CancelFunc = func() {}
	)
	if cfg.Kafka.Enabled && len(cfg.Kafka.EventTopic) > 0 {
		events = kafka.NewEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.EventTopic, 0, logger)
		var eventsCtx context.Context
		eventsCtx, eventsCancel = context.WithCancel(context.Background())
		go events.Run(eventsCtx)
		publishers = append(publishers, events)
	}
	publisher := match.NewMultiPublishLog(publishers...)

	matching := match.NewMatchingService(ids, publisher)
	lifecycle := match.NewOrderLifecycleService(matching, publisher)

	var (
		submitter    api.Submitter = api.DirectSubmitter(lifecycle)
		sequencer    *match.Sequencer
		consumer     *kafka.Consumer
		producer     *kafka.Producer
		consumerDone = make(chan struct{})
	)
	if cfg.Kafka.Enabled {
		sequencer, err = match.NewSequencer(cfg.SequencerCapacity, lifecycle, match.WithFatalHandler(fatal))
		if err != nil {
			return err
		}
		sequencer.Start()

		consumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.OrderTopic,
			GroupID:     cfg.Kafka.GroupID,
			Concurrency: cfg.Kafka.Concurrency,
		}, sequencer, logger)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				fatal(err)
			}
		}()

		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic, logger)
		submitter = producer
	} else {
		close(consumerDone)
	}

	server := api.NewServer(api.Options{
		Orders:    lifecycle,
		Submitter: submitter,
		IDs:       ids,
		Quotes:    quote.NewStooqClient(cfg.QuoteBaseURL, cfg.QuoteMinInterval, logger),
		Hub:       hub,
		Metrics:   collector,
		Depths:    depths,
		RateLimit: cfg.WSRateLimit,
		Depth:     cfg.BookDepth,
		Logger:    logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting",
			slog.String("addr", cfg.HTTPAddr),
			slog.Bool("kafka", cfg.Kafka.Enabled),
			slog.String("version", match.EngineVersion))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		cancel(err)
	}
	logger.Info("shutting down", slog.Any("cause", context.Cause(ctx)))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	hub.Close()

	<-consumerDone
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Warn("kafka consumer close", slog.Any("error", err))
		}
	}
	if sequencer != nil {
		if err := sequencer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("sequencer shutdown", slog.Any("error", err), slog.Int64("pending", sequencer.Pending()))
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Warn("kafka producer close", slog.Any("error", err))
		}
	}
	eventsCancel()
	if events != nil {
		if err := events.Close(); err != nil {
			logger.Warn("kafka event publisher close", slog.Any("error", err))
		}
		if n := events.Dropped(); n > 0 {
			logger.Warn("events dropped", slog.Int64("count", n))
		}
	}

	stats := lifecycle.GetStats()
	logger.Info("stopped",
		slog.Int("total_orders", stats.TotalOrders),
		slog.Int("total_executions", stats.TotalExecutions))

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}
