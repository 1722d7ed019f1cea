package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	match "github.com/0x5487/mocktrading"
	"github.com/0x5487/mocktrading/protocol"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderSubmitter accepts decoded order actions, normally a *match.Sequencer.
type OrderSubmitter interface {
	Submit(order *match.Order) error
}

type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	Concurrency int
}

// Consumer reads the order topic with several readers of one consumer group
// and hands every decoded action to a single submitter.
type Consumer struct {
	readers    []MessageReader
	submitter  OrderSubmitter
	serializer protocol.Serializer
	logger     *slog.Logger
}

// NewConsumer creates cfg.Concurrency readers (at least one).
func NewConsumer(cfg ConsumerConfig, submitter OrderSubmitter, logger *slog.Logger) *Consumer {
	n := max(cfg.Concurrency, 1)
	readers := make([]MessageReader, 0, n)
	for i := 0; i < n; i++ {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			StartOffset:    kafka.FirstOffset,
			CommitInterval: time.Second,
			MaxBytes:       10e6,
		}))
	}
	return newConsumer(readers, submitter, logger)
}

func newConsumer(readers []MessageReader, submitter OrderSubmitter, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		readers:    readers,
		submitter:  submitter,
		serializer: &protocol.DefaultJSONSerializer{},
		logger:     logger.With(slog.String("component", "kafka_consumer")),
	}
}

// Run consumes until ctx is done or the submitter shuts down. It returns
// nil on a normal stop.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, reader := range c.readers {
		g.Go(func() error {
			return c.consume(ctx, i, reader)
		})
	}
	return g.Wait()
}

func (c *Consumer) consume(ctx context.Context, id int, reader MessageReader) error {
	logger := c.logger.With(slog.Int("reader", id))
	logger.Info("consumer started")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				logger.Info("consumer stopped")
				return nil
			}
			logger.Error("failed to fetch message", slog.Any("error", err))
			return err
		}

		if order, ok := c.decode(logger, msg); ok {
			if err := c.submitter.Submit(order); err != nil {
				if errors.Is(err, match.ErrShutdown) {
					logger.Info("sequencer closed, consumer stopped")
					return nil
				}
				logger.Error("failed to submit order", slog.Uint64("order_number", order.OrderNumber), slog.Any("error", err))
				return err
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Warn("failed to commit message", slog.Int64("offset", msg.Offset), slog.Any("error", err))
		}
	}
}

// decode logs and skips messages that are not valid order actions.
func (c *Consumer) decode(logger *slog.Logger, msg kafka.Message) (*match.Order, bool) {
	var wire protocol.OrderMessage
	if err := c.serializer.Unmarshal(msg.Value, &wire); err != nil {
		logger.Warn("skipping undecodable message",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Any("error", err))
		return nil, false
	}

	order, err := match.OrderFromMessage(&wire)
	if err != nil {
		logger.Warn("skipping invalid order message",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Any("error", err))
		return nil, false
	}
	return order, true
}

// Close closes every reader.
func (c *Consumer) Close() error {
	var errs []error
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
