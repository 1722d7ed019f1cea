package kafka

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	match "github.com/0x5487/mocktrading"
	"github.com/0x5487/mocktrading/protocol"
	"github.com/segmentio/kafka-go"
)

// EventPublisher implements match.PublishLog by writing every event to the
// event topic. Publish serializes immediately and never blocks: when the
// buffer is full the event is dropped and counted.
type EventPublisher struct {
	writer     MessageWriter
	serializer protocol.Serializer
	logger     *slog.Logger
	buffer     chan kafka.Message
	done       chan struct{}
	dropped    atomic.Int64
	batchSize  int
}

// NewEventPublisher creates a publisher for topic with room for bufferSize
// pending events.
func NewEventPublisher(brokers []string, topic string, bufferSize int, logger *slog.Logger) *EventPublisher {
	return newEventPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}, bufferSize, logger)
}

func newEventPublisher(w MessageWriter, bufferSize int, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &EventPublisher{
		writer:     w,
		serializer: &protocol.DefaultJSONSerializer{},
		logger:     logger.With(slog.String("component", "kafka_events")),
		buffer:     make(chan kafka.Message, bufferSize),
		done:       make(chan struct{}),
		batchSize:  100,
	}
}

// Publish implements match.PublishLog. Events are keyed by stock code so
// one symbol's events stay ordered.
func (p *EventPublisher) Publish(logs ...*match.OrderBookLog) {
	for _, log := range logs {
		value, err := p.serializer.Marshal(log)
		if err != nil {
			p.logger.Error("failed to marshal event", slog.String("type", string(log.Type)), slog.Any("error", err))
			continue
		}

		select {
		case p.buffer <- kafka.Message{Key: []byte(log.StockCode), Value: value}:
		default:
			p.dropped.Add(1)
		}
	}
}

// Dropped returns how many events were lost to a full buffer.
func (p *EventPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Run writes buffered events until ctx is done, then flushes what is left.
func (p *EventPublisher) Run(ctx context.Context) {
	defer close(p.done)

	batch := make([]kafka.Message, 0, p.batchSize)
	for {
		select {
		case <-ctx.Done():
			p.drain(batch)
			return
		case msg := <-p.buffer:
			batch = append(batch[:0], msg)
		fill:
			for len(batch) < p.batchSize {
				select {
				case msg := <-p.buffer:
					batch = append(batch, msg)
				default:
					break fill
				}
			}
			p.write(ctx, batch)
		}
	}
}

func (p *EventPublisher) drain(batch []kafka.Message) {
	batch = batch[:0]
	for {
		select {
		case msg := <-p.buffer:
			batch = append(batch, msg)
		default:
			if len(batch) > 0 {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				p.write(ctx, batch)
				cancel()
			}
			return
		}
	}
}

func (p *EventPublisher) write(ctx context.Context, batch []kafka.Message) {
	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		p.logger.Error("failed to write events", slog.Int("count", len(batch)), slog.Any("error", err))
	}
}

// Close waits for Run to finish and closes the writer. Cancel Run's context
// first.
func (p *EventPublisher) Close() error {
	<-p.done
	return p.writer.Close()
}
