// Package kafka carries order actions and order book events over Kafka.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	match "github.com/0x5487/mocktrading"
	"github.com/0x5487/mocktrading/protocol"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producers use.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes order actions to the order topic. Every action of one
// modify chain is keyed by the chain's first order number, so it lands on one
// partition and is consumed in submission order.
type Producer struct {
	writer     MessageWriter
	serializer protocol.Serializer
	logger     *slog.Logger
	roots      sync.Map // replacement order number -> first order number of its chain
}

// NewProducer creates a synchronous producer for topic.
func NewProducer(brokers []string, topic string, logger *slog.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}, logger)
}

func newProducer(w MessageWriter, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		writer:     w,
		serializer: &protocol.DefaultJSONSerializer{},
		logger:     logger.With(slog.String("component", "kafka_producer")),
	}
}

// rootOf returns the first order number of the chain orderNumber belongs to.
// Roots are stored resolved, so one lookup is enough.
func (p *Producer) rootOf(orderNumber uint64) uint64 {
	if v, ok := p.roots.Load(orderNumber); ok {
		return v.(uint64)
	}
	return orderNumber
}

// orderKey routes an action to the partition of the chain it affects, so a
// CANCEL or MODIFY is consumed after the NEW or MODIFY that created its target.
func (p *Producer) orderKey(order *match.Order) (uint64, []byte) {
	root := order.OrderNumber
	if order.OriginalOrderNumber != 0 {
		root = p.rootOf(order.OriginalOrderNumber)
	}
	return root, []byte(strconv.FormatUint(root, 10))
}

// Submit publishes one order action.
func (p *Producer) Submit(ctx context.Context, order *match.Order) error {
	value, err := p.serializer.Marshal(match.MessageFromOrder(order))
	if err != nil {
		return fmt.Errorf("marshal order %d: %w", order.OrderNumber, err)
	}

	root, key := p.orderKey(order)
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value}); err != nil {
		p.logger.Error("failed to send order",
			slog.Uint64("order_number", order.OrderNumber),
			slog.String("action", order.Action.String()),
			slog.Any("error", err))
		return err
	}

	if order.Action == match.ActionModify && order.OrderNumber != 0 {
		p.roots.Store(order.OrderNumber, root)
	}

	p.logger.Debug("order sent", slog.Uint64("order_number", order.OrderNumber), slog.String("action", order.Action.String()))
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
