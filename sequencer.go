package match

import (
	"context"
	"errors"
	"log/slog"
)

// OrderProcessor applies one order action.
type OrderProcessor interface {
	Process(order *Order) error
}

// Sequencer funnels order actions from many producers into a single
// goroutine that calls Process in arrival order.
type Sequencer struct {
	rb        *RingBuffer[*Order]
	processor OrderProcessor
	onFatal   func(error)
}

// SequencerOption configures a Sequencer.
type SequencerOption func(*Sequencer)

// WithFatalHandler sets the callback run when Process returns an error
// that is not caused by bad input, such as a clock regression.
func WithFatalHandler(fn func(error)) SequencerOption {
	return func(s *Sequencer) {
		s.onFatal = fn
	}
}

// NewSequencer creates a sequencer with the given ring capacity, which must
// be a power of 2.
func NewSequencer(capacity int64, processor OrderProcessor, opts ...SequencerOption) (*Sequencer, error) {
	s := &Sequencer{processor: processor}
	for _, opt := range opts {
		opt(s)
	}

	rb, err := NewRingBuffer[*Order](capacity, EventHandlerFunc[*Order](s.handle))
	if err != nil {
		return nil, err
	}
	s.rb = rb
	return s, nil
}

func (s *Sequencer) handle(order *Order) {
	err := s.processor.Process(order)
	if err == nil {
		return
	}

	if errors.Is(err, ErrInvalidParam) {
		logger.Warn("rejected order action",
			slog.Uint64("order_number", order.OrderNumber),
			slog.String("action", order.Action.String()),
			slog.Any("error", err))
		return
	}

	logger.Error("order processing failed", slog.Uint64("order_number", order.OrderNumber), slog.Any("error", err))
	if s.onFatal != nil {
		s.onFatal(err)
	}
}

// Submit queues order for processing.
func (s *Sequencer) Submit(order *Order) error {
	if order == nil {
		return ErrInvalidParam
	}
	return s.rb.Publish(order)
}

// Start launches the consumer goroutine.
func (s *Sequencer) Start() {
	s.rb.Start()
}

// Shutdown drains queued actions before returning.
func (s *Sequencer) Shutdown(ctx context.Context) error {
	return s.rb.Shutdown(ctx)
}

// Pending returns the number of queued actions.
func (s *Sequencer) Pending() int64 {
	return s.rb.GetPendingEvents()
}
