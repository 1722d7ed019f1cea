package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu     sync.Mutex
	orders []uint64
	errFor map[uint64]error
}

func (p *recordingProcessor) Process(order *Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order.OrderNumber)
	return p.errFor[order.OrderNumber]
}

func (p *recordingProcessor) seen() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.orders...)
}

func TestSequencer_ProcessesInOrder(t *testing.T) {
	processor := &recordingProcessor{}
	seq, err := NewSequencer(8, processor)
	require.NoError(t, err)
	seq.Start()

	for i := uint64(1); i <= 20; i++ {
		require.NoError(t, seq.Submit(&Order{OrderNumber: i, Action: ActionNew}))
	}
	assert.ErrorIs(t, seq.Submit(nil), ErrInvalidParam)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, seq.Shutdown(ctx))

	seen := processor.seen()
	require.Len(t, seen, 20)
	for i, n := range seen {
		assert.Equal(t, uint64(i+1), n)
	}
	assert.Zero(t, seq.Pending())
}

func TestSequencer_FatalHandler(t *testing.T) {
	boom := errors.New("clock moved backwards")
	processor := &recordingProcessor{errFor: map[uint64]error{
		2: ErrInvalidParam,
		3: boom,
	}}

	var mu sync.Mutex
	var fatal []error
	seq, err := NewSequencer(4, processor, WithFatalHandler(func(err error) {
		mu.Lock()
		fatal = append(fatal, err)
		mu.Unlock()
	}))
	require.NoError(t, err)
	seq.Start()

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, seq.Submit(&Order{OrderNumber: i, Action: ActionNew}))
	}
	require.NoError(t, seq.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fatal, 1)
	assert.ErrorIs(t, fatal[0], boom)
}

func TestSequencer_DrivesLifecycle(t *testing.T) {
	svc, _, _ := newLifecycle(t)
	seq, err := NewSequencer(16, svc)
	require.NoError(t, err)
	seq.Start()

	require.NoError(t, seq.Submit(limitOrder(1, "META", Buy, 5, "300")))
	require.NoError(t, seq.Submit(limitOrder(2, "META", Sell, 5, "299")))
	require.NoError(t, seq.Shutdown(context.Background()))

	requireStatus(t, svc, 1, StatusFilled)
	requireStatus(t, svc, 2, StatusFilled)
}
