package match

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	Producer int
	Seq      int
}

func TestRingBuffer_InvalidCapacity(t *testing.T) {
	for _, capacity := range []int64{0, -4, 3, 100} {
		_, err := NewRingBuffer[int](capacity, EventHandlerFunc[int](func(int) {}))
		assert.ErrorIs(t, err, ErrInvalidParam, "capacity %d", capacity)
	}
}

func TestRingBuffer_BasicOperations(t *testing.T) {
	var processed []int
	var mu sync.Mutex

	rb, err := NewRingBuffer[int](16, EventHandlerFunc[int](func(v int) {
		mu.Lock()
		processed = append(processed, v)
		mu.Unlock()
	}))
	require.NoError(t, err)
	rb.Start()

	for i := 1; i <= 10; i++ {
		require.NoError(t, rb.Publish(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rb.Shutdown(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, processed, 10)
	for i := 1; i <= 10; i++ {
		assert.Equal(t, i, processed[i-1])
	}
	assert.Equal(t, int64(0), rb.GetPendingEvents())
}

func TestRingBuffer_PublishAfterShutdown(t *testing.T) {
	rb, err := NewRingBuffer[int](4, EventHandlerFunc[int](func(int) {}))
	require.NoError(t, err)
	rb.Start()

	require.NoError(t, rb.Shutdown(context.Background()))
	assert.ErrorIs(t, rb.Publish(1), ErrShutdown)
}

func TestRingBuffer_MultiProducerWraps(t *testing.T) {
	const producers, perProducer = 8, 1000

	var count atomic.Int64
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	ordered := true

	// Capacity far below the event count forces the buffer to wrap.
	rb, err := NewRingBuffer[testEvent](64, EventHandlerFunc[testEvent](func(e testEvent) {
		if e.Seq <= last[e.Producer] {
			ordered = false
		}
		last[e.Producer] = e.Seq
		count.Add(1)
	}))
	require.NoError(t, err)
	rb.Start()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, rb.Publish(testEvent{Producer: p, Seq: i}))
			}
		}(p)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rb.Shutdown(ctx))

	assert.Equal(t, int64(producers*perProducer), count.Load())
	assert.True(t, ordered, "events of one producer must be handled in publish order")
	assert.Equal(t, rb.ProducerSequence(), rb.ConsumerSequence())
}

func TestRingBuffer_ShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	rb, err := NewRingBuffer[int](4, EventHandlerFunc[int](func(int) {
		<-release
	}))
	require.NoError(t, err)
	rb.Start()
	require.NoError(t, rb.Publish(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rb.Shutdown(ctx), ErrDisruptorTimeout)

	close(release)
	assert.Eventually(t, func() bool {
		return rb.GetPendingEvents() == 0
	}, time.Second, 5*time.Millisecond)
}
