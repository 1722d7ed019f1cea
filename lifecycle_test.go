package match

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLifecycle(t *testing.T) (*OrderLifecycleService, *MatchingService, *MemoryPublishLog) {
	t.Helper()
	publisher := NewMemoryPublishLog()
	matcher := NewMatchingService(&counterIDs{}, publisher)
	return NewOrderLifecycleService(matcher, publisher), matcher, publisher
}

func cancelAction(number, original uint64) *Order {
	return &Order{
		OrderNumber:         number,
		Action:              ActionCancel,
		OriginalOrderNumber: original,
	}
}

func modifyAction(number, original uint64, qty int64, price string) *Order {
	action := &Order{
		OrderID:             NewOrderID(),
		OrderNumber:         number,
		Action:              ActionModify,
		Quantity:            qty,
		OriginalOrderNumber: original,
	}
	if len(price) > 0 {
		action.Price = decimal.RequireFromString(price)
	}
	return action
}

func requireStatus(t *testing.T, svc *OrderLifecycleService, number uint64, status Status) {
	t.Helper()
	order, ok := svc.GetOrder(number)
	require.True(t, ok, "order %d not found", number)
	assert.Equal(t, status, order.Status, "order %d", number)
}

func TestLifecycle_RestingBuy(t *testing.T) {
	svc, _, _ := newLifecycle(t)

	require.NoError(t, svc.Process(limitOrder(1, "AAPL", Buy, 10, "100.00")))

	assert.Empty(t, svc.Executions())
	requireStatus(t, svc, 1, StatusPending)

	snap := svc.Snapshot("AAPL", 5)
	require.Len(t, snap.BidLevels, 1)
	assert.True(t, snap.BidLevels[0].Price.Equal(decimal.RequireFromString("100.00")))
	assert.Equal(t, int64(10), snap.BidLevels[0].Quantity)
}

func TestLifecycle_SellFillsAtMakerPrice(t *testing.T) {
	svc, _, _ := newLifecycle(t)

	require.NoError(t, svc.Process(limitOrder(1, "AAPL", Buy, 10, "100.00")))
	require.NoError(t, svc.Process(limitOrder(2, "AAPL", Sell, 4, "99.00")))

	execs := svc.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, int64(4), execs[0].ExecutedQuantity)
	assert.True(t, execs[0].ExecutedPrice.Equal(decimal.NewFromInt(100)))

	requireStatus(t, svc, 2, StatusFilled)
	requireStatus(t, svc, 1, StatusPending)

	snap := svc.Snapshot("AAPL", 5)
	require.Len(t, snap.BidLevels, 1)
	assert.Equal(t, int64(6), snap.BidLevels[0].Quantity)
}

func TestLifecycle_CounterpartyFilled(t *testing.T) {
	svc, _, _ := newLifecycle(t)

	require.NoError(t, svc.Process(limitOrder(1, "AAPL", Sell, 3, "10")))
	require.NoError(t, svc.Process(limitOrder(2, "AAPL", Sell, 3, "11")))
	require.NoError(t, svc.Process(limitOrder(3, "AAPL", Buy, 5, "11")))

	requireStatus(t, svc, 1, StatusFilled)
	requireStatus(t, svc, 2, StatusPending)
	requireStatus(t, svc, 3, StatusFilled)

	stats := svc.GetStats()
	assert.Equal(t, Stats{
		TotalOrders:     3,
		PendingOrders:   1,
		FilledOrders:    2,
		TotalExecutions: 2,
	}, stats)
}

func TestLifecycle_Cancel(t *testing.T) {
	svc, _, publisher := newLifecycle(t)

	require.NoError(t, svc.Process(limitOrder(1, "AAPL", Buy, 5, "50.00")))
	require.NoError(t, svc.Process(cancelAction(2, 1)))

	requireStatus(t, svc, 1, StatusCancelled)
	assert.Empty(t, svc.Snapshot("AAPL", 5).BidLevels)
	require.Len(t, publisher.LogsOfType(LogTypeCancel), 1)

	t.Run("second cancel is a no-op", func(t *testing.T) {
		require.NoError(t, svc.Process(cancelAction(3, 1)))
		requireStatus(t, svc, 1, StatusCancelled)
		assert.Len(t, publisher.LogsOfType(LogTypeCancel), 1)
	})

	t.Run("unknown original", func(t *testing.T) {
		require.NoError(t, svc.Process(cancelAction(4, 999)))
		_, ok := svc.GetOrder(999)
		assert.False(t, ok)
	})

	t.Run("missing original", func(t *testing.T) {
		require.NoError(t, svc.Process(cancelAction(5, 0)))
	})

	t.Run("filled original", func(t *testing.T) {
		require.NoError(t, svc.Process(limitOrder(10, "MSFT", Sell, 1, "5")))
		require.NoError(t, svc.Process(limitOrder(11, "MSFT", Buy, 1, "5")))
		require.NoError(t, svc.Process(cancelAction(12, 10)))
		requireStatus(t, svc, 10, StatusFilled)
	})

	// Cancel actions are not registered as orders.
	assert.Equal(t, 3, svc.GetStats().TotalOrders)
}

func TestLifecycle_ConcurrentCancel(t *testing.T) {
	svc, _, publisher := newLifecycle(t)

	require.NoError(t, svc.Process(limitOrder(1, "AAPL", Buy, 5, "50")))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n uint64) {
			defer wg.Done()
			assert.NoError(t, svc.Process(cancelAction(100+n, 1)))
		}(uint64(i))
	}
	wg.Wait()

	requireStatus(t, svc, 1, StatusCancelled)
	assert.Len(t, publisher.LogsOfType(LogTypeCancel), 1)

	cancelled := 0
	for _, log := range publisher.LogsOfType(LogTypeStatus) {
		if log.OrderNumber == 1 && log.Status == StatusCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}

func TestLifecycle_Modify(t *testing.T) {
	svc, _, _ := newLifecycle(t)

	require.NoError(t, svc.Process(limitOrder(1, "AAPL", Sell, 10, "20.00")))
	require.NoError(t, svc.Process(modifyAction(2, 1, 5, "25.00")))

	requireStatus(t, svc, 1, StatusModified)
	requireStatus(t, svc, 2, StatusPending)

	replacement, ok := svc.GetOrder(2)
	require.True(t, ok)
	assert.Equal(t, "AAPL", replacement.StockCode)
	assert.Equal(t, Sell, replacement.Side)
	assert.Equal(t, int64(5), replacement.Quantity)
	assert.True(t, replacement.Price.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, ActionNew, replacement.Action)
	assert.NotEmpty(t, replacement.OrderID)

	snap := svc.Snapshot("AAPL", 5)
	require.Len(t, snap.AskLevels, 1)
	assert.True(t, snap.AskLevels[0].Price.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, int64(5), snap.AskLevels[0].Quantity)
	assert.Equal(t, int64(1), snap.AskLevels[0].OrderCount)

	t.Run("modified original rejects further actions", func(t *testing.T) {
		require.NoError(t, svc.Process(modifyAction(3, 1, 7, "")))
		_, ok := svc.GetOrder(3)
		assert.False(t, ok)

		require.NoError(t, svc.Process(cancelAction(4, 1)))
		requireStatus(t, svc, 1, StatusModified)
	})

	t.Run("replacement keeps omitted fields", func(t *testing.T) {
		require.NoError(t, svc.Process(modifyAction(5, 2, 0, "26")))
		replacement, ok := svc.GetOrder(5)
		require.True(t, ok)
		assert.Equal(t, int64(5), replacement.Quantity)
		assert.True(t, replacement.Price.Equal(decimal.NewFromInt(26)))
		requireStatus(t, svc, 2, StatusModified)
	})

	t.Run("modify with a used order number", func(t *testing.T) {
		require.NoError(t, svc.Process(modifyAction(1, 5, 9, "30")))
		requireStatus(t, svc, 5, StatusPending)
	})

	stats := svc.GetStats()
	assert.Equal(t, 2, stats.ModifiedOrders)
	assert.Equal(t, 1, stats.PendingOrders)
}

func TestLifecycle_ModifyMatchesAsNewOrder(t *testing.T) {
	svc, _, _ := newLifecycle(t)

	require.NoError(t, svc.Process(limitOrder(1, "AAPL", Buy, 4, "24")))
	require.NoError(t, svc.Process(limitOrder(2, "AAPL", Sell, 10, "30")))
	require.NoError(t, svc.Process(modifyAction(3, 2, 4, "24")))

	requireStatus(t, svc, 2, StatusModified)
	requireStatus(t, svc, 3, StatusFilled)
	requireStatus(t, svc, 1, StatusFilled)

	snap := svc.Snapshot("AAPL", 5)
	assert.Empty(t, snap.AskLevels)
	assert.Empty(t, snap.BidLevels)
}

func TestLifecycle_InvalidNew(t *testing.T) {
	svc, _, _ := newLifecycle(t)

	cases := map[string]*Order{
		"zero quantity":   limitOrder(1, "AAPL", Buy, 0, "1"),
		"negative price":  limitOrder(2, "AAPL", Buy, 1, "-1"),
		"zero price":      limitOrder(3, "AAPL", Buy, 1, "0"),
		"no stock code":   limitOrder(4, "", Buy, 1, "1"),
		"no order number": limitOrder(0, "AAPL", Buy, 1, "1"),
	}
	for name, order := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, svc.Process(order), ErrInvalidParam)
		})
	}

	assert.Empty(t, svc.GetAllOrders())
	assert.ErrorIs(t, svc.Process(nil), ErrInvalidParam)
	assert.ErrorIs(t, svc.Process(&Order{Action: Action(9)}), ErrInvalidParam)
}

func TestLifecycle_DuplicateNew(t *testing.T) {
	svc, _, _ := newLifecycle(t)

	require.NoError(t, svc.Process(limitOrder(1, "AAPL", Buy, 10, "100")))
	require.NoError(t, svc.Process(limitOrder(1, "AAPL", Buy, 10, "100")))

	snap := svc.Snapshot("AAPL", 5)
	require.Len(t, snap.BidLevels, 1)
	assert.Equal(t, int64(10), snap.BidLevels[0].Quantity)
	assert.Len(t, svc.GetAllOrders(), 1)
}

func TestLifecycle_AllocatorFailureIsReturned(t *testing.T) {
	publisher := NewMemoryPublishLog()
	matcher := NewMatchingService(&counterIDs{failAfter: 1}, publisher)
	svc := NewOrderLifecycleService(matcher, publisher)

	require.NoError(t, svc.Process(limitOrder(1, "AAPL", Sell, 1, "10")))
	require.NoError(t, svc.Process(limitOrder(2, "AAPL", Sell, 1, "10")))

	err := svc.Process(limitOrder(3, "AAPL", Buy, 2, "10"))
	assert.ErrorIs(t, err, errAllocator)

	requireStatus(t, svc, 1, StatusFilled)
	requireStatus(t, svc, 2, StatusPending)
	requireStatus(t, svc, 3, StatusPending)
}

func TestLifecycle_GetAllOrdersSorted(t *testing.T) {
	svc, _, _ := newLifecycle(t)

	for _, n := range []uint64{5, 3, 9, 1} {
		require.NoError(t, svc.Process(limitOrder(n, "AAPL", Buy, 1, "1")))
	}

	orders := svc.GetAllOrders()
	require.Len(t, orders, 4)
	for i, want := range []uint64{1, 3, 5, 9} {
		assert.Equal(t, want, orders[i].OrderNumber)
	}
}

func TestLifecycle_StatusEvents(t *testing.T) {
	svc, _, publisher := newLifecycle(t)

	require.NoError(t, svc.Process(limitOrder(1, "AAPL", Buy, 2, "10")))
	require.NoError(t, svc.Process(limitOrder(2, "AAPL", Sell, 2, "10")))

	var got []Status
	for _, log := range publisher.LogsOfType(LogTypeStatus) {
		got = append(got, log.Status)
	}
	// 1 pending, 2 pending, 2 filled, 1 filled.
	assert.Equal(t, []Status{StatusPending, StatusPending, StatusFilled, StatusFilled}, got)
}

func TestLifecycle_ConcurrentProcess(t *testing.T) {
	svc, _, _ := newLifecycle(t)

	const perSide = 300
	var wg sync.WaitGroup
	for _, side := range []Side{Buy, Sell} {
		wg.Add(1)
		go func(side Side) {
			defer wg.Done()
			base := uint64(1)
			if side == Sell {
				base = perSide + 1
			}
			for i := uint64(0); i < perSide; i++ {
				assert.NoError(t, svc.Process(limitOrder(base+i, "NVDA", side, 1, "100")))
			}
		}(side)
	}
	wg.Wait()

	stats := svc.GetStats()
	assert.Equal(t, 2*perSide, stats.TotalOrders)
	assert.Equal(t, 2*perSide, stats.FilledOrders)
	assert.Equal(t, perSide, stats.TotalExecutions)
}

func TestLifecycle_ModifyOfUnknownOriginalFreesNumber(t *testing.T) {
	svc, _, _ := newLifecycle(t)

	require.NoError(t, svc.Process(modifyAction(7, 99, 5, "10")))
	_, ok := svc.GetOrder(7)
	assert.False(t, ok)
	assert.Zero(t, svc.GetStats().TotalOrders)

	require.NoError(t, svc.Process(limitOrder(7, "AAPL", Buy, 1, "10")))
	requireStatus(t, svc, 7, StatusPending)
}

// A NEW and a MODIFY racing for one order number: either the MODIFY wins and
// the number holds its replacement, or the NEW wins and the original is
// untouched.
func TestLifecycle_ModifyRacesNewForNumber(t *testing.T) {
	svc, matcher, _ := newLifecycle(t)

	const n = 200
	for i := uint64(1); i <= n; i++ {
		require.NoError(t, svc.Process(limitOrder(i, "AAPL", Buy, 5, "10")))
	}

	var wg sync.WaitGroup
	for i := uint64(1); i <= n; i++ {
		wg.Add(2)
		go func(original uint64) {
			defer wg.Done()
			assert.NoError(t, svc.Process(modifyAction(original+n, original, 7, "")))
		}(i)
		go func(number uint64) {
			defer wg.Done()
			assert.NoError(t, svc.Process(limitOrder(number, "RACE", Sell, 1, "500")))
		}(i + n)
	}
	wg.Wait()

	resting := map[uint64]int64{}
	for _, o := range matcher.RestingOrders("AAPL", Buy) {
		resting[o.OrderNumber] = o.RemainingQuantity
	}
	for i := uint64(1); i <= n; i++ {
		original, ok := svc.GetOrder(i)
		require.True(t, ok)
		other, ok := svc.GetOrder(i + n)
		require.True(t, ok, "number %d lost", i+n)

		switch original.Status {
		case StatusModified:
			assert.Equal(t, "AAPL", other.StockCode, "order %d", i+n)
			assert.Equal(t, int64(7), other.Quantity)
			assert.Equal(t, int64(7), resting[i+n])
			assert.NotContains(t, resting, i)
		case StatusPending:
			assert.Equal(t, "RACE", other.StockCode, "order %d", i+n)
			assert.Equal(t, int64(5), resting[i])
		default:
			t.Fatalf("order %d has status %s", i, original.Status)
		}
	}
	assert.Equal(t, 2*n, svc.GetStats().TotalOrders)
}
