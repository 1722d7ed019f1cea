package match

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resting(number uint64, price string, qty int64) *RestingOrder {
	return &RestingOrder{
		OrderNumber:       number,
		OrderID:           "id-" + price,
		Price:             decimal.RequireFromString(price),
		RemainingQuantity: qty,
		OriginalQuantity:  qty,
	}
}

func TestBuyerQueue(t *testing.T) {
	q := NewBuyerQueue()

	q.insertOrder(resting(101, "10", 1))
	q.insertOrder(resting(201, "20", 10))
	q.insertOrder(resting(301, "30", 10))
	q.insertOrder(resting(202, "20", 100))

	assert.Equal(t, int64(4), q.orderCount())
	assert.Equal(t, int64(3), q.depthCount())

	price, ok := q.bestPrice()
	require.True(t, ok)
	assert.Equal(t, "30", price.String())

	ord := q.popHeadAt(price)
	assert.Equal(t, uint64(301), ord.OrderNumber)

	price, _ = q.bestPrice()
	ord = q.popHeadAt(price)
	assert.Equal(t, uint64(201), ord.OrderNumber)

	// Re-appended orders go behind later arrivals at the same price.
	ord.RemainingQuantity = 2
	q.insertOrder(ord)

	ord = q.popHeadAt(price)
	assert.Equal(t, uint64(202), ord.OrderNumber)

	ord = q.popHeadAt(price)
	assert.Equal(t, uint64(201), ord.OrderNumber)
	assert.Equal(t, int64(2), ord.RemainingQuantity)

	price, _ = q.bestPrice()
	ord = q.popHeadAt(price)
	assert.Equal(t, uint64(101), ord.OrderNumber)

	assert.Equal(t, int64(0), q.orderCount())
	assert.Equal(t, int64(0), q.depthCount())
	_, ok = q.bestPrice()
	assert.False(t, ok)
}

func TestSellerQueue(t *testing.T) {
	q := NewSellerQueue()

	q.insertOrder(resting(1, "101.50", 5))
	q.insertOrder(resting(2, "100.25", 5))
	q.insertOrder(resting(3, "102", 5))

	price, ok := q.bestPrice()
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("100.25")))

	levels := q.depth(10)
	require.Len(t, levels, 3)
	assert.Equal(t, "100.25", levels[0].Price.String())
	assert.Equal(t, "101.5", levels[1].Price.String())
	assert.Equal(t, "102", levels[2].Price.String())
}

func TestQueue_EquivalentPricesShareLevel(t *testing.T) {
	q := NewSellerQueue()

	q.insertOrder(resting(1, "10.5", 3))
	q.insertOrder(resting(2, "10.50", 4))

	assert.Equal(t, int64(1), q.depthCount())
	levels := q.depth(5)
	require.Len(t, levels, 1)
	assert.Equal(t, int64(7), levels[0].Quantity)
	assert.Equal(t, int64(2), levels[0].OrderCount)

	// Lookup works with either spelling.
	ord := q.popHeadAt(decimal.RequireFromString("10.500"))
	require.NotNil(t, ord)
	assert.Equal(t, uint64(1), ord.OrderNumber)
}

func TestQueue_RemoveOrder(t *testing.T) {
	q := NewBuyerQueue()

	q.insertOrder(resting(1, "50", 1))
	q.insertOrder(resting(2, "50", 2))
	q.insertOrder(resting(3, "50", 3))

	t.Run("middle of level", func(t *testing.T) {
		ord := q.removeOrder(2)
		require.NotNil(t, ord)
		assert.Equal(t, int64(2), ord.RemainingQuantity)

		orders := q.bestOrders()
		require.Len(t, orders, 2)
		assert.Equal(t, uint64(1), orders[0].OrderNumber)
		assert.Equal(t, uint64(3), orders[1].OrderNumber)
		assert.Equal(t, int64(4), q.depth(1)[0].Quantity)
	})

	t.Run("unknown order", func(t *testing.T) {
		assert.Nil(t, q.removeOrder(99))
	})

	t.Run("last orders drop the level", func(t *testing.T) {
		assert.NotNil(t, q.removeOrder(1))
		assert.NotNil(t, q.removeOrder(3))
		assert.Equal(t, int64(0), q.depthCount())
		assert.Nil(t, q.bestOrders())
		assert.Nil(t, q.popHeadAt(decimal.NewFromInt(50)))
	})
}

func TestQueue_ToSnapshot(t *testing.T) {
	q := NewSellerQueue()

	q.insertOrder(resting(1, "12", 1))
	q.insertOrder(resting(2, "11", 1))
	q.insertOrder(resting(3, "12", 1))

	snap := q.toSnapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, uint64(2), snap[0].OrderNumber)
	assert.Equal(t, uint64(1), snap[1].OrderNumber)
	assert.Equal(t, uint64(3), snap[2].OrderNumber)
}

func TestQueue_BestPriceOrdering(t *testing.T) {
	bids := NewBuyerQueue()
	asks := NewSellerQueue()

	r := rand.New(rand.NewSource(42))
	for i := 1; i <= 200; i++ {
		price := decimal.New(int64(r.Intn(50000)+1000), -2)
		bids.insertOrder(&RestingOrder{OrderNumber: uint64(i), Price: price, RemainingQuantity: 1})
		asks.insertOrder(&RestingOrder{OrderNumber: uint64(i), Price: price, RemainingQuantity: 1})

		bestBid, _ := bids.bestPrice()
		for _, o := range bids.toSnapshot() {
			assert.True(t, bestBid.GreaterThanOrEqual(o.Price))
		}

		bestAsk, _ := asks.bestPrice()
		for _, o := range asks.toSnapshot() {
			assert.True(t, bestAsk.LessThanOrEqual(o.Price))
		}
	}
}
