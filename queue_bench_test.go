package match

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func BenchmarkQueueInsertManyLevels(b *testing.B) {
	q := NewBuyerQueue()
	prices := make([]decimal.Decimal, 1024)
	for i := range prices {
		prices[i] = decimal.NewFromInt(int64(rand.Intn(100000000)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.insertOrder(&RestingOrder{
			OrderNumber:       uint64(i + 1),
			Price:             prices[i%len(prices)],
			RemainingQuantity: 1,
			OriginalQuantity:  1,
		})
	}
	b.StopTimer()
	b.Logf("depth count: %d", q.depthCount())
}

func BenchmarkQueueInsertSameLevel(b *testing.B) {
	q := NewSellerQueue()
	price := decimal.NewFromInt(10)

	for i := 0; i < b.N; i++ {
		q.insertOrder(&RestingOrder{
			OrderNumber:       uint64(i + 1),
			Price:             price,
			RemainingQuantity: 2,
			OriginalQuantity:  2,
		})
	}
}

func BenchmarkQueuePopHead(b *testing.B) {
	q := NewBuyerQueue()
	for i := 0; i < b.N; i++ {
		q.insertOrder(&RestingOrder{
			OrderNumber:       uint64(i + 1),
			Price:             decimal.NewFromInt(int64(rand.Intn(1000) + 1)),
			RemainingQuantity: 1,
			OriginalQuantity:  1,
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		price, ok := q.bestPrice()
		if !ok {
			break
		}
		q.popHeadAt(price)
	}
}

func BenchmarkQueueRemoveByNumber(b *testing.B) {
	q := NewSellerQueue()
	for i := 0; i < b.N; i++ {
		q.insertOrder(&RestingOrder{
			OrderNumber:       uint64(i + 1),
			Price:             decimal.NewFromInt(int64(i%100 + 1)),
			RemainingQuantity: 1,
			OriginalQuantity:  1,
		})
	}
	order := rand.Perm(b.N)

	b.ResetTimer()
	for _, idx := range order {
		q.removeOrder(uint64(idx + 1))
	}
}
