package match

import (
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatedBook_Replay(t *testing.T) {
	ab := NewAggregatedBook("AAPL")

	logs := []*OrderBookLog{
		{SequenceID: 1, Type: LogTypeOpen, StockCode: "AAPL", Side: Sell, Price: decimal.RequireFromString("10.50"), Quantity: 5},
		{SequenceID: 2, Type: LogTypeOpen, StockCode: "AAPL", Side: Sell, Price: decimal.RequireFromString("10.5"), Quantity: 3},
		{SequenceID: 3, Type: LogTypeOpen, StockCode: "AAPL", Side: Buy, Price: decimal.NewFromInt(9), Quantity: 4},
		{SequenceID: 4, Type: LogTypeMatch, StockCode: "AAPL", Side: Buy, Price: decimal.RequireFromString("10.5"), Quantity: 6},
		{SequenceID: 1, Type: LogTypeStatus, StockCode: "AAPL", Status: StatusFilled},
		{SequenceID: 9, Type: LogTypeOpen, StockCode: "MSFT", Side: Buy, Price: decimal.NewFromInt(1), Quantity: 1},
	}
	for _, log := range logs {
		require.NoError(t, ab.Replay(log))
	}

	assert.Equal(t, uint64(4), ab.SequenceID())
	assert.Equal(t, int64(2), ab.Depth(Sell, decimal.RequireFromString("10.500")))
	assert.Equal(t, int64(4), ab.Depth(Buy, decimal.NewFromInt(9)))

	// duplicates are skipped
	require.NoError(t, ab.Replay(logs[0]))
	assert.Equal(t, int64(2), ab.Depth(Sell, decimal.RequireFromString("10.5")))

	err := ab.Replay(&OrderBookLog{SequenceID: 6, Type: LogTypeCancel, StockCode: "AAPL", Side: Buy, Price: decimal.NewFromInt(9), Quantity: 4})
	assert.ErrorIs(t, err, ErrSequenceGap)
	assert.Equal(t, int64(4), ab.Depth(Buy, decimal.NewFromInt(9)))

	require.NoError(t, ab.Replay(&OrderBookLog{SequenceID: 5, Type: LogTypeCancel, StockCode: "AAPL", Side: Buy, Price: decimal.NewFromInt(9), Quantity: 4}))
	assert.Zero(t, ab.Depth(Buy, decimal.NewFromInt(9)))
	assert.Empty(t, ab.Levels(Buy, 0))

	ab.Reset()
	assert.Zero(t, ab.SequenceID())
	assert.Empty(t, ab.Levels(Sell, 0))
}

func TestAggregatedBook_Levels(t *testing.T) {
	ab := NewAggregatedBook("AAPL")
	for i, p := range []string{"10", "12", "11", "13"} {
		require.NoError(t, ab.Replay(&OrderBookLog{SequenceID: uint64(2*i + 1), Type: LogTypeOpen, StockCode: "AAPL", Side: Buy, Price: decimal.RequireFromString(p), Quantity: 1}))
		require.NoError(t, ab.Replay(&OrderBookLog{SequenceID: uint64(2*i + 2), Type: LogTypeOpen, StockCode: "AAPL", Side: Sell, Price: decimal.RequireFromString(p).Add(decimal.NewFromInt(10)), Quantity: 2}))
	}

	bids := ab.Levels(Buy, 2)
	require.Len(t, bids, 2)
	assert.Equal(t, "13", bids[0].Price.String())
	assert.Equal(t, "12", bids[1].Price.String())

	asks := ab.Levels(Sell, 0)
	require.Len(t, asks, 4)
	assert.Equal(t, "20", asks[0].Price.String())
	assert.Equal(t, "23", asks[3].Price.String())
	assert.Equal(t, int64(2), asks[0].Quantity)
}

// The view rebuilt from events must agree with the book it follows.
func TestAggregatedBook_FollowsMatchingService(t *testing.T) {
	const symbol = "NVDA"
	ab := NewAggregatedBook(symbol)
	svc := NewMatchingService(&counterIDs{}, NewMultiPublishLog(ab, NewAggregatedBook("OTHER")))

	rng := rand.New(rand.NewPCG(7, 11))
	var resting []uint64
	for n := uint64(1); n <= 500; n++ {
		if len(resting) > 0 && rng.IntN(5) == 0 {
			idx := rng.IntN(len(resting))
			number := resting[idx]
			resting = append(resting[:idx], resting[idx+1:]...)
			if !svc.Cancel(symbol, number, Buy) {
				svc.Cancel(symbol, number, Sell)
			}
			continue
		}

		side := Buy
		if rng.IntN(2) == 0 {
			side = Sell
		}
		price := strconv.Itoa(95 + rng.IntN(11))
		order := limitOrder(n, symbol, side, int64(rng.IntN(20)+1), price)

		var (
			result *MatchResult
			err    error
		)
		if side == Buy {
			result, err = svc.MatchBuy(order)
		} else {
			result, err = svc.MatchSell(order)
		}
		require.NoError(t, err)
		if result.RemainingQuantity > 0 {
			resting = append(resting, n)
		}
	}

	snap := svc.Snapshot(symbol, 1000)
	for _, side := range []Side{Buy, Sell} {
		want := snap.AskLevels
		if side == Buy {
			want = snap.BidLevels
		}
		got := ab.Levels(side, 0)
		require.Len(t, got, len(want), side.String())
		for i := range want {
			assert.True(t, want[i].Price.Equal(got[i].Price), side.String())
			assert.Equal(t, want[i].Quantity, got[i].Quantity, side.String())
		}
	}
}

func TestAggregatedBooks(t *testing.T) {
	books := NewAggregatedBooks()
	svc := NewMatchingService(&counterIDs{}, books)

	_, err := svc.MatchSell(limitOrder(1, "AAPL", Sell, 5, "10.5"))
	require.NoError(t, err)
	_, err = svc.MatchBuy(limitOrder(2, "AAPL", Buy, 2, "9"))
	require.NoError(t, err)
	_, err = svc.MatchSell(limitOrder(3, "MSFT", Sell, 7, "300"))
	require.NoError(t, err)
	_, err = svc.MatchBuy(limitOrder(4, "AAPL", Buy, 1, "11"))
	require.NoError(t, err)

	_, ok := books.Book("TSLA")
	assert.False(t, ok)

	aapl, ok := books.Book("AAPL")
	require.True(t, ok)
	snap := aapl.Snapshot(0)
	assert.Equal(t, "AAPL", snap.StockCode)
	require.Len(t, snap.AskLevels, 1)
	assert.Equal(t, int64(4), snap.AskLevels[0].Quantity)
	require.Len(t, snap.BidLevels, 1)
	assert.Equal(t, "10.5", snap.BestAsk.String())
	assert.Equal(t, "9", snap.BestBid.String())
	assert.Equal(t, "1.5", snap.Spread.String())

	msft, ok := books.Book("MSFT")
	require.True(t, ok)
	assert.Equal(t, int64(7), msft.Depth(Sell, decimal.NewFromInt(300)))
	assert.Nil(t, msft.Snapshot(5).Spread)

	// status events never create a view
	books.Publish(&OrderBookLog{Type: LogTypeStatus, StockCode: "NFLX", Status: StatusFilled})
	_, ok = books.Book("NFLX")
	assert.False(t, ok)
}
