package match

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/igrmk/treemap/v2"
	"github.com/shopspring/decimal"
)

// ErrSequenceGap is returned by Replay when an event is missing.
var ErrSequenceGap = errors.New("match: sequence gap")

// AggregatedBook maintains a simplified view of one symbol's book,
// tracking only price levels and their aggregated quantity. It is rebuilt
// from the open, match and cancel events of that book, as a consumer of the
// event topic would do.
type AggregatedBook struct {
	mu        sync.RWMutex
	stockCode string
	seqID     uint64 // last applied SequenceID
	ask       *treemap.TreeMap[decimal.Decimal, int64]
	bid       *treemap.TreeMap[decimal.Decimal, int64]
}

func NewAggregatedBook(stockCode string) *AggregatedBook {
	ab := &AggregatedBook{stockCode: stockCode}
	ab.Reset()
	return ab
}

func priceLess(a, b decimal.Decimal) bool {
	return a.LessThan(b)
}

// Reset drops all levels and the sequence position.
func (ab *AggregatedBook) Reset() {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.seqID = 0
	ab.ask = treemap.NewWithKeyCompare[decimal.Decimal, int64](priceLess)
	ab.bid = treemap.NewWithKeyCompare[decimal.Decimal, int64](priceLess)
}

// SequenceID returns the last applied sequence ID.
func (ab *AggregatedBook) SequenceID() uint64 {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return ab.seqID
}

// Publish implements PublishLog so the view can follow a book directly.
// Replay errors are logged.
func (ab *AggregatedBook) Publish(logs ...*OrderBookLog) {
	for _, log := range logs {
		if err := ab.Replay(log); err != nil {
			logger.Error("aggregated book replay failed",
				slog.String("stock_code", ab.stockCode),
				slog.Uint64("seq_id", log.SequenceID),
				slog.Any("error", err))
		}
	}
}

// Replay applies one event. Status events and events of other symbols are
// ignored, as are events already applied. A skipped sequence ID returns
// ErrSequenceGap and leaves the view unchanged.
func (ab *AggregatedBook) Replay(log *OrderBookLog) error {
	if log.Type == LogTypeStatus || log.StockCode != ab.stockCode {
		return nil
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	if log.SequenceID <= ab.seqID {
		return nil
	}
	if log.SequenceID != ab.seqID+1 {
		return fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, ab.seqID+1, log.SequenceID)
	}

	switch log.Type {
	case LogTypeOpen:
		ab.add(log.Side, log.Price, log.Quantity)
	case LogTypeMatch:
		// Side is the taker's; the filled quantity leaves the maker's side.
		ab.add(log.Side.Opposite(), log.Price, -log.Quantity)
	case LogTypeCancel:
		ab.add(log.Side, log.Price, -log.Quantity)
	default:
		return fmt.Errorf("%w: log type %q", ErrInvalidParam, log.Type)
	}

	ab.seqID = log.SequenceID
	return nil
}

func (ab *AggregatedBook) tree(side Side) *treemap.TreeMap[decimal.Decimal, int64] {
	if side == Buy {
		return ab.bid
	}
	return ab.ask
}

func (ab *AggregatedBook) add(side Side, price decimal.Decimal, qty int64) {
	tree := ab.tree(side)
	total, _ := tree.Get(price)
	total += qty
	if total <= 0 {
		tree.Del(price)
		return
	}
	tree.Set(price, total)
}

// Depth returns the aggregated quantity at price on side, zero if the level
// does not exist.
func (ab *AggregatedBook) Depth(side Side, price decimal.Decimal) int64 {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	qty, _ := ab.tree(side).Get(price)
	return qty
}

// Snapshot renders the view in the same shape as OrderBook.Snapshot.
// OrderCount is always zero.
func (ab *AggregatedBook) Snapshot(depth int) *BookSnapshot {
	if depth <= 0 {
		depth = DefaultSnapshotDepth
	}
	snap := &BookSnapshot{
		StockCode: ab.stockCode,
		AskLevels: ab.Levels(Sell, depth),
		BidLevels: ab.Levels(Buy, depth),
	}
	if len(snap.AskLevels) > 0 {
		snap.BestAsk = &snap.AskLevels[0].Price
	}
	if len(snap.BidLevels) > 0 {
		snap.BestBid = &snap.BidLevels[0].Price
	}
	if snap.BestAsk != nil && snap.BestBid != nil {
		spread := snap.BestAsk.Sub(*snap.BestBid)
		snap.Spread = &spread
	}
	return snap
}

// Levels returns up to limit levels of side, best price first. limit <= 0
// returns every level. OrderCount is not tracked.
func (ab *AggregatedBook) Levels(side Side, limit int) []PriceLevel {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	tree := ab.tree(side)
	if limit <= 0 || limit > tree.Len() {
		limit = tree.Len()
	}
	levels := make([]PriceLevel, 0, limit)

	if side == Buy {
		for it := tree.Reverse(); it.Valid() && len(levels) < limit; it.Next() {
			levels = append(levels, PriceLevel{Price: it.Key(), Quantity: it.Value()})
		}
		return levels
	}
	for it := tree.Iterator(); it.Valid() && len(levels) < limit; it.Next() {
		levels = append(levels, PriceLevel{Price: it.Key(), Quantity: it.Value()})
	}
	return levels
}

// AggregatedBooks keeps one AggregatedBook per symbol, created on the
// symbol's first event. It must see a book's events from its first one.
type AggregatedBooks struct {
	books sync.Map // stockCode -> *AggregatedBook
}

func NewAggregatedBooks() *AggregatedBooks {
	return &AggregatedBooks{}
}

// Publish implements PublishLog.
func (a *AggregatedBooks) Publish(logs ...*OrderBookLog) {
	for _, log := range logs {
		if log.Type == LogTypeStatus {
			continue
		}
		v, _ := a.books.LoadOrStore(log.StockCode, NewAggregatedBook(log.StockCode))
		v.(*AggregatedBook).Publish(log)
	}
}

// Book returns the view of stockCode, if any event of it was seen.
func (a *AggregatedBooks) Book(stockCode string) (*AggregatedBook, bool) {
	v, ok := a.books.Load(stockCode)
	if !ok {
		return nil, false
	}
	return v.(*AggregatedBook), true
}
