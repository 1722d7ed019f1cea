package match

import (
	"sync"
	"sync/atomic"

	"github.com/igrmk/treemap/v2"
	"github.com/shopspring/decimal"
)

// OrderBook holds the resting orders of one symbol and the executions
// produced against it. All reads and writes go through mu; the matching
// service holds it for a whole match loop and uses the unexported queues
// directly.
type OrderBook struct {
	mu         sync.Mutex
	stockCode  string
	seqID      atomic.Uint64 // increases for every log the book produces
	bidQueue   *queue
	askQueue   *queue
	executions *treemap.TreeMap[uint64, *Execution]
	publisher  PublishLog
}

// NewOrderBook creates an empty book for stockCode.
func NewOrderBook(stockCode string, publisher PublishLog) *OrderBook {
	if publisher == nil {
		publisher = NewDiscardPublishLog()
	}
	return &OrderBook{
		stockCode:  stockCode,
		bidQueue:   NewBuyerQueue(),
		askQueue:   NewSellerQueue(),
		executions: treemap.New[uint64, *Execution](),
		publisher:  publisher,
	}
}

// StockCode returns the symbol this book serves.
func (book *OrderBook) StockCode() string {
	return book.stockCode
}

func (book *OrderBook) queueFor(side Side) *queue {
	if side == Buy {
		return book.bidQueue
	}
	return book.askQueue
}

// AddRestingOrder appends order at the tail of its price level on side.
func (book *OrderBook) AddRestingOrder(side Side, order *RestingOrder) {
	book.mu.Lock()
	defer book.mu.Unlock()

	book.queueFor(side).insertOrder(order)

	log := NewOpenLog(book.seqID.Add(1), book.stockCode, side, order)
	book.publisher.Publish(log)
	releaseBookLog(log)
}

// BestPrice returns the best price on side, or false if the side is empty.
func (book *OrderBook) BestPrice(side Side) (decimal.Decimal, bool) {
	book.mu.Lock()
	defer book.mu.Unlock()
	return book.queueFor(side).bestPrice()
}

// BestQueue returns copies of the orders at the best level of side, oldest first.
func (book *OrderBook) BestQueue(side Side) []RestingOrder {
	book.mu.Lock()
	defer book.mu.Unlock()
	return book.queueFor(side).bestOrders()
}

// PopHeadAt removes and returns the oldest order resting at price on side.
// Returns nil if the level does not exist.
func (book *OrderBook) PopHeadAt(side Side, price decimal.Decimal) *RestingOrder {
	book.mu.Lock()
	defer book.mu.Unlock()
	return book.queueFor(side).popHeadAt(price)
}

// RemoveByOrderNumber removes the order from side and publishes a cancel log.
// Returns nil if the order is not resting there.
func (book *OrderBook) RemoveByOrderNumber(side Side, orderNumber uint64) *RestingOrder {
	book.mu.Lock()
	defer book.mu.Unlock()

	order := book.queueFor(side).removeOrder(orderNumber)
	if order == nil {
		return nil
	}

	log := NewCancelLog(book.seqID.Add(1), book.stockCode, side, order)
	book.publisher.Publish(log)
	releaseBookLog(log)
	return order
}

// Snapshot returns the top depth levels of both sides. depth <= 0 means
// DefaultSnapshotDepth.
func (book *OrderBook) Snapshot(depth int) *BookSnapshot {
	if depth <= 0 {
		depth = DefaultSnapshotDepth
	}

	book.mu.Lock()
	defer book.mu.Unlock()

	snap := &BookSnapshot{
		StockCode: book.stockCode,
		AskLevels: book.askQueue.depth(depth),
		BidLevels: book.bidQueue.depth(depth),
	}

	if ask, ok := book.askQueue.bestPrice(); ok {
		snap.BestAsk = &ask
	}
	if bid, ok := book.bidQueue.bestPrice(); ok {
		snap.BestBid = &bid
	}
	if snap.BestAsk != nil && snap.BestBid != nil {
		spread := snap.BestAsk.Sub(*snap.BestBid)
		snap.Spread = &spread
	}

	return snap
}

// Stats returns level and order counts for both sides.
func (book *OrderBook) Stats() BookStats {
	book.mu.Lock()
	defer book.mu.Unlock()

	return BookStats{
		AskDepthCount: book.askQueue.depthCount(),
		AskOrderCount: book.askQueue.orderCount(),
		BidDepthCount: book.bidQueue.depthCount(),
		BidOrderCount: book.bidQueue.orderCount(),
	}
}

// RestingOrders lists every order on side in priority order.
func (book *OrderBook) RestingOrders(side Side) []RestingOrder {
	book.mu.Lock()
	defer book.mu.Unlock()
	return book.queueFor(side).toSnapshot()
}

// Executions returns the executions of this book ordered by execution id.
func (book *OrderBook) Executions() []*Execution {
	book.mu.Lock()
	defer book.mu.Unlock()
	return book.executionsLocked()
}

func (book *OrderBook) executionsLocked() []*Execution {
	result := make([]*Execution, 0, book.executions.Len())
	for it := book.executions.Iterator(); it.Valid(); it.Next() {
		result = append(result, it.Value())
	}
	return result
}

// ExecutionCount returns the number of executions against this book.
func (book *OrderBook) ExecutionCount() int {
	book.mu.Lock()
	defer book.mu.Unlock()
	return book.executions.Len()
}
