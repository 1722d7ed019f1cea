package match

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// IDGenerator hands out unique, strictly increasing ids.
type IDGenerator interface {
	NextID() (uint64, error)
}

// MatchingService manages one order book per symbol and matches incoming
// orders against them with price-time priority.
type MatchingService struct {
	books     sync.Map // stock code -> *OrderBook
	ids       IDGenerator
	publisher PublishLog
	now       func() time.Time
}

// NewMatchingService creates a matching service. publisher may be nil.
func NewMatchingService(ids IDGenerator, publisher PublishLog) *MatchingService {
	if publisher == nil {
		publisher = NewDiscardPublishLog()
	}
	return &MatchingService{
		ids:       ids,
		publisher: publisher,
		now:       time.Now,
	}
}

// OrderBook returns the book for stockCode, creating it on first use.
func (s *MatchingService) OrderBook(stockCode string) *OrderBook {
	if book, ok := s.books.Load(stockCode); ok {
		return book.(*OrderBook)
	}
	book, _ := s.books.LoadOrStore(stockCode, NewOrderBook(stockCode, s.publisher))
	return book.(*OrderBook)
}

func (s *MatchingService) existingBook(stockCode string) *OrderBook {
	book, ok := s.books.Load(stockCode)
	if !ok {
		return nil
	}
	return book.(*OrderBook)
}

// MatchBuy matches a buy taker against the asks of its symbol.
func (s *MatchingService) MatchBuy(order *Order) (*MatchResult, error) {
	if order.Side != Buy {
		return nil, fmt.Errorf("%w: MatchBuy called with %s order", ErrInvalidParam, order.Side)
	}
	return s.match(order)
}

// MatchSell matches a sell taker against the bids of its symbol.
func (s *MatchingService) MatchSell(order *Order) (*MatchResult, error) {
	if order.Side != Sell {
		return nil, fmt.Errorf("%w: MatchSell called with %s order", ErrInvalidParam, order.Side)
	}
	return s.match(order)
}

// match runs the whole loop under the book lock. The execution price is
// always the maker's price. A partially filled maker goes back to the tail
// of its level. Whatever the taker has left rests on its own side.
//
// If the id allocator fails, the loop stops before the next maker is
// touched and the executions made so far are returned with the error. The
// taker's remainder is not booked in that case.
func (s *MatchingService) match(order *Order) (*MatchResult, error) {
	book := s.OrderBook(order.StockCode)

	book.mu.Lock()
	defer book.mu.Unlock()

	myQueue := book.queueFor(order.Side)
	targetQueue := book.queueFor(order.Side.Opposite())

	result := &MatchResult{
		Executions:        make([]*Execution, 0, 4),
		RemainingQuantity: order.Quantity,
		Counterparties:    make([]Counterparty, 0, 4),
	}
	logs := make([]*OrderBookLog, 0, 8)
	defer func() {
		if len(logs) > 0 {
			book.publisher.Publish(logs...)
			for _, log := range logs {
				releaseBookLog(log)
			}
		}
	}()

	for result.RemainingQuantity > 0 {
		bestPrice, ok := targetQueue.bestPrice()
		if !ok {
			break
		}
		if order.Side == Buy && order.Price.LessThan(bestPrice) {
			break
		}
		if order.Side == Sell && order.Price.GreaterThan(bestPrice) {
			break
		}

		executionID, err := s.ids.NextID()
		if err != nil {
			return result, fmt.Errorf("allocate execution id: %w", err)
		}

		maker := targetQueue.popHeadAt(bestPrice)
		if maker == nil {
			break
		}

		qty := min(result.RemainingQuantity, maker.RemainingQuantity)
		exec := &Execution{
			ExecutionID:      executionID,
			OrderNumber:      order.OrderNumber,
			OrderID:          order.OrderID,
			MakerOrderNumber: maker.OrderNumber,
			StockCode:        order.StockCode,
			Side:             order.Side,
			ExecutedQuantity: qty,
			ExecutedPrice:    maker.Price,
			Timestamp:        s.now().UTC(),
		}
		book.executions.Set(executionID, exec)
		result.Executions = append(result.Executions, exec)

		result.RemainingQuantity -= qty
		maker.RemainingQuantity -= qty
		if maker.RemainingQuantity > 0 {
			targetQueue.insertOrder(maker)
		}

		result.Counterparties = append(result.Counterparties, Counterparty{
			OrderNumber:       maker.OrderNumber,
			RemainingQuantity: maker.RemainingQuantity,
		})
		logs = append(logs, NewMatchLog(book.seqID.Add(1), exec))
	}

	if result.RemainingQuantity > 0 {
		resting := &RestingOrder{
			OrderNumber:       order.OrderNumber,
			OrderID:           order.OrderID,
			Price:             order.Price,
			RemainingQuantity: result.RemainingQuantity,
			OriginalQuantity:  order.Quantity,
			Timestamp:         order.Timestamp,
		}
		myQueue.insertOrder(resting)
		logs = append(logs, NewOpenLog(book.seqID.Add(1), book.stockCode, order.Side, resting))
	}

	return result, nil
}

// Cancel removes a resting order from the given side of a symbol's book.
// Returns false if nothing was removed.
func (s *MatchingService) Cancel(stockCode string, orderNumber uint64, side Side) bool {
	book := s.existingBook(stockCode)
	if book == nil {
		return false
	}
	return book.RemoveByOrderNumber(side, orderNumber) != nil
}

// Snapshot returns the depth view of one symbol. Unknown symbols give an
// empty snapshot.
func (s *MatchingService) Snapshot(stockCode string, depth int) *BookSnapshot {
	book := s.existingBook(stockCode)
	if book == nil {
		return &BookSnapshot{
			StockCode: stockCode,
			AskLevels: []PriceLevel{},
			BidLevels: []PriceLevel{},
		}
	}
	return book.Snapshot(depth)
}

// RestingOrders lists the orders resting on one side of a symbol's book, in
// priority order. Unknown symbols give an empty list.
func (s *MatchingService) RestingOrders(stockCode string, side Side) []RestingOrder {
	book := s.existingBook(stockCode)
	if book == nil {
		return []RestingOrder{}
	}
	return book.RestingOrders(side)
}

// Snapshots returns the depth view of every known symbol.
func (s *MatchingService) Snapshots(depth int) map[string]*BookSnapshot {
	result := make(map[string]*BookSnapshot)
	s.books.Range(func(key, value any) bool {
		result[key.(string)] = value.(*OrderBook).Snapshot(depth)
		return true
	})
	return result
}

// Symbols returns the known symbols in lexical order.
func (s *MatchingService) Symbols() []string {
	symbols := make([]string, 0)
	s.books.Range(func(key, _ any) bool {
		symbols = append(symbols, key.(string))
		return true
	})
	sort.Strings(symbols)
	return symbols
}

// Executions returns every execution across all books ordered by id.
func (s *MatchingService) Executions() []*Execution {
	result := make([]*Execution, 0)
	s.books.Range(func(_, value any) bool {
		result = append(result, value.(*OrderBook).Executions()...)
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExecutionID < result[j].ExecutionID
	})
	return result
}

// ExecutionCount returns the total number of executions.
func (s *MatchingService) ExecutionCount() int {
	count := 0
	s.books.Range(func(_, value any) bool {
		count += value.(*OrderBook).ExecutionCount()
		return true
	})
	return count
}

// Stats returns per-symbol book statistics.
func (s *MatchingService) Stats() map[string]BookStats {
	result := make(map[string]BookStats)
	s.books.Range(func(key, value any) bool {
		result[key.(string)] = value.(*OrderBook).Stats()
		return true
	})
	return result
}
