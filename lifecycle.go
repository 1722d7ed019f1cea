package match

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Matcher is the part of MatchingService the lifecycle service drives.
type Matcher interface {
	MatchBuy(order *Order) (*MatchResult, error)
	MatchSell(order *Order) (*MatchResult, error)
	Cancel(stockCode string, orderNumber uint64, side Side) bool
	Snapshot(stockCode string, depth int) *BookSnapshot
	Snapshots(depth int) map[string]*BookSnapshot
	RestingOrders(stockCode string, side Side) []RestingOrder
	Executions() []*Execution
	ExecutionCount() int
}

type orderEntry struct {
	mu    sync.Mutex
	order Order
	// reserved marks a number held by a MODIFY that has not claimed its
	// original yet. Readers treat it as absent.
	reserved bool
}

// OrderLifecycleService applies NEW, CANCEL and MODIFY actions and keeps
// the registry of every order number it has seen.
type OrderLifecycleService struct {
	matcher   Matcher
	publisher PublishLog
	orders    sync.Map // order number -> *orderEntry
	seqID     atomic.Uint64
	now       func() time.Time
}

// NewOrderLifecycleService creates the service. publisher may be nil.
func NewOrderLifecycleService(matcher Matcher, publisher PublishLog) *OrderLifecycleService {
	if publisher == nil {
		publisher = NewDiscardPublishLog()
	}
	return &OrderLifecycleService{
		matcher:   matcher,
		publisher: publisher,
		now:       time.Now,
	}
}

// Process applies one order action. Actions against unknown or terminal
// orders are logged and ignored. Errors are returned for invalid NEW orders
// and for id allocation failures, which callers must treat as fatal.
func (s *OrderLifecycleService) Process(order *Order) error {
	if order == nil {
		return ErrInvalidParam
	}

	switch order.Action {
	case ActionNew:
		return s.processNew(order)
	case ActionCancel:
		s.processCancel(order)
		return nil
	case ActionModify:
		return s.processModify(order)
	default:
		logger.Warn("unknown order action", slog.Int("action", int(order.Action)), slog.Uint64("order_number", order.OrderNumber))
		return fmt.Errorf("%w: action %s", ErrInvalidParam, order.Action)
	}
}

func (s *OrderLifecycleService) processNew(order *Order) error {
	if order.OrderNumber == 0 {
		return fmt.Errorf("%w: order number is required", ErrInvalidParam)
	}
	rec, err := s.newRecord(order)
	if err != nil {
		return err
	}

	entry := &orderEntry{order: rec}
	entry.mu.Lock()
	if _, loaded := s.orders.LoadOrStore(rec.OrderNumber, entry); loaded {
		entry.mu.Unlock()
		logger.Warn("duplicate order number, ignoring", slog.Uint64("order_number", rec.OrderNumber))
		return nil
	}
	return s.matchNew(entry)
}

// newRecord validates order and fills the defaults of a registry record.
func (s *OrderLifecycleService) newRecord(order *Order) (Order, error) {
	if err := order.Validate(); err != nil {
		return Order{}, err
	}

	rec := *order
	rec.Action = ActionNew
	rec.Status = StatusPending
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}
	if rec.PriceType == 0 {
		rec.PriceType = Limit
	}
	return rec, nil
}

// matchNew runs a registered, locked entry through the book. The taker's
// entry stays locked until its own status is settled, so a CANCEL or MODIFY
// for it waits until it is resting or filled.
func (s *OrderLifecycleService) matchNew(entry *orderEntry) error {
	rec := entry.order
	s.publishStatus(&entry.order)

	var (
		result *MatchResult
		err    error
	)
	switch rec.Side {
	case Buy:
		result, err = s.matcher.MatchBuy(&rec)
	case Sell:
		result, err = s.matcher.MatchSell(&rec)
	default:
		err = fmt.Errorf("%w: side %s", ErrInvalidParam, rec.Side)
	}

	if err == nil && result != nil && result.RemainingQuantity == 0 {
		entry.order.Status = StatusFilled
		s.publishStatus(&entry.order)
	}
	entry.mu.Unlock()

	if result != nil {
		s.applyCounterparties(result)
	}
	if err != nil {
		return fmt.Errorf("match order %d: %w", rec.OrderNumber, err)
	}
	return nil
}

// applyCounterparties moves every matched maker to FILLED or PENDING
// according to its remaining quantity.
func (s *OrderLifecycleService) applyCounterparties(result *MatchResult) {
	for _, cp := range result.Counterparties {
		status := StatusPending
		if cp.RemainingQuantity == 0 {
			status = StatusFilled
		}
		if _, ok := s.orders.Load(cp.OrderNumber); !ok {
			logger.Warn("counterparty not in registry", slog.Uint64("order_number", cp.OrderNumber))
			continue
		}
		s.transition(cp.OrderNumber, status)
	}
}

func (s *OrderLifecycleService) processCancel(action *Order) {
	original, ok := s.claimOriginal(action, StatusCancelled)
	if !ok {
		return
	}

	if !s.matcher.Cancel(original.StockCode, original.OrderNumber, original.Side) {
		logger.Warn("cancelled order was not resting in the book",
			slog.Uint64("order_number", original.OrderNumber),
			slog.String("stock_code", original.StockCode))
	}
}

func (s *OrderLifecycleService) processModify(action *Order) error {
	if action.OrderNumber == 0 {
		logger.Warn("modify without its own order number, ignoring", slog.Uint64("original_order_number", action.OriginalOrderNumber))
		return nil
	}

	// Hold the replacement's number before touching the original, so a NEW
	// racing for the same number cannot leave the original MODIFIED with no
	// replacement.
	entry := &orderEntry{reserved: true}
	entry.mu.Lock()
	if _, loaded := s.orders.LoadOrStore(action.OrderNumber, entry); loaded {
		entry.mu.Unlock()
		logger.Warn("modify order number already used, ignoring", slog.Uint64("order_number", action.OrderNumber))
		return nil
	}

	original, ok := s.claimOriginal(action, StatusModified)
	if !ok {
		s.release(action.OrderNumber, entry)
		return nil
	}

	s.matcher.Cancel(original.StockCode, original.OrderNumber, original.Side)

	replacement := &Order{
		OrderID:     action.OrderID,
		OrderNumber: action.OrderNumber,
		StockCode:   original.StockCode,
		Side:        original.Side,
		Quantity:    original.Quantity,
		Price:       original.Price,
		PriceType:   original.PriceType,
		Timestamp:   action.Timestamp,
		Action:      ActionNew,
	}
	if action.Quantity > 0 {
		replacement.Quantity = action.Quantity
	}
	if action.Price.IsPositive() {
		replacement.Price = action.Price
	}
	if len(replacement.OrderID) == 0 {
		replacement.OrderID = NewOrderID()
	}

	rec, err := s.newRecord(replacement)
	if err != nil {
		s.release(action.OrderNumber, entry)
		return err
	}
	entry.order = rec
	entry.reserved = false
	return s.matchNew(entry)
}

// release drops a reservation that never became an order. entry must be
// locked by the caller.
func (s *OrderLifecycleService) release(orderNumber uint64, entry *orderEntry) {
	s.orders.CompareAndDelete(orderNumber, entry)
	entry.mu.Unlock()
}

// claimOriginal moves the order referenced by action to the terminal status
// to. It reports false, after logging, when the reference is missing,
// unknown or already terminal.
func (s *OrderLifecycleService) claimOriginal(action *Order, to Status) (Order, bool) {
	if action.OriginalOrderNumber == 0 {
		logger.Warn("order action without original order number, ignoring", slog.String("action", action.Action.String()))
		return Order{}, false
	}

	value, ok := s.orders.Load(action.OriginalOrderNumber)
	if !ok {
		logger.Warn("original order not found, ignoring",
			slog.String("action", action.Action.String()),
			slog.Uint64("original_order_number", action.OriginalOrderNumber))
		return Order{}, false
	}

	entry := value.(*orderEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.reserved {
		logger.Warn("original order not found, ignoring",
			slog.String("action", action.Action.String()),
			slog.Uint64("original_order_number", action.OriginalOrderNumber))
		return Order{}, false
	}
	if entry.order.Status.IsTerminal() {
		logger.Warn("original order already terminal, ignoring",
			slog.String("action", action.Action.String()),
			slog.Uint64("original_order_number", action.OriginalOrderNumber),
			slog.String("status", entry.order.Status.String()))
		return Order{}, false
	}

	entry.order.Status = to
	s.publishStatus(&entry.order)
	return entry.order, true
}

// transition sets a non-terminal order to status. Terminal orders are left
// alone. Reports whether the status changed.
func (s *OrderLifecycleService) transition(orderNumber uint64, status Status) bool {
	value, ok := s.orders.Load(orderNumber)
	if !ok {
		return false
	}

	entry := value.(*orderEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.reserved || entry.order.Status.IsTerminal() || entry.order.Status == status {
		return false
	}
	entry.order.Status = status
	s.publishStatus(&entry.order)
	return true
}

func (s *OrderLifecycleService) publishStatus(order *Order) {
	log := NewStatusLog(s.seqID.Add(1), order)
	s.publisher.Publish(log)
	releaseBookLog(log)
}

// GetOrder returns a copy of the registry record for orderNumber.
func (s *OrderLifecycleService) GetOrder(orderNumber uint64) (*Order, bool) {
	value, ok := s.orders.Load(orderNumber)
	if !ok {
		return nil, false
	}

	entry := value.(*orderEntry)
	entry.mu.Lock()
	order, reserved := entry.order, entry.reserved
	entry.mu.Unlock()
	if reserved {
		return nil, false
	}
	return &order, true
}

// GetAllOrders returns copies of every registry record ordered by order number.
func (s *OrderLifecycleService) GetAllOrders() []*Order {
	orders := make([]*Order, 0)
	s.orders.Range(func(_, value any) bool {
		entry := value.(*orderEntry)
		entry.mu.Lock()
		order, reserved := entry.order, entry.reserved
		entry.mu.Unlock()
		if !reserved {
			orders = append(orders, &order)
		}
		return true
	})
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].OrderNumber < orders[j].OrderNumber
	})
	return orders
}

// GetStats counts registry records by status.
func (s *OrderLifecycleService) GetStats() Stats {
	var stats Stats
	s.orders.Range(func(_, value any) bool {
		entry := value.(*orderEntry)
		entry.mu.Lock()
		status, reserved := entry.order.Status, entry.reserved
		entry.mu.Unlock()
		if reserved {
			return true
		}

		stats.TotalOrders++
		switch status {
		case StatusPending:
			stats.PendingOrders++
		case StatusFilled:
			stats.FilledOrders++
		case StatusCancelled:
			stats.CancelledOrders++
		case StatusModified:
			stats.ModifiedOrders++
		default:
			logger.Warn("unknown order status in registry", slog.Int("status", int(status)))
		}
		return true
	})
	stats.TotalExecutions = s.matcher.ExecutionCount()
	return stats
}

// Executions returns every execution ordered by id.
func (s *OrderLifecycleService) Executions() []*Execution {
	return s.matcher.Executions()
}

// Snapshot returns the depth view of one symbol.
func (s *OrderLifecycleService) Snapshot(stockCode string, depth int) *BookSnapshot {
	return s.matcher.Snapshot(stockCode, depth)
}

// Snapshots returns the depth view of every known symbol.
func (s *OrderLifecycleService) Snapshots(depth int) map[string]*BookSnapshot {
	return s.matcher.Snapshots(depth)
}

// RestingOrders lists the orders waiting on one side of a book.
func (s *OrderLifecycleService) RestingOrders(stockCode string, side Side) []RestingOrder {
	return s.matcher.RestingOrders(stockCode, side)
}
