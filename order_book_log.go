package match

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// LogType represents the type of event log.
type LogType string

const (
	LogTypeOpen   LogType = "open"
	LogTypeMatch  LogType = "match"
	LogTypeCancel LogType = "cancel"
	LogTypeStatus LogType = "status"
)

// OrderBookLog represents an event produced by the matcher or the lifecycle
// service. SequenceID increases per book for open, match and cancel events and
// per lifecycle service for status events.
type OrderBookLog struct {
	SequenceID       uint64          `json:"seqId"`
	ExecutionID      uint64          `json:"executionId,omitempty"` // only set for match events
	Type             LogType         `json:"type"`
	StockCode        string          `json:"stockCode"`
	Side             Side            `json:"orderType,omitempty"`
	Price            decimal.Decimal `json:"price"`
	Quantity         int64           `json:"quantity"`
	OrderNumber      uint64          `json:"orderNumber"`
	OrderID          string          `json:"orderId,omitempty"`
	MakerOrderNumber uint64          `json:"makerOrderNumber,omitempty"`
	Status           Status          `json:"status,omitempty"` // only set for status events
	CreatedAt        time.Time       `json:"createdAt"`
}

var bookLogPool = sync.Pool{
	New: func() any {
		return new(OrderBookLog)
	},
}

func acquireBookLog() *OrderBookLog {
	return bookLogPool.Get().(*OrderBookLog)
}

func releaseBookLog(log *OrderBookLog) {
	*log = OrderBookLog{}
	bookLogPool.Put(log)
}

// NewOpenLog records a remainder coming to rest in the book.
func NewOpenLog(seqID uint64, stockCode string, side Side, order *RestingOrder) *OrderBookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeOpen
	log.StockCode = stockCode
	log.Side = side
	log.Price = order.Price
	log.Quantity = order.RemainingQuantity
	log.OrderNumber = order.OrderNumber
	log.OrderID = order.OrderID
	log.CreatedAt = time.Now().UTC()
	return log
}

// NewMatchLog records one execution.
func NewMatchLog(seqID uint64, exec *Execution) *OrderBookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.ExecutionID = exec.ExecutionID
	log.Type = LogTypeMatch
	log.StockCode = exec.StockCode
	log.Side = exec.Side
	log.Price = exec.ExecutedPrice
	log.Quantity = exec.ExecutedQuantity
	log.OrderNumber = exec.OrderNumber
	log.OrderID = exec.OrderID
	log.MakerOrderNumber = exec.MakerOrderNumber
	log.CreatedAt = exec.Timestamp
	return log
}

// NewCancelLog records a resting order leaving the book without a fill.
func NewCancelLog(seqID uint64, stockCode string, side Side, order *RestingOrder) *OrderBookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeCancel
	log.StockCode = stockCode
	log.Side = side
	log.Price = order.Price
	log.Quantity = order.RemainingQuantity
	log.OrderNumber = order.OrderNumber
	log.OrderID = order.OrderID
	log.CreatedAt = time.Now().UTC()
	return log
}

// NewStatusLog records an order status transition.
func NewStatusLog(seqID uint64, order *Order) *OrderBookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeStatus
	log.StockCode = order.StockCode
	log.Side = order.Side
	log.Price = order.Price
	log.Quantity = order.Quantity
	log.OrderNumber = order.OrderNumber
	log.OrderID = order.OrderID
	log.Status = order.Status
	log.CreatedAt = time.Now().UTC()
	return log
}
