package match

import (
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

// Side is the BUY/SELL side of an order. When used to address a book side,
// Buy selects the bids and Sell selects the asks.
type Side int8

const (
	Buy  Side = 1
	Sell Side = 2
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int8(s))
	}
}

// IsValid reports whether s is one of the declared sides.
func (s Side) IsValid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the side a taker on s matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: side %d", ErrInvalidParam, int8(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "BUY":
		*s = Buy
	case "SELL":
		*s = Sell
	default:
		return fmt.Errorf("%w: side %q", ErrInvalidParam, b)
	}
	return nil
}

// PriceType tells how the price was obtained. Market orders carry a price
// resolved by the caller before they reach the matcher.
type PriceType int8

const (
	Limit  PriceType = 1
	Market PriceType = 2
)

func (p PriceType) String() string {
	switch p {
	case Limit:
		return "LIMIT"
	case Market:
		return "MARKET"
	default:
		return fmt.Sprintf("PriceType(%d)", int8(p))
	}
}

func (p PriceType) IsValid() bool {
	return p == Limit || p == Market
}

func (p PriceType) MarshalText() ([]byte, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("%w: price type %d", ErrInvalidParam, int8(p))
	}
	return []byte(p.String()), nil
}

func (p *PriceType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "LIMIT":
		*p = Limit
	case "MARKET":
		*p = Market
	default:
		return fmt.Errorf("%w: price type %q", ErrInvalidParam, b)
	}
	return nil
}

// Action is the kind of order action delivered to Process.
type Action int8

const (
	ActionNew    Action = 1
	ActionCancel Action = 2
	ActionModify Action = 3
)

func (a Action) String() string {
	switch a {
	case ActionNew:
		return "NEW"
	case ActionCancel:
		return "CANCEL"
	case ActionModify:
		return "MODIFY"
	default:
		return fmt.Sprintf("Action(%d)", int8(a))
	}
}

func (a Action) IsValid() bool {
	return a == ActionNew || a == ActionCancel || a == ActionModify
}

func (a Action) MarshalText() ([]byte, error) {
	if !a.IsValid() {
		return nil, fmt.Errorf("%w: action %d", ErrInvalidParam, int8(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	switch string(b) {
	case "NEW":
		*a = ActionNew
	case "CANCEL":
		*a = ActionCancel
	case "MODIFY":
		*a = ActionModify
	default:
		return fmt.Errorf("%w: action %q", ErrInvalidParam, b)
	}
	return nil
}

// Status is the lifecycle state of an order number. PENDING is the only
// non-terminal state.
type Status int8

const (
	StatusPending   Status = 1
	StatusFilled    Status = 2
	StatusCancelled Status = 3
	StatusModified  Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusModified:
		return "MODIFIED"
	default:
		return fmt.Sprintf("Status(%d)", int8(s))
	}
}

func (s Status) IsValid() bool {
	return s >= StatusPending && s <= StatusModified
}

// IsTerminal reports whether no further action may change the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusModified:
		return true
	case StatusPending:
		return false
	default:
		return false
	}
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidParam, int8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "PENDING":
		*s = StatusPending
	case "FILLED":
		*s = StatusFilled
	case "CANCELLED":
		*s = StatusCancelled
	case "MODIFIED":
		*s = StatusModified
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidParam, b)
	}
	return nil
}

// Order is an order action as delivered to the lifecycle service, and the
// registry record kept for every order number afterwards.
type Order struct {
	OrderID             string          `json:"orderId"`
	OrderNumber         uint64          `json:"orderNumber"`
	StockCode           string          `json:"stockCode"`
	Side                Side            `json:"orderType"`
	Quantity            int64           `json:"quantity"`
	Price               decimal.Decimal `json:"price"`
	PriceType           PriceType       `json:"priceType"`
	Timestamp           time.Time       `json:"orderTime"`
	Status              Status          `json:"status"`
	Action              Action          `json:"action"`
	OriginalOrderNumber uint64          `json:"originalOrderNumber,omitempty"` // required for CANCEL and MODIFY
}

// NewOrderID returns a fresh opaque order id.
func NewOrderID() string {
	return xid.New().String()
}

// Validate checks the fields a NEW order needs before it may be matched.
func (o *Order) Validate() error {
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidParam)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidParam)
	}
	if len(o.StockCode) == 0 {
		return fmt.Errorf("%w: stock code is required", ErrInvalidParam)
	}
	if !o.Side.IsValid() {
		return fmt.Errorf("%w: side is required", ErrInvalidParam)
	}
	return nil
}

// RestingOrder is an unmatched remainder waiting in a price level.
type RestingOrder struct {
	OrderNumber       uint64          `json:"orderNumber"`
	OrderID           string          `json:"orderId"`
	Price             decimal.Decimal `json:"price"`
	RemainingQuantity int64           `json:"remainingQuantity"`
	OriginalQuantity  int64           `json:"originalQuantity"`
	Timestamp         time.Time       `json:"orderTime"`

	// Intrusive FIFO pointers inside one price level.
	next *RestingOrder
	prev *RestingOrder
}

// Execution is one fill of a taker against one maker. Immutable once created.
type Execution struct {
	ExecutionID      uint64          `json:"executionId"`
	OrderNumber      uint64          `json:"orderNumber"`
	OrderID          string          `json:"orderId"`
	MakerOrderNumber uint64          `json:"makerOrderNumber"`
	StockCode        string          `json:"stockCode"`
	Side             Side            `json:"orderType"`
	ExecutedQuantity int64           `json:"executedQuantity"`
	ExecutedPrice    decimal.Decimal `json:"executedPrice"`
	Timestamp        time.Time       `json:"executionTime"`
}

// Counterparty reports how much of a matched maker is left after a match.
type Counterparty struct {
	OrderNumber       uint64 `json:"orderNumber"`
	RemainingQuantity int64  `json:"remainingQuantity"`
}

// MatchResult is the outcome of matching one taker.
type MatchResult struct {
	Executions        []*Execution   `json:"executions"`
	RemainingQuantity int64          `json:"remainingQuantity"`
	Counterparties    []Counterparty `json:"matchedOrders"`
}

// PriceLevel is an aggregated, read-only view of one price in the book.
type PriceLevel struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   int64           `json:"quantity"`
	OrderCount int64           `json:"orderCount"`
}

// BookSnapshot is the depth view of one symbol.
type BookSnapshot struct {
	StockCode string           `json:"stockCode"`
	AskLevels []PriceLevel     `json:"askLevels"` // lowest price first
	BidLevels []PriceLevel     `json:"bidLevels"` // highest price first
	BestAsk   *decimal.Decimal `json:"bestAsk"`
	BestBid   *decimal.Decimal `json:"bestBid"`
	Spread    *decimal.Decimal `json:"spread"`
}

// BookStats contains statistics about the book sides.
type BookStats struct {
	AskDepthCount int64 `json:"askDepthCount"`
	AskOrderCount int64 `json:"askOrderCount"`
	BidDepthCount int64 `json:"bidDepthCount"`
	BidOrderCount int64 `json:"bidOrderCount"`
}

// Stats summarises the order registry.
type Stats struct {
	TotalOrders     int `json:"totalOrders"`
	PendingOrders   int `json:"pendingOrders"`
	FilledOrders    int `json:"filledOrders"`
	CancelledOrders int `json:"cancelledOrders"`
	ModifiedOrders  int `json:"modifiedOrders"`
	TotalExecutions int `json:"totalExecutions"`
}
