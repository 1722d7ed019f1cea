package protocol

// Wire values of the order enums.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	PriceTypeLimit  = "LIMIT"
	PriceTypeMarket = "MARKET"

	ActionNew    = "NEW"
	ActionCancel = "CANCEL"
	ActionModify = "MODIFY"
)

// OrderMessage is an order action as carried on the order topic.
// Price is a string to prevent precision loss in JSON.
type OrderMessage struct {
	OrderID             string `json:"orderId"`
	OrderNumber         uint64 `json:"orderNumber"`
	StockCode           string `json:"stockCode"`
	OrderType           string `json:"orderType"` // BUY or SELL
	Quantity            int64  `json:"quantity"`
	Price               string `json:"price"`
	PriceType           string `json:"priceType"`
	OrderTime           int64  `json:"orderTime"` // unix milliseconds
	Status              string `json:"status,omitempty"`
	Action              string `json:"action"`
	OriginalOrderNumber uint64 `json:"originalOrderNumber,omitempty"`
}

type DepthItem struct {
	Price      string `json:"price"`
	Quantity   int64  `json:"quantity"`
	OrderCount int64  `json:"orderCount"`
}

// GetDepthResponse is the depth view of one symbol.
type GetDepthResponse struct {
	StockCode string       `json:"stockCode"`
	Asks      []*DepthItem `json:"askLevels"`
	Bids      []*DepthItem `json:"bidLevels"`
	BestAsk   *string      `json:"bestAsk"`
	BestBid   *string      `json:"bestBid"`
	Spread    *string      `json:"spread"`
}
