package protocol

import "encoding/json"

// CommandType identifies a websocket request.
type CommandType string

const (
	CmdCreateOrder CommandType = "CREATE_ORDER"
	CmdQueryOrder  CommandType = "QUERY_ORDER"
	CmdCancelOrder CommandType = "CANCEL_ORDER"
	CmdModifyOrder CommandType = "MODIFY_ORDER"
	CmdSubscribe   CommandType = "SUBSCRIBE"
)

// ResponseType identifies a websocket response or push.
type ResponseType string

const (
	RespOrderCreated   ResponseType = "ORDER_CREATED"
	RespOrderQueried   ResponseType = "ORDER_QUERIED"
	RespOrderCancelled ResponseType = "ORDER_CANCELLED"
	RespOrderModified  ResponseType = "ORDER_MODIFIED"
	RespSubscribed     ResponseType = "SUBSCRIBED"
	RespEvent          ResponseType = "EVENT"
	RespError          ResponseType = "ERROR"
)

// ErrorCode is the closed set of websocket error codes.
type ErrorCode string

const (
	ErrCodeInvalidMessage    ErrorCode = "INVALID_MESSAGE"
	ErrCodeMissingField      ErrorCode = "MISSING_FIELD"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeOrderNotFound     ErrorCode = "ORDER_NOT_FOUND"
	ErrCodeInternalError     ErrorCode = "INTERNAL_ERROR"
)

// Command is the envelope of every websocket request. Payload is decoded
// lazily once Type is known.
type Command struct {
	Type      CommandType     `json:"type"`
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// CreateOrderCommand is the payload of CREATE_ORDER.
type CreateOrderCommand struct {
	StockCode string `json:"stockCode" validate:"required,max=16"`
	OrderType string `json:"orderType" validate:"required,oneof=BUY SELL"`
	PriceType string `json:"priceType" validate:"omitempty,oneof=LIMIT MARKET"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Price     string `json:"price,omitempty"`
}

// QueryOrderCommand is the payload of QUERY_ORDER.
type QueryOrderCommand struct {
	OrderNumber uint64 `json:"orderNumber" validate:"required"`
}

// CancelOrderCommand is the payload of CANCEL_ORDER.
type CancelOrderCommand struct {
	OriginalOrderNumber uint64 `json:"originalOrderNumber" validate:"required"`
}

// ModifyOrderCommand is the payload of MODIFY_ORDER. Zero quantity or empty
// price keeps the original value.
type ModifyOrderCommand struct {
	OriginalOrderNumber uint64 `json:"originalOrderNumber" validate:"required"`
	Quantity            int64  `json:"quantity,omitempty" validate:"gte=0"`
	Price               string `json:"price,omitempty"`
}

// SubscribeCommand is the payload of SUBSCRIBE.
type SubscribeCommand struct {
	StockCode string `json:"stockCode" validate:"required,max=16"`
}

// Response is the envelope of every websocket response and push.
type Response struct {
	Type      ResponseType `json:"type"`
	RequestID string       `json:"requestId,omitempty"`
	ErrorCode ErrorCode    `json:"errorCode,omitempty"`
	Message   string       `json:"message,omitempty"`
	Data      any          `json:"data,omitempty"`
	Timestamp int64        `json:"timestamp"`
}
