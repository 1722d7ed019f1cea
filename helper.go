package match

import (
	"fmt"
	"time"

	"github.com/0x5487/mocktrading/protocol"
	"github.com/shopspring/decimal"
)

// OrderFromMessage converts a wire message into an order action. CANCEL
// actions may carry an empty symbol and price.
func OrderFromMessage(msg *protocol.OrderMessage) (*Order, error) {
	order := &Order{
		OrderID:             msg.OrderID,
		OrderNumber:         msg.OrderNumber,
		StockCode:           msg.StockCode,
		Quantity:            msg.Quantity,
		OriginalOrderNumber: msg.OriginalOrderNumber,
	}

	if err := order.Action.UnmarshalText([]byte(msg.Action)); err != nil {
		return nil, err
	}

	if len(msg.OrderType) > 0 {
		if err := order.Side.UnmarshalText([]byte(msg.OrderType)); err != nil {
			return nil, err
		}
	}

	order.PriceType = Limit
	if len(msg.PriceType) > 0 {
		if err := order.PriceType.UnmarshalText([]byte(msg.PriceType)); err != nil {
			return nil, err
		}
	}

	if len(msg.Status) > 0 {
		if err := order.Status.UnmarshalText([]byte(msg.Status)); err != nil {
			return nil, err
		}
	}

	if len(msg.Price) > 0 {
		price, err := decimal.NewFromString(msg.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: price %q", ErrInvalidParam, msg.Price)
		}
		order.Price = price
	}

	if msg.OrderTime > 0 {
		order.Timestamp = time.UnixMilli(msg.OrderTime).UTC()
	}

	return order, nil
}

// MessageFromOrder converts an order action into its wire message.
func MessageFromOrder(order *Order) *protocol.OrderMessage {
	msg := &protocol.OrderMessage{
		OrderID:             order.OrderID,
		OrderNumber:         order.OrderNumber,
		StockCode:           order.StockCode,
		Quantity:            order.Quantity,
		Action:              order.Action.String(),
		OriginalOrderNumber: order.OriginalOrderNumber,
	}

	if order.Side.IsValid() {
		msg.OrderType = order.Side.String()
	}
	if order.PriceType.IsValid() {
		msg.PriceType = order.PriceType.String()
	}
	if order.Status.IsValid() {
		msg.Status = order.Status.String()
	}
	if !order.Price.IsZero() {
		msg.Price = order.Price.String()
	}
	if !order.Timestamp.IsZero() {
		msg.OrderTime = order.Timestamp.UnixMilli()
	}

	return msg
}

// DepthResponseFromSnapshot renders a snapshot with string prices.
func DepthResponseFromSnapshot(snap *BookSnapshot) *protocol.GetDepthResponse {
	resp := &protocol.GetDepthResponse{
		StockCode: snap.StockCode,
		Asks:      depthItems(snap.AskLevels),
		Bids:      depthItems(snap.BidLevels),
		BestAsk:   decimalString(snap.BestAsk),
		BestBid:   decimalString(snap.BestBid),
		Spread:    decimalString(snap.Spread),
	}
	return resp
}

func depthItems(levels []PriceLevel) []*protocol.DepthItem {
	items := make([]*protocol.DepthItem, 0, len(levels))
	for _, level := range levels {
		items = append(items, &protocol.DepthItem{
			Price:      level.Price.String(),
			Quantity:   level.Quantity,
			OrderCount: level.OrderCount,
		})
	}
	return items
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
