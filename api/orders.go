package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"

	match "github.com/0x5487/mocktrading"
	"github.com/0x5487/mocktrading/protocol"
	"github.com/0x5487/mocktrading/quote"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

var errQuoteUnavailable = errors.New("api: quote unavailable")

// bulkStockCodes are the symbols used by the random order generators.
var bulkStockCodes = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "TSLA", "META", "NVDA", "NFLX"}

const maxBulkCount = 10000

// newOrder builds a NEW action from a create request. MARKET orders take
// the last close as their price.
func (s *Server) newOrder(ctx context.Context, req *protocol.CreateOrderCommand) (*match.Order, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	order := &match.Order{
		OrderID:   match.NewOrderID(),
		StockCode: req.StockCode,
		Quantity:  req.Quantity,
		PriceType: match.Limit,
		Action:    match.ActionNew,
		Status:    match.StatusPending,
		Timestamp: s.now().UTC(),
	}
	if err := order.Side.UnmarshalText([]byte(req.OrderType)); err != nil {
		return nil, err
	}
	if len(req.PriceType) > 0 {
		if err := order.PriceType.UnmarshalText([]byte(req.PriceType)); err != nil {
			return nil, err
		}
	}

	switch order.PriceType {
	case match.Market:
		price, err := s.marketPrice(ctx, req.StockCode)
		if err != nil {
			return nil, err
		}
		order.Price = price
	case match.Limit:
		if len(req.Price) == 0 {
			return nil, fmt.Errorf("%w: limit orders require a price", match.ErrInvalidParam)
		}
		price, err := parsePrice(req.Price)
		if err != nil {
			return nil, err
		}
		order.Price = price
	}

	number, err := s.ids.NextID()
	if err != nil {
		return nil, err
	}
	order.OrderNumber = number
	return order, nil
}

func (s *Server) marketPrice(ctx context.Context, stockCode string) (decimal.Decimal, error) {
	if s.quotes == nil {
		return decimal.Zero, fmt.Errorf("%w: market orders are disabled", errQuoteUnavailable)
	}
	q, err := s.quotes.Quote(ctx, stockCode)
	if err != nil {
		if errors.Is(err, quote.ErrNoData) {
			return decimal.Zero, fmt.Errorf("%w: no quote for %s", match.ErrInvalidParam, stockCode)
		}
		return decimal.Zero, fmt.Errorf("%w: %v", errQuoteUnavailable, err)
	}
	if !q.Close.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no quote for %s", match.ErrInvalidParam, stockCode)
	}
	return q.Close, nil
}

func parsePrice(s string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(s)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: price %q", match.ErrInvalidParam, s)
	}
	return price, nil
}

// cancelOrder builds a CANCEL action. Symbol and side are taken from the
// original when the action is applied.
func (s *Server) cancelOrder(req *protocol.CancelOrderCommand) (*match.Order, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	number, err := s.ids.NextID()
	if err != nil {
		return nil, err
	}
	return &match.Order{
		OrderID:             match.NewOrderID(),
		OrderNumber:         number,
		Action:              match.ActionCancel,
		OriginalOrderNumber: req.OriginalOrderNumber,
		Timestamp:           s.now().UTC(),
	}, nil
}

// modifyOrder builds a MODIFY action. Zero quantity or price keeps the
// original's value.
func (s *Server) modifyOrder(req *protocol.ModifyOrderCommand) (*match.Order, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	order := &match.Order{
		OrderID:             match.NewOrderID(),
		Quantity:            req.Quantity,
		Action:              match.ActionModify,
		OriginalOrderNumber: req.OriginalOrderNumber,
		Timestamp:           s.now().UTC(),
	}
	if len(req.Price) > 0 {
		price, err := parsePrice(req.Price)
		if err != nil {
			return nil, err
		}
		order.Price = price
	}

	number, err := s.ids.NextID()
	if err != nil {
		return nil, err
	}
	order.OrderNumber = number
	return order, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", match.ErrInvalidParam, err)
	}
	return nil
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateOrderCommand
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := s.newOrder(r.Context(), &req)
	if err != nil {
		respondError(w, statusOf(err), err.Error())
		return
	}
	s.submitAndRespond(w, r, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req protocol.CancelOrderCommand
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := s.cancelOrder(&req)
	if err != nil {
		respondError(w, statusOf(err), err.Error())
		return
	}
	s.submitAndRespond(w, r, order)
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	var req protocol.ModifyOrderCommand
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := s.modifyOrder(&req)
	if err != nil {
		respondError(w, statusOf(err), err.Error())
		return
	}
	s.submitAndRespond(w, r, order)
}

func (s *Server) submitAndRespond(w http.ResponseWriter, r *http.Request, order *match.Order) {
	if err := s.submitter.Submit(r.Context(), order); err != nil {
		s.logger.Error("failed to submit order",
			slog.Uint64("order_number", order.OrderNumber),
			slog.String("action", order.Action.String()),
			slog.Any("error", err))
		respondError(w, statusOf(err), err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, match.MessageFromOrder(order))
}

// queryCount reads a non-negative integer query parameter.
func queryCount(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if len(v) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > maxBulkCount {
		return 0, fmt.Errorf("%w: %s must be between 0 and %d", match.ErrInvalidParam, key, maxBulkCount)
	}
	return n, nil
}

func (s *Server) randomOrders(count int) ([]*match.Order, error) {
	orders := make([]*match.Order, 0, count)
	for i := 0; i < count; i++ {
		number, err := s.ids.NextID()
		if err != nil {
			return nil, err
		}
		side := match.Buy
		if rand.IntN(2) == 1 {
			side = match.Sell
		}
		orders = append(orders, &match.Order{
			OrderID:     match.NewOrderID(),
			OrderNumber: number,
			StockCode:   bulkStockCodes[rand.IntN(len(bulkStockCodes))],
			Side:        side,
			Quantity:    int64(rand.IntN(999) + 1),
			Price:       randomPrice(),
			PriceType:   match.Limit,
			Action:      match.ActionNew,
			Status:      match.StatusPending,
			Timestamp:   s.now().UTC(),
		})
	}
	return orders, nil
}

// randomPrice returns a price between 10 and 500 with two decimals.
func randomPrice() decimal.Decimal {
	return decimal.NewFromFloat(10 + rand.Float64()*490).Round(2)
}

func (s *Server) submitAll(ctx context.Context, orders []*match.Order) error {
	for _, order := range orders {
		if err := s.submitter.Submit(ctx, order); err != nil {
			return fmt.Errorf("submit order %d: %w", order.OrderNumber, err)
		}
	}
	return nil
}

func (s *Server) handleBulkOrders(w http.ResponseWriter, r *http.Request) {
	count, err := queryCount(r, "count", 100)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := s.randomOrders(count)
	if err == nil {
		err = s.submitAll(r.Context(), orders)
	}
	if err != nil {
		s.logger.Error("bulk submission failed", slog.Any("error", err))
		respondError(w, statusOf(err), err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"message": fmt.Sprintf("Successfully sent %d orders", count),
		"count":   count,
	})
}

// handleMixedBulkOrders sends random NEW orders, then cancels some of them
// and modifies others. An order is never both cancelled and modified.
func (s *Server) handleMixedBulkOrders(w http.ResponseWriter, r *http.Request) {
	newCount, err := queryCount(r, "newCount", 100)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cancelCount, err := queryCount(r, "cancelCount", 20)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	modifyCount, err := queryCount(r, "modifyCount", 30)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cancelCount = min(cancelCount, newCount)
	modifyCount = min(modifyCount, newCount-cancelCount)

	actions, err := s.mixedActions(newCount, cancelCount, modifyCount)
	if err == nil {
		err = s.submitAll(r.Context(), actions)
	}
	if err != nil {
		s.logger.Error("mixed bulk submission failed", slog.Any("error", err))
		respondError(w, statusOf(err), err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"message":      "Successfully sent mixed orders",
		"newOrders":    newCount,
		"cancelOrders": cancelCount,
		"modifyOrders": modifyCount,
		"total":        newCount + cancelCount + modifyCount,
	})
}

// mixedActions returns the NEW orders followed by their CANCEL and MODIFY
// actions.
func (s *Server) mixedActions(newCount, cancelCount, modifyCount int) ([]*match.Order, error) {
	orders, err := s.randomOrders(newCount)
	if err != nil {
		return nil, err
	}

	actions := make([]*match.Order, 0, newCount+cancelCount+modifyCount)
	actions = append(actions, orders...)

	perm := rand.Perm(newCount)
	for i, idx := range perm[:cancelCount+modifyCount] {
		var action *match.Order
		if i < cancelCount {
			action, err = s.cancelOrder(&protocol.CancelOrderCommand{OriginalOrderNumber: orders[idx].OrderNumber})
		} else {
			action, err = s.modifyOrder(&protocol.ModifyOrderCommand{
				OriginalOrderNumber: orders[idx].OrderNumber,
				Quantity:            int64(rand.IntN(499) + 1),
				Price:               randomPrice().StringFixed(2),
			})
		}
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.orders.GetAllOrders())
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.ParseUint(mux.Vars(r)["orderNumber"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order number")
		return
	}
	order, ok := s.orders.GetOrder(number)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("order %d not found", number))
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleOrderStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.orders.GetStats())
}
