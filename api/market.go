package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	match "github.com/0x5487/mocktrading"
	"github.com/0x5487/mocktrading/protocol"
	"github.com/0x5487/mocktrading/quote"
	"github.com/gorilla/mux"
)

func (s *Server) depthParam(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("depth")
	if len(v) == 0 {
		return s.depth, true
	}
	depth, err := strconv.Atoi(v)
	if err != nil || depth <= 0 {
		return 0, false
	}
	return depth, true
}

func (s *Server) handleGetOrderBooks(w http.ResponseWriter, r *http.Request) {
	depth, ok := s.depthParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "depth must be a positive integer")
		return
	}

	snapshots := s.orders.Snapshots(depth)
	resp := make(map[string]*protocol.GetDepthResponse, len(snapshots))
	for symbol, snap := range snapshots {
		resp[symbol] = match.DepthResponseFromSnapshot(snap)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetOrderBook returns an empty book for symbols that never traded.
func (s *Server) handleGetOrderBook(w http.ResponseWriter, r *http.Request) {
	depth, ok := s.depthParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "depth must be a positive integer")
		return
	}
	snap := s.orders.Snapshot(mux.Vars(r)["stockCode"], depth)
	respondJSON(w, http.StatusOK, match.DepthResponseFromSnapshot(snap))
}

// handleGetRestingOrders lists one side of a book in priority order.
func (s *Server) handleGetRestingOrders(w http.ResponseWriter, r *http.Request) {
	var side match.Side
	if err := side.UnmarshalText([]byte(r.URL.Query().Get("side"))); err != nil {
		respondError(w, http.StatusBadRequest, "side must be BUY or SELL")
		return
	}
	respondJSON(w, http.StatusOK, s.orders.RestingOrders(mux.Vars(r)["stockCode"], side))
}

type eventDepthResponse struct {
	*protocol.GetDepthResponse
	SequenceID uint64 `json:"seqId"`
}

// handleGetEventDepth serves the depth rebuilt from book events, with the
// sequence id it reflects.
func (s *Server) handleGetEventDepth(w http.ResponseWriter, r *http.Request) {
	if s.depths == nil {
		respondError(w, http.StatusServiceUnavailable, "event depth is disabled")
		return
	}
	depth, ok := s.depthParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "depth must be a positive integer")
		return
	}

	stockCode := mux.Vars(r)["stockCode"]
	book, ok := s.depths.Book(stockCode)
	if !ok {
		respondError(w, http.StatusNotFound, "no events for "+stockCode)
		return
	}
	respondJSON(w, http.StatusOK, eventDepthResponse{
		GetDepthResponse: match.DepthResponseFromSnapshot(book.Snapshot(depth)),
		SequenceID:       book.SequenceID(),
	})
}

func (s *Server) handleGetExecutions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.orders.Executions())
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	if s.quotes == nil {
		respondError(w, http.StatusServiceUnavailable, "quotes are disabled")
		return
	}

	stockCode := mux.Vars(r)["stockCode"]
	q, err := s.quotes.Quote(r.Context(), stockCode)
	switch {
	case errors.Is(err, quote.ErrNoData):
		respondError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Warn("quote lookup failed", slog.String("stock_code", stockCode), slog.Any("error", err))
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondJSON(w, http.StatusOK, q)
	}
}
