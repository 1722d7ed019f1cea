// Package api serves the REST and websocket surface of the simulator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	match "github.com/0x5487/mocktrading"
	"github.com/0x5487/mocktrading/metrics"
	"github.com/0x5487/mocktrading/quote"
	"github.com/0x5487/mocktrading/ratelimit"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// OrderService is the read side of the order registry, implemented by
// *match.OrderLifecycleService.
type OrderService interface {
	GetOrder(orderNumber uint64) (*match.Order, bool)
	GetAllOrders() []*match.Order
	GetStats() match.Stats
	Executions() []*match.Execution
	Snapshot(stockCode string, depth int) *match.BookSnapshot
	Snapshots(depth int) map[string]*match.BookSnapshot
	RestingOrders(stockCode string, side match.Side) []match.RestingOrder
}

// QuoteSource resolves market prices.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*quote.Quote, error)
}

type Options struct {
	Orders    OrderService
	Submitter Submitter
	IDs       match.IDGenerator
	Quotes    QuoteSource
	Hub       *Hub
	Metrics   *metrics.Collector // optional

	// Depths is the depth view rebuilt from published events. Optional.
	Depths *match.AggregatedBooks

	// RateLimit is the number of websocket requests a session may send per second.
	RateLimit      int
	Depth          int
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server handles REST requests and websocket sessions.
type Server struct {
	orders    OrderService
	submitter Submitter
	ids       match.IDGenerator
	quotes    QuoteSource
	hub       *Hub
	metrics   *metrics.Collector
	depths    *match.AggregatedBooks
	limiter   *ratelimit.Manager
	validate  *validator.Validate
	depth     int
	origins   []string
	logger    *slog.Logger
	router    *mux.Router
	now       func() time.Time
}

// NewServer creates a server and registers its routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	depth := opts.Depth
	if depth <= 0 {
		depth = match.DefaultSnapshotDepth
	}
	rateLimit := opts.RateLimit
	if rateLimit <= 0 {
		rateLimit = 5
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		orders:    opts.Orders,
		submitter: opts.Submitter,
		ids:       opts.IDs,
		quotes:    opts.Quotes,
		hub:       hub,
		metrics:   opts.Metrics,
		depths:    opts.Depths,
		limiter:   ratelimit.NewManager(rateLimit, time.Second),
		validate:  validator.New(),
		depth:     depth,
		origins:   origins,
		logger:    logger.With(slog.String("component", "api")),
		router:    mux.NewRouter(),
		now:       time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware)
	}

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/modify", s.handleModifyOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/bulk", s.handleBulkOrders).Methods(http.MethodPost)
	api.HandleFunc("/orders/bulk/mixed", s.handleMixedBulkOrders).Methods(http.MethodPost)
	api.HandleFunc("/orders/stats", s.handleOrderStats).Methods(http.MethodGet)
	api.HandleFunc("/orders/{orderNumber:[0-9]+}", s.handleGetOrder).Methods(http.MethodGet)

	api.HandleFunc("/orderbook", s.handleGetOrderBooks).Methods(http.MethodGet)
	api.HandleFunc("/orderbook/{stockCode}", s.handleGetOrderBook).Methods(http.MethodGet)
	api.HandleFunc("/orderbook/{stockCode}/orders", s.handleGetRestingOrders).Methods(http.MethodGet)
	api.HandleFunc("/depth/{stockCode}", s.handleGetEventDepth).Methods(http.MethodGet)
	api.HandleFunc("/executions", s.handleGetExecutions).Methods(http.MethodGet)
	api.HandleFunc("/quotes/{stockCode}", s.handleGetQuote).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Hub returns the websocket hub, which doubles as a match.PublishLog.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  match.EngineVersion,
		"sessions": s.hub.SessionCount(),
	})
}

// ErrorResponse is returned for all REST errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

// statusOf maps an error from the order path to an HTTP status.
func statusOf(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs), errors.Is(err, match.ErrInvalidParam):
		return http.StatusBadRequest
	case errors.Is(err, match.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errQuoteUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, match.ErrShutdown), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
