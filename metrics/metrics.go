// Package metrics exposes Prometheus metrics for the matching service and
// its HTTP surface.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	match "github.com/0x5487/mocktrading"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a registry and implements match.PublishLog, turning book
// and status events into metrics.
type Collector struct {
	registry *prometheus.Registry

	bookEvents       *prometheus.CounterVec
	executions       *prometheus.CounterVec
	executedQuantity *prometheus.CounterVec
	restingQuantity  *prometheus.GaugeVec
	orderStatus      *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// NewCollector creates a collector with its own registry, including the Go
// runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		bookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradesim_book_events_total",
				Help: "Total number of order book and status events",
			},
			[]string{"type"},
		),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradesim_executions_total",
				Help: "Total number of executions",
			},
			[]string{"stock_code"},
		),
		executedQuantity: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradesim_executed_quantity_total",
				Help: "Total executed quantity",
			},
			[]string{"stock_code"},
		),
		restingQuantity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradesim_resting_quantity",
				Help: "Quantity currently resting in the book",
			},
			[]string{"stock_code", "side"},
		),
		orderStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradesim_order_status_total",
				Help: "Total number of order status transitions",
			},
			[]string{"status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path"},
		),
		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests in flight",
			},
		),
	}

	c.registry.MustRegister(
		c.bookEvents,
		c.executions,
		c.executedQuantity,
		c.restingQuantity,
		c.orderStatus,
		c.httpRequests,
		c.httpDuration,
		c.httpInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry backing Handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Publish implements match.PublishLog.
func (c *Collector) Publish(logs ...*match.OrderBookLog) {
	for _, log := range logs {
		c.bookEvents.WithLabelValues(string(log.Type)).Inc()

		switch log.Type {
		case match.LogTypeOpen:
			c.restingQuantity.WithLabelValues(log.StockCode, log.Side.String()).Add(float64(log.Quantity))
		case match.LogTypeCancel:
			c.restingQuantity.WithLabelValues(log.StockCode, log.Side.String()).Sub(float64(log.Quantity))
		case match.LogTypeMatch:
			c.executions.WithLabelValues(log.StockCode).Inc()
			c.executedQuantity.WithLabelValues(log.StockCode).Add(float64(log.Quantity))
			// The maker rests on the side opposite to the taker.
			c.restingQuantity.WithLabelValues(log.StockCode, log.Side.Opposite().String()).Sub(float64(log.Quantity))
		case match.LogTypeStatus:
			c.orderStatus.WithLabelValues(log.Status.String()).Inc()
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware records request count, duration and in-flight requests. The
// path label is the mux route template, so ids do not blow up cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.httpInFlight.Inc()
		defer c.httpInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}

		c.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
