// Package metrics provides Prometheus instrumentation for the indexer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsIndexed counts decoded chain events applied, partitioned by kind.
	EventsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_indexer_events_total",
		Help: "Total number of chain events applied",
	}, []string{"kind"})

	// EntitiesWritten counts entities published to observers, by kind.
	EntitiesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_indexer_entities_total",
		Help: "Entities written by event handlers",
	}, []string{"kind"})

	// IndexedBlock is the last block fully processed.
	IndexedBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lending_indexer_block",
		Help: "Last fully indexed block",
	})

	// HeadBlock is the chain head seen on the last poll.
	HeadBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lending_indexer_head_block",
		Help: "Chain head at the last poll",
	})

	// BatchDuration tracks how long one block range takes to index.
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lending_indexer_batch_duration_seconds",
		Help:    "Time to index one block range",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// RPCRetries counts retried RPC calls by method.
	RPCRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_indexer_rpc_retries_total",
		Help: "RPC calls retried after a transport error",
	}, []string{"method"})

	// WatchedContracts tracks the number of addresses in the log filter.
	WatchedContracts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lending_indexer_watched_contracts",
		Help: "Contracts whose logs are being indexed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lending_indexer_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_indexer_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lending_indexer_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
