// Package metrics provides Prometheus instrumentation for the outcome engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades by side and outcome.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outcome_trades_total",
		Help: "Total number of AMM trades executed",
	}, []string{"side", "outcome"})

	// OperationLatency tracks engine operation latency in seconds.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outcome_operation_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"engine", "operation"})

	// Rejections counts rejected engine calls by error kind.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outcome_rejections_total",
		Help: "Engine calls rejected, by operation and error kind",
	}, []string{"engine", "operation", "kind"})

	// ActivePools tracks the number of pools created since start.
	ActivePools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outcome_active_pools",
		Help: "Number of AMM pools created by this process",
	})

	// PoolVolume tracks cumulative gross traded amount across all pools.
	// Per-market volume is reported by the pool state query.
	PoolVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outcome_pool_volume_total",
		Help: "Cumulative gross trade amount in asset units",
	}, []string{"side"})

	// FeesCollected tracks trading fees accrued to liquidity providers.
	FeesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outcome_fees_collected_total",
		Help: "Trading fees accrued to LPs in asset units",
	})

	// LiquidityEvents counts add/remove/claim liquidity operations.
	LiquidityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outcome_liquidity_events_total",
		Help: "Liquidity operations by kind",
	}, []string{"kind"})

	// Compensations counts custody transfers reversed after a failed commit.
	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outcome_custody_compensations_total",
		Help: "Compensating custody transfers by result",
	}, []string{"result"})

	// AttestationsTotal counts accepted attestations by outcome.
	AttestationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outcome_attestations_total",
		Help: "Accepted oracle attestations",
	}, []string{"outcome"})

	// ConsensusChecks counts consensus queries by result.
	ConsensusChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outcome_consensus_checks_total",
		Help: "Consensus checks by result (reached, pending, tied)",
	}, []string{"result"})

	// RegisteredOracles tracks the number of active oracles.
	RegisteredOracles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outcome_registered_oracles",
		Help: "Number of currently active oracles",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outcome_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outcome_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outcome_http_request_duration_seconds",
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
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Observe records the latency of an engine operation and, when err is
// non-nil, a rejection labelled with kind.
func Observe(engine, operation string, start time.Time, err error, kind string) {
	OperationLatency.WithLabelValues(engine, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		Rejections.WithLabelValues(engine, operation, kind).Inc()
	}
}
