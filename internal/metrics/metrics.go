// Package metrics provides Prometheus instrumentation for the option pool.
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
	// PositionsSold counts positions opened by target asset and option type.
	PositionsSold = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "option_pool_positions_sold_total",
		Help: "Total number of option positions sold",
	}, []string{"asset", "option_type"})

	// PositionsSettled counts settlements by path (exercise, auto_exercise,
	// expire) and whether anything was paid out.
	PositionsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "option_pool_positions_settled_total",
		Help: "Total number of option positions settled",
	}, []string{"action", "outcome"})

	// OperationLatency tracks engine operation latency in seconds.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "option_pool_operation_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// OperationErrors counts rejected operations by error category.
	OperationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "option_pool_operation_errors_total",
		Help: "Rejected engine operations by error category",
	}, []string{"operation", "category"})

	// PremiumCollected accumulates premiums in token units of the paying asset.
	PremiumCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "option_pool_premium_collected_total",
		Help: "Cumulative premium credited to custodies, in token units",
	}, []string{"pool", "asset"})

	// PayoutClaimed accumulates settlement payouts in token units.
	PayoutClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "option_pool_payout_claimed_total",
		Help: "Cumulative settlement payouts debited from custodies, in token units",
	}, []string{"pool", "asset"})

	// CustodyTotal tracks each custody's total balance.
	CustodyTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "option_pool_custody_total_balance",
		Help: "Custody total balance in token units",
	}, []string{"pool", "asset"})

	// CustodyLocked tracks each custody's locked collateral.
	CustodyLocked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "option_pool_custody_locked_balance",
		Help: "Custody locked balance in token units",
	}, []string{"pool", "asset"})

	// MultisigSignatures counts accepted multisig signatures per instruction.
	MultisigSignatures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "option_pool_multisig_signatures_total",
		Help: "Accepted multisig signatures",
	}, []string{"instruction", "executed"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "option_pool_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "option_pool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "option_pool_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveCustody publishes the balances of one custody.
func ObserveCustody(pool, asset string, total, locked uint64) {
	CustodyTotal.WithLabelValues(pool, asset).Set(float64(total))
	CustodyLocked.WithLabelValues(pool, asset).Set(float64(locked))
}

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

		// Route patterns keep owner ids and indexes out of the labels.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
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
