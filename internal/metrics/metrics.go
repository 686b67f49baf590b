// Package metrics provides Prometheus instrumentation for the pool engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	// LoansOriginated counts loans opened, partitioned by side (borrow, lend).
	LoansOriginated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zlp_loans_originated_total",
		Help: "Total number of loans originated",
	}, []string{"side"})

	// LoansRepaid counts loans settled, partitioned by side.
	LoansRepaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zlp_loans_repaid_total",
		Help: "Total number of loans repaid",
	}, []string{"side"})

	LiquidityProvisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zlp_liquidity_provisions_total",
		Help: "Total number of liquidity provisions",
	})

	Redemptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zlp_share_redemptions_total",
		Help: "Total number of share redemptions",
	})

	// Rejections counts failed pool operations by operation and reason.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zlp_rejections_total",
		Help: "Pool operations rejected by a precondition",
	}, []string{"operation", "reason"})

	// OperationLatency tracks pool operation latency in seconds.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zlp_operation_latency_seconds",
		Help:    "Pool operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// Reserves tracks pool reserves in whole-token units, by currency symbol.
	Reserves = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zlp_reserves",
		Help: "Pool reserves in whole-token units",
	}, []string{"currency"})

	// TotalShares tracks outstanding pool shares in borrow-currency units.
	TotalShares = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zlp_total_shares",
		Help: "Total pool shares in borrow-currency units",
	})

	// PoolPhase is 1 for the pool's current phase and 0 for the others.
	PoolPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zlp_pool_phase",
		Help: "Current pool phase",
	}, []string{"phase"})

	BlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zlp_block_height",
		Help: "Block height seen at the last pool call",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zlp_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zlp_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zlp_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// SetReserve records a reserve given in whole-token units.
func SetReserve(currency string, amount decimal.Decimal) {
	Reserves.WithLabelValues(currency).Set(amount.InexactFloat64())
}

// SetPhase marks current as the active phase among all.
func SetPhase(current string, all []string) {
	for _, p := range all {
		v := 0.0
		if p == current {
			v = 1
		}
		PoolPhase.WithLabelValues(p).Set(v)
	}
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

		// Use the route pattern for path label to avoid high cardinality.
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
