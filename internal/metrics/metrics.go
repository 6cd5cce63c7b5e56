// Package metrics provides Prometheus instrumentation for the portfolio game.
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
	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeLatency tracks end-to-end trade latency inside the ledger engine.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeRejections counts trades refused by the ledger, by error class.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trade_rejections_total",
		Help: "Trades rejected by the ledger engine",
	}, []string{"side", "reason"})

	// ProfilesCreated counts new player profiles.
	ProfilesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_profiles_created_total",
		Help: "Number of profiles created",
	})

	// TransactionLogFailures counts transaction appends that were given up
	// on after retries. Each one is an audit gap.
	TransactionLogFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_transaction_log_failures_total",
		Help: "Transaction log appends abandoned after retries",
	})

	// OracleRequests counts price oracle calls by operation and result.
	OracleRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_oracle_requests_total",
		Help: "Price oracle requests",
	}, []string{"op", "result"})

	// OracleLatency tracks upstream oracle request duration.
	OracleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_oracle_latency_seconds",
		Help:    "Price oracle request latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"op"})

	// PriceCache counts cache lookups by kind (price, metadata) and outcome.
	PriceCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_price_cache_total",
		Help: "Price cache lookups",
	}, []string{"kind", "outcome"})

	// LeaderboardExcluded is the number of users left off the last leaderboard.
	LeaderboardExcluded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_leaderboard_excluded",
		Help: "Users excluded from the most recent leaderboard",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_http_request_duration_seconds",
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

		// Label by route pattern, not raw path: usernames and tickers in
		// the URL would explode cardinality.
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
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
