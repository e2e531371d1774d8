package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	// HTTPRequestDuration tracks request latency by method, path, and status.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Business metrics
var (
	// WebhookEventsTotal counts payment webhook deliveries by outcome.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Total number of payment webhook events by outcome",
		},
		[]string{"outcome"},
	)

	// CardClaimsTotal counts card pool claims.
	CardClaimsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "card_pool_claims_total",
			Help: "Total number of card numbers claimed from the pool",
		},
	)

	// CardPoolExhaustedTotal counts failed claims against an empty pool.
	CardPoolExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "card_pool_exhausted_total",
			Help: "Total number of claim attempts against an exhausted pool",
		},
	)

	// LockConflictsTotal counts idempotency lock conflicts by lock key prefix.
	LockConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_lock_conflicts_total",
			Help: "Total number of idempotency guard lock conflicts",
		},
		[]string{"scope"},
	)

	// TransitionsTotal counts committed status transitions by target status.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "application_transitions_total",
			Help: "Total number of committed application status transitions",
		},
		[]string{"to"},
	)

	// ScansTotal counts scan/validation calls by kind and result.
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scans_total",
			Help: "Total number of card scans and pass validations",
		},
		[]string{"kind", "result"},
	)

	// TransactionDuration tracks storage transaction duration by operation label.
	TransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_transaction_duration_seconds",
			Help:    "Duration of database transactions in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// OutboxPendingEvents gauges the number of unpublished outbox events.
	OutboxPendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_events",
			Help: "Number of unpublished events in outbox",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns an HTTP middleware that records request metrics.
// Side effects: records Prometheus metrics and reads the current time.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics endpoint itself
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)
		path := normalizePath(r.URL.Path)

		HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// normalizePath normalizes URL paths to avoid cardinality explosion.
// Replaces identifiers with placeholders.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/applications/"):
		rest := strings.TrimPrefix(path, "/applications/")
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			return "/applications/{id}" + rest[idx:]
		}
		return "/applications/{id}"
	case strings.HasPrefix(path, "/cards/"):
		rest := strings.TrimPrefix(path, "/cards/")
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			return "/cards/{number}" + rest[idx:]
		}
		return "/cards/{number}"
	case strings.HasPrefix(path, "/validate/"):
		return "/validate/{token}"
	default:
		return path
	}
}

// RecordWebhookEvent increments the webhook outcome counter.
// Side effects: records a Prometheus metric.
func RecordWebhookEvent(outcome string) {
	WebhookEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition increments the transition counter for a target status.
// Side effects: records a Prometheus metric.
func RecordTransition(to string) {
	TransitionsTotal.WithLabelValues(to).Inc()
}

// RecordLockConflict increments the lock conflict counter.
// Side effects: records a Prometheus metric.
func RecordLockConflict(scope string) {
	LockConflictsTotal.WithLabelValues(scope).Inc()
}

// RecordScan increments the scan counter.
// Side effects: records a Prometheus metric.
func RecordScan(kind, result string) {
	ScansTotal.WithLabelValues(kind, result).Inc()
}

// RecordTransactionDuration records a transaction duration.
// Side effects: records a Prometheus metric.
func RecordTransactionDuration(operation string, duration time.Duration) {
	TransactionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
