// Package metrics exposes Prometheus collectors for the indexing service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	submissionsTotal           *prometheus.CounterVec
	verificationsTotal         *prometheus.CounterVec
	creditTransactionsTotal    *prometheus.CounterVec
	quotaExhaustedTotal        prometheus.Counter
	claimLostTotal             prometheus.Counter
	queueDepth                 *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_submissions_total",
				Help: "Total channel submission attempts, labeled by channel and outcome.",
			},
			[]string{"channel", "outcome"},
		)

		verificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_verifications_total",
				Help: "Total verification checks, labeled by method and result.",
			},
			[]string{"method", "result"},
		)

		creditTransactionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_credit_transactions_total",
				Help: "Total credit ledger rows appended, labeled by type.",
			},
			[]string{"type"},
		)

		quotaExhaustedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "indexer_quota_exhausted_total",
				Help: "Total channel attempts deferred because no credential had quota.",
			},
		)

		claimLostTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "indexer_claim_lost_total",
				Help: "Total address claims lost to a concurrent worker.",
			},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "indexer_queue_depth",
				Help: "Tasks in the delayed queues, labeled by queue and eligibility.",
			},
			[]string{"queue", "state"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexer_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmission counts one channel attempt.
func ObserveSubmission(channel, outcome string) {
	submissionsTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveVerification counts one verification check.
func ObserveVerification(method, result string) {
	verificationsTotal.WithLabelValues(method, result).Inc()
}

// ObserveCreditTransaction counts one appended ledger row.
func ObserveCreditTransaction(txType string) {
	creditTransactionsTotal.WithLabelValues(txType).Inc()
}

// CreditTransactions returns the counter for one transaction type so tests
// can read it back.
func CreditTransactions(txType string) prometheus.Counter {
	return creditTransactionsTotal.WithLabelValues(txType)
}

// ObserveQuotaExhausted counts one deferred quota-gated attempt.
func ObserveQuotaExhausted() {
	quotaExhaustedTotal.Inc()
}

// ObserveClaimLost counts one lost claim race.
func ObserveClaimLost() {
	claimLostTotal.Inc()
}

// SetQueueDepth records the current depth of a task queue.
func SetQueueDepth(queue, state string, n int64) {
	queueDepth.WithLabelValues(queue, state).Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
