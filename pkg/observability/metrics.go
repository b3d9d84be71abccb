package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook ingestion metrics
	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total webhook events received",
	}, []string{
		"provider",   // stripe, paystack
		"event_type", // provider-native type string
		"outcome",    // processed, skipped, failed, dead_letter, rejected
	})

	webhookProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_processing_duration_seconds",
		Help:    "Time to apply one webhook event",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"provider", "event_type"})

	// Payment metrics
	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_total",
		Help: "Total payment rows written",
	}, []string{
		"provider",
		"type",   // recurring, one_time, payout
		"status", // succeeded, failed, refunded, disputed
	})

	paymentAmountCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_amount_cents_total",
		Help: "Total payment gross in minor units, by currency",
	}, []string{"provider", "type", "currency"})

	// Checkout metrics
	checkoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_total",
		Help: "Checkout sessions created, deduplicated or rejected",
	}, []string{"provider", "outcome"})

	// Payout metrics
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfers_total",
		Help: "Payout transfer attempts",
	}, []string{"status"}) // initiated, otp_pending, succeeded, failed

	// Scheduler metrics
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_job_runs_total",
		Help: "Scheduler job executions",
	}, []string{"job", "outcome"}) // success, error, lock_missed

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_job_duration_seconds",
		Help:    "Scheduler job run time",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"job"})

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests served",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path"})

	// Reconciliation metrics
	reconciliationDiscrepancies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_discrepancies_total",
		Help: "Discrepancies found by the nightly reconciliation",
	}, []string{"provider", "kind"}) // missing_local, amount_mismatch, healed
)

// RecordWebhookEvent counts one webhook ingestion outcome.
func RecordWebhookEvent(provider, eventType, outcome string, elapsed time.Duration) {
	webhookEventsTotal.WithLabelValues(provider, eventType, outcome).Inc()
	if elapsed > 0 {
		webhookProcessingDuration.WithLabelValues(provider, eventType).Observe(elapsed.Seconds())
	}
}

// RecordPayment counts one payment row and its gross amount.
func RecordPayment(provider, paymentType, status, currency string, grossCents int64) {
	paymentsTotal.WithLabelValues(provider, paymentType, status).Inc()
	if grossCents > 0 {
		paymentAmountCents.WithLabelValues(provider, paymentType, currency).Add(float64(grossCents))
	}
}

// RecordCheckoutSession counts a checkout initiation outcome.
func RecordCheckoutSession(provider, outcome string) {
	checkoutSessionsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordTransfer counts a payout transfer state.
func RecordTransfer(status string) {
	transfersTotal.WithLabelValues(status).Inc()
}

// RecordJobRun counts one scheduler job execution.
func RecordJobRun(job, outcome string, elapsed time.Duration) {
	jobRunsTotal.WithLabelValues(job, outcome).Inc()
	if outcome != "lock_missed" {
		jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
	}
}

// RecordHTTPRequest counts one served request. Paths come from the
// route patterns, not raw URLs, so cardinality stays bounded.
func RecordHTTPRequest(method, path string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// RecordReconciliationDiscrepancy counts one reconciliation finding.
func RecordReconciliationDiscrepancy(provider, kind string) {
	reconciliationDiscrepancies.WithLabelValues(provider, kind).Inc()
}
