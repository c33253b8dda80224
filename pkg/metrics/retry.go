package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RetryMetrics tracks retry operation metrics for internal/resilience.
//
// Labels:
//   - operation: the operation being retried (e.g. "registry_cas", "gitlab_create_mr")
//   - outcome: "success", "failure" or "cancelled"
//   - error_type: classifyError's category (e.g. "timeout", "network", "none")
type RetryMetrics struct {
	AttemptsTotal      *prometheus.CounterVec
	DurationSeconds    *prometheus.HistogramVec
	BackoffSeconds     *prometheus.HistogramVec
	FinalAttemptsTotal *prometheus.HistogramVec
}

func newRetryMetrics(f promauto.Factory, namespace string) *RetryMetrics {
	return &RetryMetrics{
		AttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "attempts_total",
				Help:      "Total number of retry attempts by operation, outcome, and error type",
			},
			[]string{"operation", "outcome", "error_type"},
		),
		DurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "duration_seconds",
				Help:      "Duration of retried operations from start to completion",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation", "outcome"},
		),
		BackoffSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "backoff_seconds",
				Help:      "Actual backoff delay between retry attempts",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		),
		FinalAttemptsTotal: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "final_attempts_total",
				Help:      "Number of attempts until final success or failure",
				Buckets:   []float64{1, 2, 3, 4, 5, 10, 20},
			},
			[]string{"operation", "outcome"},
		),
	}
}

// RecordAttempt records a single retry attempt.
func (m *RetryMetrics) RecordAttempt(operation, outcome, errorType string, duration float64) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(operation, outcome, errorType).Inc()
	m.DurationSeconds.WithLabelValues(operation, outcome).Observe(duration)
}

// RecordBackoff records the backoff delay before a retry attempt.
func (m *RetryMetrics) RecordBackoff(operation string, delaySeconds float64) {
	if m == nil {
		return
	}
	m.BackoffSeconds.WithLabelValues(operation).Observe(delaySeconds)
}

// RecordFinalAttempt records the final attempt count when an operation completes.
func (m *RetryMetrics) RecordFinalAttempt(operation, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.FinalAttemptsTotal.WithLabelValues(operation, outcome).Observe(float64(attempts))
}
