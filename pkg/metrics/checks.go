package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CheckMetrics tracks pre-flight check execution (C3/C4).
type CheckMetrics struct {
	RunsTotal       *prometheus.CounterVec
	DurationSeconds *prometheus.HistogramVec
}

func newCheckMetrics(f promauto.Factory, namespace string) *CheckMetrics {
	return &CheckMetrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "checks",
				Name:      "runs_total",
				Help:      "Pre-flight check executions by check name and result",
			},
			[]string{"check", "result"},
		),
		DurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "checks",
				Name:      "duration_seconds",
				Help:      "Duration of a single pre-flight check",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"check"},
		),
	}
}

// RecordRun records the outcome of a single check.
func (m *CheckMetrics) RecordRun(check, result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(check, result).Inc()
	m.DurationSeconds.WithLabelValues(check).Observe(durationSeconds)
}
