package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ValidatorMetrics tracks post-upgrade validation runs (C7/C8).
type ValidatorMetrics struct {
	RunsTotal          *prometheus.CounterVec
	MetricDeltaPercent *prometheus.HistogramVec
	SoakSeconds        prometheus.Histogram
}

func newValidatorMetrics(f promauto.Factory, namespace string) *ValidatorMetrics {
	return &ValidatorMetrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "validators",
				Name:      "runs_total",
				Help:      "Validator executions by validator name and result",
			},
			[]string{"validator", "result"},
		),
		MetricDeltaPercent: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "validators",
				Name:      "metric_delta_percent",
				Help:      "Percent change between baseline and current window for a validated metric",
				Buckets:   []float64{-50, -10, 0, 5, 10, 20, 30, 50, 100},
			},
			[]string{"validator", "metric"},
		),
		SoakSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "validators",
				Name:      "soak_seconds",
				Help:      "Actual elapsed soak period before current-window capture",
				Buckets:   []float64{60, 300, 600, 900, 1800, 3600},
			},
		),
	}
}

// RecordRun records the outcome of a single validator.
func (m *ValidatorMetrics) RecordRun(validator, result string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(validator, result).Inc()
}

// RecordDelta records the percent delta a validator observed for one metric.
func (m *ValidatorMetrics) RecordDelta(validator, metricName string, deltaPercent float64) {
	if m == nil {
		return
	}
	m.MetricDeltaPercent.WithLabelValues(validator, metricName).Observe(deltaPercent)
}

// RecordSoak records how long a soak period actually ran.
func (m *ValidatorMetrics) RecordSoak(seconds float64) {
	if m == nil {
		return
	}
	m.SoakSeconds.Observe(seconds)
}
