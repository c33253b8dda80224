package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LockMetrics tracks distributed lock activity (C2).
type LockMetrics struct {
	AcquireTotal   *prometheus.CounterVec
	HeldSeconds    prometheus.Histogram
	FenceRejected  prometheus.Counter
	RenewalsTotal  *prometheus.CounterVec
}

func newLockMetrics(f promauto.Factory, namespace string) *LockMetrics {
	return &LockMetrics{
		AcquireTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "acquire_total",
				Help:      "Lock acquisition attempts by outcome",
			},
			[]string{"outcome"},
		),
		HeldSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "held_seconds",
				Help:      "Duration a lock was held before release",
				Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800},
			},
		),
		FenceRejected: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "fence_rejected_total",
				Help:      "Writes rejected because the caller presented a stale fencing token",
			},
		),
		RenewalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "renewals_total",
				Help:      "Auto-renewal attempts by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *LockMetrics) RecordAcquire(outcome string) {
	if m == nil {
		return
	}
	m.AcquireTotal.WithLabelValues(outcome).Inc()
}

func (m *LockMetrics) RecordHeld(seconds float64) {
	if m == nil {
		return
	}
	m.HeldSeconds.Observe(seconds)
}

func (m *LockMetrics) RecordFenceRejected() {
	if m == nil {
		return
	}
	m.FenceRejected.Inc()
}

func (m *LockMetrics) RecordRenewal(outcome string) {
	if m == nil {
		return
	}
	m.RenewalsTotal.WithLabelValues(outcome).Inc()
}
