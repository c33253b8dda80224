package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GitOpsMetrics tracks merge request creation for upgrades and rollbacks
// (C5/C9).
type GitOpsMetrics struct {
	MRsTotal        *prometheus.CounterVec
	IdempotencyHits prometheus.Counter
	SyncWaitSeconds prometheus.Histogram
}

func newGitOpsMetrics(f promauto.Factory, namespace string) *GitOpsMetrics {
	return &GitOpsMetrics{
		MRsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gitops",
				Name:      "merge_requests_total",
				Help:      "Merge requests created, by kind (upgrade/rollback) and outcome",
			},
			[]string{"kind", "outcome"},
		),
		IdempotencyHits: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gitops",
				Name:      "idempotency_cache_hits_total",
				Help:      "Merge request creations served from the idempotency cache instead of hitting GitLab",
			},
		),
		SyncWaitSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gitops",
				Name:      "flux_sync_wait_seconds",
				Help:      "Time spent waiting for Flux to reconcile a merged HelmRelease change",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
			},
		),
	}
}

func (m *GitOpsMetrics) RecordMR(kind, outcome string) {
	if m == nil {
		return
	}
	m.MRsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *GitOpsMetrics) RecordIdempotencyHit() {
	if m == nil {
		return
	}
	m.IdempotencyHits.Inc()
}

func (m *GitOpsMetrics) RecordSyncWait(seconds float64) {
	if m == nil {
		return
	}
	m.SyncWaitSeconds.Observe(seconds)
}
