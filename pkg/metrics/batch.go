package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BatchMetrics tracks batch-runner (C10) throughput and outcome.
type BatchMetrics struct {
	ClustersTotal   *prometheus.CounterVec
	DurationSeconds *prometheus.HistogramVec
	InFlight        prometheus.Gauge
}

func newBatchMetrics(f promauto.Factory, namespace string) *BatchMetrics {
	return &BatchMetrics{
		ClustersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "clusters_total",
				Help:      "Clusters processed by a batch run, by terminal status",
			},
			[]string{"batch_id", "status"},
		),
		DurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "cluster_duration_seconds",
				Help:      "Wall-clock time to drive a single cluster through the upgrade pipeline",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),
		InFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "clusters_in_flight",
				Help:      "Number of clusters currently occupying a batch runner semaphore slot",
			},
		),
	}
}

// RecordCluster records the terminal status of one cluster's pipeline run.
func (m *BatchMetrics) RecordCluster(batchID, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ClustersTotal.WithLabelValues(batchID, status).Inc()
	m.DurationSeconds.WithLabelValues(status).Observe(durationSeconds)
}
