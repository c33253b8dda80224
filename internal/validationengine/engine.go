// Package validationengine drives the post-merge reconciliation wait, the
// data-plane deployment checks, and the sidecar-aware wave-based workload
// restart the GitOps merge alone can't perform (C8).
package validationengine

import (
	"log/slog"

	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/pkg/metrics"
)

// Engine bundles the capability handles the C8 operations share.
type Engine struct {
	k8s     platform.KubernetesProvider
	cli     platform.ExternalCLI
	logger  *slog.Logger
	metrics *metrics.ValidatorMetrics
}

func NewEngine(k8s platform.KubernetesProvider, cli platform.ExternalCLI, logger *slog.Logger, m *metrics.ValidatorMetrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{k8s: k8s, cli: cli, logger: logger, metrics: m}
}
