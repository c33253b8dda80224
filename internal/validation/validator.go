// Package validation compares baseline and post-upgrade metric snapshots
// against per-cluster thresholds, emitting the violations that drive the
// rollback decision.
package validation

import (
	"context"
	"time"

	"github.com/vitaliisemenov/guard/internal/registry"
)

// Validator checks one dimension of post-upgrade health by comparing a
// baseline metrics snapshot to the current one.
type Validator interface {
	Name() string
	Description() string
	IsCritical() bool
	Timeout() time.Duration
	RequiredMetrics() []string
	Validate(ctx context.Context, cluster *registry.ClusterConfig, baseline, current *registry.MetricsSnapshot, thresholds registry.ValidationThresholds) registry.ValidationResult
}
