// Package checks implements the pre-flight check framework: a registry of
// named checks and an orchestrator that runs them with per-check timeout
// and failure isolation.
package checks

import (
	"context"
	"time"

	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/internal/registry"
)

// Context carries the capability handles a check may need, plus a small
// extras bag for rare ad-hoc values. Checks must not hidden-couple to
// extras keys that aren't documented by the check itself.
type Context struct {
	Kubernetes platform.KubernetesProvider
	Cloud      platform.CloudProvider
	Metrics    platform.MetricsProvider
	CLI        platform.ExternalCLI
	Extras     map[string]any
}

// Result is the outcome of running one Check.
type Result struct {
	Name      string
	Passed    bool
	Message   string
	Metrics   map[string]any
	Timestamp time.Time
}

// Check is a single pre-flight predicate over a cluster.
type Check interface {
	Name() string
	Description() string
	IsCritical() bool
	Timeout() time.Duration
	Execute(ctx context.Context, cluster *registry.ClusterConfig, checkCtx *Context) Result
}
