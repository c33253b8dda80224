package checks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/guard/internal/registry"
	"github.com/vitaliisemenov/guard/pkg/metrics"
)

// Orchestrator runs a fixed sequence of checks against one cluster with
// per-check timeout, exception isolation, and a fail-fast policy on
// critical failures.
type Orchestrator struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.CheckMetrics

	// FailFast stops the run after the first failed critical check.
	// Defaults to true.
	FailFast bool
}

func NewOrchestrator(reg *Registry, logger *slog.Logger, m *metrics.CheckMetrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{registry: reg, logger: logger, metrics: m, FailFast: true}
}

// RunAll runs every registered check in registration order.
func (o *Orchestrator) RunAll(ctx context.Context, cluster *registry.ClusterConfig, checkCtx *Context) []Result {
	return o.run(ctx, o.registry.All(), cluster, checkCtx)
}

// RunCriticalOnly runs only checks marked IsCritical().
func (o *Orchestrator) RunCriticalOnly(ctx context.Context, cluster *registry.ClusterConfig, checkCtx *Context) []Result {
	return o.run(ctx, o.registry.Critical(), cluster, checkCtx)
}

// RunSpecific runs the named checks, in the order names was given. Unknown
// names are logged and skipped by the registry lookup.
func (o *Orchestrator) RunSpecific(ctx context.Context, names []string, cluster *registry.ClusterConfig, checkCtx *Context) []Result {
	return o.run(ctx, o.registry.ByNames(names), cluster, checkCtx)
}

func (o *Orchestrator) run(ctx context.Context, checksToRun []Check, cluster *registry.ClusterConfig, checkCtx *Context) []Result {
	results := make([]Result, 0, len(checksToRun))

	for _, check := range checksToRun {
		start := time.Now()
		result := o.runOne(ctx, check, cluster, checkCtx)
		elapsed := time.Since(start)
		results = append(results, result)

		outcome := "pass"
		if !result.Passed {
			outcome = "fail"
		}
		if o.metrics != nil {
			o.metrics.RecordRun(check.Name(), outcome, elapsed.Seconds())
		}

		if !result.Passed && check.IsCritical() && o.FailFast {
			o.logger.Warn("critical check failed, skipping remaining checks",
				"check", check.Name(), "cluster_id", cluster.ClusterID)
			break
		}
	}

	return results
}

// runOne executes a single check with its own timeout and recovers from
// any panic at the check boundary: a misbehaving check can never escape
// the orchestrator or abort its peers.
func (o *Orchestrator) runOne(ctx context.Context, check Check, cluster *registry.ClusterConfig, checkCtx *Context) (result Result) {
	timeout := check.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	checkCtxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{
					Name:      check.Name(),
					Passed:    false,
					Message:   fmt.Sprintf("check panicked: %v", r),
					Timestamp: time.Now(),
				}
			}
		}()
		done <- check.Execute(checkCtxWithTimeout, cluster, checkCtx)
	}()

	select {
	case result = <-done:
		return result
	case <-checkCtxWithTimeout.Done():
		return Result{
			Name:      check.Name(),
			Passed:    false,
			Message:   fmt.Sprintf("check %q timed out after %s", check.Name(), timeout),
			Timestamp: time.Now(),
		}
	}
}
