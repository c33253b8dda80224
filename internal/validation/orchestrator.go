package validation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/internal/registry"
	"github.com/vitaliisemenov/guard/pkg/metrics"
)

// Orchestrator captures baseline/current metric snapshots and dispatches
// the registered validators against them, isolating per-validator timeouts
// and panics the same way checks.Orchestrator isolates checks.
type Orchestrator struct {
	registry *Registry
	metricsP platform.MetricsProvider
	logger   *slog.Logger
	metrics  *metrics.ValidatorMetrics

	// FailFast stops validate_upgrade after the first failed critical
	// validator. Defaults to true.
	FailFast bool
}

func NewOrchestrator(reg *Registry, metricsProvider platform.MetricsProvider, logger *slog.Logger, m *metrics.ValidatorMetrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{registry: reg, metricsP: metricsProvider, logger: logger, metrics: m, FailFast: true}
}

// CaptureBaseline unions the required metrics across every registered
// validator and queries each over [now-duration, now], tolerating
// per-metric failures by storing a nil value rather than aborting.
func (o *Orchestrator) CaptureBaseline(ctx context.Context, cluster *registry.ClusterConfig, durationMinutes int) *registry.MetricsSnapshot {
	return o.capture(ctx, cluster, durationMinutes, time.Now())
}

// CaptureCurrent queries the same metric set as baseline over the most
// recent duration, ending now.
func (o *Orchestrator) CaptureCurrent(ctx context.Context, cluster *registry.ClusterConfig, baseline *registry.MetricsSnapshot, durationMinutes int) *registry.MetricsSnapshot {
	return o.capture(ctx, cluster, durationMinutes, time.Now())
}

func (o *Orchestrator) capture(ctx context.Context, cluster *registry.ClusterConfig, durationMinutes int, end time.Time) *registry.MetricsSnapshot {
	start := end.Add(-time.Duration(durationMinutes) * time.Minute)
	tags := clusterTags(cluster)

	snapshot := &registry.MetricsSnapshot{
		Timestamp: end,
		Metrics:   make(map[string]*float64),
		Tags:      tags,
	}

	for _, metricName := range o.registry.RequiredMetrics() {
		value, err := o.metricsP.QueryScalar(ctx, metricName, tags, start, end)
		if err != nil {
			o.logger.Warn("metric query failed, recording as missing", "metric", metricName, "cluster_id", cluster.ClusterID, "error", err)
			snapshot.Metrics[metricName] = nil
			continue
		}
		snapshot.Metrics[metricName] = value
	}

	return snapshot
}

func clusterTags(cluster *registry.ClusterConfig) map[string]string {
	return map[string]string{
		"cluster": cluster.DatadogTags.Cluster,
		"service": cluster.DatadogTags.Service,
		"env":     cluster.DatadogTags.Env,
	}
}

// ValidateUpgrade dispatches every registered validator in registration
// order, with per-validator timeout and panic isolation. If FailFast is
// set and a critical validator fails, remaining validators are skipped.
func (o *Orchestrator) ValidateUpgrade(ctx context.Context, cluster *registry.ClusterConfig, baseline, current *registry.MetricsSnapshot, thresholds registry.ValidationThresholds) []registry.ValidationResult {
	return o.run(ctx, o.registry.All(), cluster, baseline, current, thresholds)
}

// RunSpecificValidators runs only the named validators. Unknown names are
// logged and skipped by the registry lookup.
func (o *Orchestrator) RunSpecificValidators(ctx context.Context, names []string, cluster *registry.ClusterConfig, baseline, current *registry.MetricsSnapshot, thresholds registry.ValidationThresholds) []registry.ValidationResult {
	return o.run(ctx, o.registry.ByNames(names), cluster, baseline, current, thresholds)
}

func (o *Orchestrator) run(ctx context.Context, validators []Validator, cluster *registry.ClusterConfig, baseline, current *registry.MetricsSnapshot, thresholds registry.ValidationThresholds) []registry.ValidationResult {
	results := make([]registry.ValidationResult, 0, len(validators))

	for _, v := range validators {
		result := o.runOne(ctx, v, cluster, baseline, current, thresholds)
		results = append(results, result)

		outcome := "pass"
		if !result.Passed {
			outcome = "fail"
		}
		if o.metrics != nil {
			o.metrics.RecordRun(v.Name(), outcome)
		}

		if !result.Passed && v.IsCritical() && o.FailFast {
			o.logger.Warn("critical validator failed, skipping remaining validators",
				"validator", v.Name(), "cluster_id", cluster.ClusterID)
			break
		}
	}

	return results
}

func (o *Orchestrator) runOne(ctx context.Context, v Validator, cluster *registry.ClusterConfig, baseline, current *registry.MetricsSnapshot, thresholds registry.ValidationThresholds) (result registry.ValidationResult) {
	timeout := v.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	validateCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan registry.ValidationResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- registry.ValidationResult{
					Name:      v.Name(),
					Passed:    false,
					Message:   fmt.Sprintf("validator panicked: %v", r),
					ClusterID: cluster.ClusterID,
					Timestamp: time.Now(),
				}
			}
		}()
		done <- v.Validate(validateCtx, cluster, baseline, current, thresholds)
	}()

	select {
	case result = <-done:
		return result
	case <-validateCtx.Done():
		return registry.ValidationResult{
			Name:      v.Name(),
			Passed:    false,
			Message:   fmt.Sprintf("validator %q timed out after %s", v.Name(), timeout),
			ClusterID: cluster.ClusterID,
			Timestamp: time.Now(),
		}
	}
}
