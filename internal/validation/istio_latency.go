package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/vitaliisemenov/guard/internal/registry"
)

const (
	metricLatencyP95 = "istio.request.latency.p95"
	metricLatencyP99 = "istio.request.latency.p99"
)

// LatencyValidator flags a percent increase in p95/p99 request latency
// that exceeds the matching threshold, relative to baseline.
type LatencyValidator struct {
	Critical bool
}

func NewLatencyValidator() *LatencyValidator {
	return &LatencyValidator{Critical: false}
}

func (v *LatencyValidator) Name() string          { return "istio_latency" }
func (v *LatencyValidator) Description() string   { return "compares p95/p99 request latency percent increase against baseline" }
func (v *LatencyValidator) IsCritical() bool       { return v.Critical }
func (v *LatencyValidator) Timeout() time.Duration { return 30 * time.Second }
func (v *LatencyValidator) RequiredMetrics() []string {
	return []string{metricLatencyP95, metricLatencyP99}
}

func (v *LatencyValidator) Validate(ctx context.Context, cluster *registry.ClusterConfig, baseline, current *registry.MetricsSnapshot, thresholds registry.ValidationThresholds) registry.ValidationResult {
	now := time.Now()

	var violations []string
	metricsOut := make(map[string]interface{})

	checks := []struct {
		metric       string
		thresholdPct float64
		label        string
	}{
		{metricLatencyP95, thresholds.LatencyP95IncreasePercent, "p95"},
		{metricLatencyP99, thresholds.LatencyP99IncreasePercent, "p99"},
	}

	for _, c := range checks {
		baselineVal := baseline.Metrics[c.metric]
		currentVal := current.Metrics[c.metric]
		if baselineVal == nil || currentVal == nil || *baselineVal <= 0 {
			continue
		}

		percentIncrease := (*currentVal - *baselineVal) / *baselineVal * 100
		metricsOut[c.label+"_percent_increase"] = percentIncrease

		if percentIncrease > c.thresholdPct {
			violations = append(violations, fmt.Sprintf(
				"%s latency increased %.1f%% (threshold %.1f%%): %.1f -> %.1f ms",
				c.label, percentIncrease, c.thresholdPct, *baselineVal, *currentVal,
			))
		}
	}

	result := registry.ValidationResult{
		Name:       v.Name(),
		Passed:     len(violations) == 0,
		ClusterID:  cluster.ClusterID,
		Violations: violations,
		Metrics:    metricsOut,
		Timestamp:  now,
	}
	if result.Passed {
		result.Message = "latency within thresholds"
	} else {
		result.Message = fmt.Sprintf("%d violation(s) detected", len(violations))
	}
	return result
}
