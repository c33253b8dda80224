package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vitaliisemenov/guard/internal/registry"
)

func ptr(f float64) *float64 { return &f }

func snapshotWith(values map[string]*float64) *registry.MetricsSnapshot {
	return &registry.MetricsSnapshot{Timestamp: time.Now(), Metrics: values}
}

func testCluster() *registry.ClusterConfig {
	return &registry.ClusterConfig{ClusterID: "c-1"}
}

func TestErrorRateValidator_NoViolationsWhenWithinBounds(t *testing.T) {
	v := NewErrorRateValidator()
	baseline := snapshotWith(map[string]*float64{metricErrorRate5xx: ptr(0.01), metricRequestTotal: ptr(1000)})
	current := snapshotWith(map[string]*float64{metricErrorRate5xx: ptr(0.012), metricRequestTotal: ptr(990)})
	thresholds := registry.ValidationThresholds{ErrorRateMax: 0.05}

	result := v.Validate(nil, testCluster(), baseline, current, thresholds)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Violations)
}

func TestErrorRateValidator_ExceedsMaximum(t *testing.T) {
	v := NewErrorRateValidator()
	baseline := snapshotWith(map[string]*float64{metricErrorRate5xx: ptr(0.01), metricRequestTotal: ptr(1000)})
	current := snapshotWith(map[string]*float64{metricErrorRate5xx: ptr(0.10), metricRequestTotal: ptr(1000)})
	thresholds := registry.ValidationThresholds{ErrorRateMax: 0.05}

	result := v.Validate(nil, testCluster(), baseline, current, thresholds)
	assert.False(t, result.Passed)
	assert.Len(t, result.Violations, 1)
	assert.Contains(t, result.Violations[0], "exceeds maximum")
}

func TestErrorRateValidator_MoreThanDoubledBaselineIsViolation(t *testing.T) {
	v := NewErrorRateValidator()
	baseline := snapshotWith(map[string]*float64{metricErrorRate5xx: ptr(0.01), metricRequestTotal: ptr(1000)})
	current := snapshotWith(map[string]*float64{metricErrorRate5xx: ptr(0.025), metricRequestTotal: ptr(1000)})
	thresholds := registry.ValidationThresholds{ErrorRateMax: 0.5}

	result := v.Validate(nil, testCluster(), baseline, current, thresholds)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Violations[0], "increased")
}

func TestErrorRateValidator_RequestRateDroppedIsViolation(t *testing.T) {
	v := NewErrorRateValidator()
	baseline := snapshotWith(map[string]*float64{metricErrorRate5xx: ptr(0.01), metricRequestTotal: ptr(1000)})
	current := snapshotWith(map[string]*float64{metricErrorRate5xx: ptr(0.01), metricRequestTotal: ptr(700)})
	thresholds := registry.ValidationThresholds{ErrorRateMax: 0.5}

	result := v.Validate(nil, testCluster(), baseline, current, thresholds)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Violations[0], "dropped")
}

func TestErrorRateValidator_AllViolationsReportedTogether(t *testing.T) {
	v := NewErrorRateValidator()
	baseline := snapshotWith(map[string]*float64{metricErrorRate5xx: ptr(0.01), metricRequestTotal: ptr(1000)})
	current := snapshotWith(map[string]*float64{metricErrorRate5xx: ptr(0.5), metricRequestTotal: ptr(100)})
	thresholds := registry.ValidationThresholds{ErrorRateMax: 0.05}

	result := v.Validate(nil, testCluster(), baseline, current, thresholds)
	assert.False(t, result.Passed)
	assert.Len(t, result.Violations, 3, "all three rules must be evaluated independently")
}

func TestErrorRateValidator_MissingCurrentMetricFails(t *testing.T) {
	v := NewErrorRateValidator()
	baseline := snapshotWith(map[string]*float64{metricErrorRate5xx: ptr(0.01), metricRequestTotal: ptr(1000)})
	current := snapshotWith(map[string]*float64{metricErrorRate5xx: nil, metricRequestTotal: ptr(1000)})
	thresholds := registry.ValidationThresholds{ErrorRateMax: 0.05}

	result := v.Validate(nil, testCluster(), baseline, current, thresholds)
	assert.False(t, result.Passed)
}

func TestLatencyValidator_PercentIncreaseBelowThresholdPasses(t *testing.T) {
	v := NewLatencyValidator()
	baseline := snapshotWith(map[string]*float64{metricLatencyP95: ptr(100), metricLatencyP99: ptr(200)})
	current := snapshotWith(map[string]*float64{metricLatencyP95: ptr(105), metricLatencyP99: ptr(210)})
	thresholds := registry.ValidationThresholds{LatencyP95IncreasePercent: 20, LatencyP99IncreasePercent: 20}

	result := v.Validate(nil, testCluster(), baseline, current, thresholds)
	assert.True(t, result.Passed)
}

func TestLatencyValidator_PercentIncreaseAboveThresholdFails(t *testing.T) {
	v := NewLatencyValidator()
	baseline := snapshotWith(map[string]*float64{metricLatencyP95: ptr(100), metricLatencyP99: ptr(200)})
	current := snapshotWith(map[string]*float64{metricLatencyP95: ptr(150), metricLatencyP99: ptr(210)})
	thresholds := registry.ValidationThresholds{LatencyP95IncreasePercent: 20, LatencyP99IncreasePercent: 20}

	result := v.Validate(nil, testCluster(), baseline, current, thresholds)
	assert.False(t, result.Passed)
	violations := result.Violations
	assert.Len(t, violations, 1)
	assert.Contains(t, violations[0], "p95")
	assert.Contains(t, violations[0], "100.0 -> 150.0")
	assert.Contains(t, violations[0], "ms")
}

func TestLatencyValidator_ZeroBaselineSkipsPercentile(t *testing.T) {
	v := NewLatencyValidator()
	baseline := snapshotWith(map[string]*float64{metricLatencyP95: ptr(0), metricLatencyP99: ptr(200)})
	current := snapshotWith(map[string]*float64{metricLatencyP95: ptr(50), metricLatencyP99: ptr(210)})
	thresholds := registry.ValidationThresholds{LatencyP95IncreasePercent: 1, LatencyP99IncreasePercent: 20}

	result := v.Validate(nil, testCluster(), baseline, current, thresholds)
	assert.True(t, result.Passed, "p95 with zero baseline must be skipped, not treated as infinite increase")
}

func TestLatencyValidator_BoundaryEqualToThresholdPasses(t *testing.T) {
	v := NewLatencyValidator()
	baseline := snapshotWith(map[string]*float64{metricLatencyP95: ptr(100), metricLatencyP99: ptr(200)})
	current := snapshotWith(map[string]*float64{metricLatencyP95: ptr(120), metricLatencyP99: ptr(200)})
	thresholds := registry.ValidationThresholds{LatencyP95IncreasePercent: 20, LatencyP99IncreasePercent: 20}

	result := v.Validate(nil, testCluster(), baseline, current, thresholds)
	assert.True(t, result.Passed, "exactly at threshold must pass: the rule is strictly greater than")
}
