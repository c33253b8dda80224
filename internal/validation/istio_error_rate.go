package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/vitaliisemenov/guard/internal/registry"
)

const (
	metricErrorRate5xx = "istio.request.error.5xx.rate"
	metricRequestTotal = "istio.request.total.rate"
)

// ErrorRateValidator flags a 5xx error rate that breaches an absolute
// ceiling, more than doubles relative to baseline, or is accompanied by a
// suspicious drop in overall request volume (a common symptom of an
// upgrade silently breaking routing rather than raising errors outright).
type ErrorRateValidator struct {
	Critical bool
}

func NewErrorRateValidator() *ErrorRateValidator {
	return &ErrorRateValidator{Critical: true}
}

func (v *ErrorRateValidator) Name() string        { return "istio_error_rate" }
func (v *ErrorRateValidator) Description() string { return "compares 5xx error rate and request volume against baseline and absolute thresholds" }
func (v *ErrorRateValidator) IsCritical() bool     { return v.Critical }
func (v *ErrorRateValidator) Timeout() time.Duration { return 30 * time.Second }
func (v *ErrorRateValidator) RequiredMetrics() []string {
	return []string{metricErrorRate5xx, metricRequestTotal}
}

func (v *ErrorRateValidator) Validate(ctx context.Context, cluster *registry.ClusterConfig, baseline, current *registry.MetricsSnapshot, thresholds registry.ValidationThresholds) registry.ValidationResult {
	now := time.Now()

	currentErr := current.Metrics[metricErrorRate5xx]
	baselineErr := baseline.Metrics[metricErrorRate5xx]
	currentReq := current.Metrics[metricRequestTotal]
	baselineReq := baseline.Metrics[metricRequestTotal]

	if currentErr == nil || currentReq == nil {
		return registry.ValidationResult{
			Name:      v.Name(),
			Passed:    false,
			Message:   "required metrics unavailable in current window",
			ClusterID: cluster.ClusterID,
			Timestamp: now,
		}
	}

	var violations []string

	if *currentErr > thresholds.ErrorRateMax {
		violations = append(violations, fmt.Sprintf("error rate %.4f exceeds maximum %.4f", *currentErr, thresholds.ErrorRateMax))
	}

	if baselineErr != nil && *baselineErr > 0 && *currentErr > 2*(*baselineErr) {
		violations = append(violations, fmt.Sprintf("error rate increased from %.4f to %.4f (more than 2x baseline)", *baselineErr, *currentErr))
	}

	if baselineReq != nil && *baselineReq > 0 && *currentReq < 0.8*(*baselineReq) {
		violations = append(violations, fmt.Sprintf("request rate dropped from %.4f to %.4f (below 80%% of baseline)", *baselineReq, *currentReq))
	}

	result := registry.ValidationResult{
		Name:       v.Name(),
		Passed:     len(violations) == 0,
		ClusterID:  cluster.ClusterID,
		Violations: violations,
		Timestamp:  now,
		Metrics: map[string]interface{}{
			"current_error_rate": *currentErr,
			"current_request_rate": *currentReq,
		},
	}
	if result.Passed {
		result.Message = "error rate and request volume within thresholds"
	} else {
		result.Message = fmt.Sprintf("%d violation(s) detected", len(violations))
	}
	return result
}
