package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/internal/registry"
)

type fakeMetricsProvider struct {
	scalars map[string]*float64
	err     error
}

func (f *fakeMetricsProvider) QueryScalar(ctx context.Context, metricName string, tags map[string]string, start, end time.Time) (*float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scalars[metricName], nil
}
func (f *fakeMetricsProvider) QueryTimeseries(ctx context.Context, metricName string, tags map[string]string, start, end time.Time) ([]platform.TimeseriesPoint, error) {
	return nil, nil
}
func (f *fakeMetricsProvider) QueryStatistics(ctx context.Context, metricName string, tags map[string]string, start, end time.Time) (*platform.Statistics, error) {
	return nil, nil
}
func (f *fakeMetricsProvider) CheckActiveAlerts(ctx context.Context, tags map[string]string) ([]string, error) {
	return nil, nil
}
func (f *fakeMetricsProvider) GetMonitorStatus(ctx context.Context, monitorID string) (string, error) {
	return "", nil
}
func (f *fakeMetricsProvider) QueryRaw(ctx context.Context, promql string) ([]byte, error) { return nil, nil }

func TestOrchestrator_CaptureBaseline_UnionsRequiredMetricsAndToleratesFailure(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(NewErrorRateValidator())
	reg.Register(NewLatencyValidator())

	provider := &fakeMetricsProvider{scalars: map[string]*float64{
		metricErrorRate5xx: ptr(0.01),
		metricRequestTotal: ptr(1000),
		// latency metrics intentionally absent -> nil
	}}

	o := NewOrchestrator(reg, provider, nil, nil)
	snapshot := o.CaptureBaseline(context.Background(), testCluster(), 15)

	require.NotNil(t, snapshot.Metrics[metricErrorRate5xx])
	assert.Nil(t, snapshot.Metrics[metricLatencyP95], "missing metric must be recorded as nil, not omitted or erroring")
}

type stubValidator struct {
	name     string
	critical bool
	timeout  time.Duration
	result   registry.ValidationResult
	delay    time.Duration
	panics   bool
}

func (s *stubValidator) Name() string               { return s.name }
func (s *stubValidator) Description() string        { return "" }
func (s *stubValidator) IsCritical() bool           { return s.critical }
func (s *stubValidator) Timeout() time.Duration     { return s.timeout }
func (s *stubValidator) RequiredMetrics() []string  { return nil }
func (s *stubValidator) Validate(ctx context.Context, cluster *registry.ClusterConfig, baseline, current *registry.MetricsSnapshot, thresholds registry.ValidationThresholds) registry.ValidationResult {
	if s.panics {
		panic("boom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}
	return s.result
}

func TestOrchestrator_CriticalFailureStopsWhenFailFast(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubValidator{name: "a", critical: true, timeout: time.Second, result: registry.ValidationResult{Name: "a", Passed: false}})
	reg.Register(&stubValidator{name: "b", critical: false, timeout: time.Second, result: registry.ValidationResult{Name: "b", Passed: true}})

	o := NewOrchestrator(reg, &fakeMetricsProvider{}, nil, nil)
	results := o.ValidateUpgrade(context.Background(), testCluster(), snapshotWith(nil), snapshotWith(nil), registry.ValidationThresholds{})
	assert.Len(t, results, 1)
}

func TestOrchestrator_NonCriticalFailureDoesNotStop(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubValidator{name: "a", critical: false, timeout: time.Second, result: registry.ValidationResult{Name: "a", Passed: false}})
	reg.Register(&stubValidator{name: "b", critical: false, timeout: time.Second, result: registry.ValidationResult{Name: "b", Passed: true}})

	o := NewOrchestrator(reg, &fakeMetricsProvider{}, nil, nil)
	results := o.ValidateUpgrade(context.Background(), testCluster(), snapshotWith(nil), snapshotWith(nil), registry.ValidationThresholds{})
	assert.Len(t, results, 2)
}

func TestOrchestrator_TimeoutSynthesizesFailure(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubValidator{name: "slow", critical: false, timeout: 10 * time.Millisecond, delay: 200 * time.Millisecond, result: registry.ValidationResult{Name: "slow", Passed: true}})

	o := NewOrchestrator(reg, &fakeMetricsProvider{}, nil, nil)
	results := o.ValidateUpgrade(context.Background(), testCluster(), snapshotWith(nil), snapshotWith(nil), registry.ValidationThresholds{})
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "timed out")
}

func TestOrchestrator_PanicSynthesizesFailure(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubValidator{name: "panicky", critical: false, timeout: time.Second, panics: true})

	o := NewOrchestrator(reg, &fakeMetricsProvider{}, nil, nil)
	results := o.ValidateUpgrade(context.Background(), testCluster(), snapshotWith(nil), snapshotWith(nil), registry.ValidationThresholds{})
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "panicked")
}

func TestOrchestrator_RunSpecificValidatorsFiltersAndSkipsUnknown(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubValidator{name: "a", timeout: time.Second, result: registry.ValidationResult{Name: "a", Passed: true}})
	reg.Register(&stubValidator{name: "b", timeout: time.Second, result: registry.ValidationResult{Name: "b", Passed: true}})

	o := NewOrchestrator(reg, &fakeMetricsProvider{}, nil, nil)
	results := o.RunSpecificValidators(context.Background(), []string{"b", "unknown"}, testCluster(), snapshotWith(nil), snapshotWith(nil), registry.ValidationThresholds{})
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Name)
}

func TestRegistry_DuplicateRegistrationIgnored(t *testing.T) {
	reg := NewRegistry(nil)
	first := &stubValidator{name: "dup"}
	second := &stubValidator{name: "dup"}
	reg.Register(first)
	reg.Register(second)
	assert.Len(t, reg.All(), 1)
}

func TestRegistry_RequiredMetricsUnionedAcrossValidators(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(NewErrorRateValidator())
	reg.Register(NewLatencyValidator())
	metrics := reg.RequiredMetrics()
	assert.ElementsMatch(t, []string{metricErrorRate5xx, metricRequestTotal, metricLatencyP95, metricLatencyP99}, metrics)
}
