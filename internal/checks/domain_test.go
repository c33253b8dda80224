package checks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/internal/registry"
)

func sampleCluster() *registry.ClusterConfig {
	return &registry.ClusterConfig{ClusterID: "cluster-a", CurrentIstioVersion: "1.20.0"}
}

func TestControlPlaneReachableCheck_NoNodesFails(t *testing.T) {
	k8s := &fakeK8s{}
	check := NewControlPlaneReachableCheck()
	result := check.Execute(t.Context(), sampleCluster(), &Context{Kubernetes: k8s})
	assert.False(t, result.Passed)
}

func TestControlPlaneReachableCheck_PropagatesError(t *testing.T) {
	k8s := &fakeK8s{err: errors.New("api unreachable")}
	check := NewControlPlaneReachableCheck()
	result := check.Execute(t.Context(), sampleCluster(), &Context{Kubernetes: k8s})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "api unreachable")
}

func TestAllNodesReadyCheck_ListsUnreadyNodes(t *testing.T) {
	k8s := &fakeK8s{nodes: []platform.NodeInfo{{Name: "node-1", Ready: true}, {Name: "node-2", Ready: false}}}
	check := NewAllNodesReadyCheck()
	result := check.Execute(t.Context(), sampleCluster(), &Context{Kubernetes: k8s})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "node-2")
	assert.Equal(t, 1, result.Metrics["unready_count"])
}

func TestNamespacedPodHealthCheck_TruncatesToFiveUnready(t *testing.T) {
	pods := make([]platform.PodInfo, 8)
	for i := range pods {
		pods[i] = platform.PodInfo{Name: "pod-" + string(rune('a'+i)), Ready: false}
	}
	k8s := &fakeK8s{pods: map[string][]platform.PodInfo{"kube-system": pods}}
	check := NewNamespacedPodHealthCheck(nil)
	result := check.Execute(t.Context(), sampleCluster(), &Context{Kubernetes: k8s})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "…")
}

func TestMeshConfigAnalysisCheck_ErrorLinesFail(t *testing.T) {
	cli := &fakeCLI{output: []byte("Info: fine\nError: conflicting virtual services\n")}
	check := NewMeshConfigAnalysisCheck()
	result := check.Execute(t.Context(), sampleCluster(), &Context{CLI: cli})
	assert.False(t, result.Passed)
	assert.Equal(t, 1, result.Metrics["errors"])
}

func TestMeshConfigAnalysisCheck_OnlyWarningsPass(t *testing.T) {
	cli := &fakeCLI{output: []byte("Warning: deprecated field\n")}
	check := NewMeshConfigAnalysisCheck()
	result := check.Execute(t.Context(), sampleCluster(), &Context{CLI: cli})
	assert.True(t, result.Passed)
	assert.Equal(t, 1, result.Metrics["warnings"])
}

func TestSidecarVersionCheck_MismatchDetected(t *testing.T) {
	k8s := &fakeK8s{
		namespaces: []string{"payments"},
		pods: map[string][]platform.PodInfo{
			"payments": {
				{Name: "pod-1", Containers: []platform.ContainerInfo{{Name: "istio-proxy", Image: "istio/proxyv2:1.19.0"}}},
				{Name: "pod-2", Containers: []platform.ContainerInfo{{Name: "istio-proxy", Image: "istio/proxyv2:1.20.0"}}},
			},
		},
	}
	check := NewSidecarVersionCheck()
	result := check.Execute(t.Context(), sampleCluster(), &Context{Kubernetes: k8s})
	assert.False(t, result.Passed)
	assert.Equal(t, 2, result.Metrics["total_pods"])
	assert.Equal(t, 1, result.Metrics["mismatches"])
}

func TestSidecarVersionCheck_InvalidTagSkippedButCounted(t *testing.T) {
	k8s := &fakeK8s{
		namespaces: []string{"payments"},
		pods: map[string][]platform.PodInfo{
			"payments": {
				{Name: "pod-1", Containers: []platform.ContainerInfo{{Name: "istio-proxy", Image: "istio/proxyv2:latest"}}},
			},
		},
	}
	check := NewSidecarVersionCheck()
	result := check.Execute(t.Context(), sampleCluster(), &Context{Kubernetes: k8s})
	assert.True(t, result.Passed)
	assert.Equal(t, 1, result.Metrics["total_pods"])
	assert.Equal(t, 0, result.Metrics["mismatches"])
}

func TestOrchestrator_NonCriticalFailureDoesNotStop(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubCheck{name: "a", critical: false, passed: false})
	reg.Register(&stubCheck{name: "b", critical: false, passed: true})

	orch := NewOrchestrator(reg, nil, nil)
	results := orch.RunAll(t.Context(), sampleCluster(), &Context{})
	require.Len(t, results, 2)
}

func TestOrchestrator_CriticalFailureStopsWhenFailFast(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubCheck{name: "a", critical: true, passed: false})
	reg.Register(&stubCheck{name: "b", critical: false, passed: true})

	orch := NewOrchestrator(reg, nil, nil)
	orch.FailFast = true
	results := orch.RunAll(t.Context(), sampleCluster(), &Context{})
	require.Len(t, results, 1)
}

func TestOrchestrator_TimeoutSynthesizesFailure(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubCheck{name: "slow", critical: false, passed: true, delay: 50 * time.Millisecond, timeout: 5 * time.Millisecond})

	orch := NewOrchestrator(reg, nil, nil)
	results := orch.RunAll(t.Context(), sampleCluster(), &Context{})
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "timed out")
}

func TestOrchestrator_PanicSynthesizesFailure(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubCheck{name: "panics", critical: false, panics: true})

	orch := NewOrchestrator(reg, nil, nil)
	results := orch.RunAll(t.Context(), sampleCluster(), &Context{})
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
}

func TestRegistry_DuplicateRegistrationIgnored(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubCheck{name: "a"})
	reg.Register(&stubCheck{name: "a"})
	assert.Len(t, reg.All(), 1)
}

type stubCheck struct {
	name     string
	critical bool
	passed   bool
	delay    time.Duration
	timeout  time.Duration
	panics   bool
}

func (s *stubCheck) Name() string        { return s.name }
func (s *stubCheck) Description() string { return s.name }
func (s *stubCheck) IsCritical() bool    { return s.critical }
func (s *stubCheck) Timeout() time.Duration {
	if s.timeout == 0 {
		return time.Second
	}
	return s.timeout
}

func (s *stubCheck) Execute(ctx context.Context, cluster *registry.ClusterConfig, checkCtx *Context) Result {
	if s.panics {
		panic("boom")
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return Result{Name: s.name, Passed: s.passed, Timestamp: time.Now()}
}
