package validationengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/internal/registry"
)

func TestValidateIstioDeployment_PassesWhenEverythingHealthy(t *testing.T) {
	k8s := newFakeK8s()
	k8s.pods[istioSystemNamespace] = []platform.PodInfo{
		{Name: "istiod-abc123", Ready: true},
		{Name: "istio-ingressgateway-xyz", Ready: true, Labels: map[string]string{"app": "istio-ingressgateway"}},
	}

	cli := newFakeCLI()
	cli.outputs[cliKey("istioctl", "analyze", "--all-namespaces")] = []byte("No validation issues found.\n")
	cli.outputs[cliKey("istioctl", "proxy-status")] = []byte("NAME\nistiod-abc123.SYNCED\n")

	e := NewEngine(k8s, cli, nil, nil)
	result := e.ValidateIstioDeployment(context.Background(), &registry.ClusterConfig{ClusterID: "c-1"})
	assert.True(t, result.Passed)
}

func TestValidateIstioDeployment_NoIstiodPodsFails(t *testing.T) {
	k8s := newFakeK8s()
	cli := newFakeCLI()
	cli.outputs[cliKey("istioctl", "analyze", "--all-namespaces")] = []byte("")
	cli.outputs[cliKey("istioctl", "proxy-status")] = []byte("NAME\n")

	e := NewEngine(k8s, cli, nil, nil)
	result := e.ValidateIstioDeployment(context.Background(), &registry.ClusterConfig{ClusterID: "c-1"})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "no istiod pods")
}

func TestValidateIstioDeployment_MissingGatewayIsTolerated(t *testing.T) {
	k8s := newFakeK8s()
	k8s.pods[istioSystemNamespace] = []platform.PodInfo{{Name: "istiod-abc123", Ready: true}}
	cli := newFakeCLI()
	cli.outputs[cliKey("istioctl", "analyze", "--all-namespaces")] = []byte("")
	cli.outputs[cliKey("istioctl", "proxy-status")] = []byte("NAME\n")

	e := NewEngine(k8s, cli, nil, nil)
	result := e.ValidateIstioDeployment(context.Background(), &registry.ClusterConfig{ClusterID: "c-1"})
	assert.True(t, result.Passed)
}

func TestValidateIstioDeployment_MeshAnalyzeErrorFails(t *testing.T) {
	k8s := newFakeK8s()
	k8s.pods[istioSystemNamespace] = []platform.PodInfo{{Name: "istiod-abc123", Ready: true}}
	cli := newFakeCLI()
	cli.outputs[cliKey("istioctl", "analyze", "--all-namespaces")] = []byte("Error: something is broken\n")
	cli.outputs[cliKey("istioctl", "proxy-status")] = []byte("NAME\n")

	e := NewEngine(k8s, cli, nil, nil)
	result := e.ValidateIstioDeployment(context.Background(), &registry.ClusterConfig{ClusterID: "c-1"})
	assert.False(t, result.Passed)
}

func TestValidateIstioDeployment_UnsyncedProxiesReportedUpToThree(t *testing.T) {
	k8s := newFakeK8s()
	k8s.pods[istioSystemNamespace] = []platform.PodInfo{{Name: "istiod-abc123", Ready: true}}
	cli := newFakeCLI()
	cli.outputs[cliKey("istioctl", "analyze", "--all-namespaces")] = []byte("")
	cli.outputs[cliKey("istioctl", "proxy-status")] = []byte(
		"NAME\n" +
			"pod-a.STALE\n" +
			"pod-b.STALE\n" +
			"pod-c.STALE\n" +
			"pod-d.STALE\n" +
			"pod-e.SYNCED\n",
	)

	e := NewEngine(k8s, cli, nil, nil)
	result := e.ValidateIstioDeployment(context.Background(), &registry.ClusterConfig{ClusterID: "c-1"})
	require.False(t, result.Passed)
	assert.Equal(t, 4, result.Metrics["unsynced_proxies"])
}
