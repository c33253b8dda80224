package kubernetes

import (
	"context"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/guard/internal/platform"
)

func TestProvider_GetNodes(t *testing.T) {
	clientset := fake.NewSimpleClientset(&corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
		Status: corev1.NodeStatus{
			Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionTrue}},
		},
	})
	p := NewFromClientset(clientset, DefaultConfig())

	nodes, err := p.GetNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].Ready)
}

func TestProvider_WorkloadPodTemplateContainers_DetectsSidecar(t *testing.T) {
	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "payments", Namespace: "default"},
		Spec: appsv1.DeploymentSpec{
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{Name: "payments", Image: "payments:v3"},
						{Name: "istio-proxy", Image: "istio/proxyv2:1.20.1"},
					},
				},
			},
		},
	}
	clientset := fake.NewSimpleClientset(deploy)
	p := NewFromClientset(clientset, DefaultConfig())

	containers, _, hasSidecar, err := p.WorkloadPodTemplateContainers(context.Background(), workloadRef("payments"))
	require.NoError(t, err)
	assert.True(t, hasSidecar)
	assert.Len(t, containers, 2)
}

func TestProvider_CheckWorkloadReady(t *testing.T) {
	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "payments", Namespace: "default"},
		Status:     appsv1.DeploymentStatus{Replicas: 3, ReadyReplicas: 3},
	}
	clientset := fake.NewSimpleClientset(deploy)
	p := NewFromClientset(clientset, DefaultConfig())

	ready, err := p.CheckWorkloadReady(context.Background(), workloadRef("payments"))
	require.NoError(t, err)
	assert.True(t, ready)
}

func workloadRef(name string) platform.WorkloadRef {
	return platform.WorkloadRef{Kind: "Deployment", Namespace: "default", Name: name}
}
