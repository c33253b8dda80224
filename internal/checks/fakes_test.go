package checks

import (
	"context"

	"github.com/vitaliisemenov/guard/internal/platform"
)

type fakeK8s struct {
	nodes          []platform.NodeInfo
	pods           map[string][]platform.PodInfo
	namespaces     []string
	err            error
}

func (f *fakeK8s) GetNodes(ctx context.Context) ([]platform.NodeInfo, error) {
	return f.nodes, f.err
}

func (f *fakeK8s) GetPods(ctx context.Context, namespace string) ([]platform.PodInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pods[namespace], nil
}

func (f *fakeK8s) GetNamespacesWithLabel(ctx context.Context, labelSelector string) ([]string, error) {
	return f.namespaces, f.err
}

func (f *fakeK8s) GetWorkloads(ctx context.Context, namespace, kind string) ([]platform.WorkloadRef, error) {
	return nil, nil
}

func (f *fakeK8s) WorkloadPodTemplateContainers(ctx context.Context, ref platform.WorkloadRef) ([]platform.ContainerInfo, map[string]string, bool, error) {
	return nil, nil, false, nil
}

func (f *fakeK8s) RestartWorkload(ctx context.Context, ref platform.WorkloadRef) error { return nil }

func (f *fakeK8s) CheckWorkloadReady(ctx context.Context, ref platform.WorkloadRef) (bool, error) {
	return true, nil
}

type fakeCLI struct {
	output []byte
	err    error
}

func (f *fakeCLI) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f.output, f.err
}
