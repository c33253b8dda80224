package validationengine

import (
	"context"
	"sync"

	"github.com/vitaliisemenov/guard/internal/platform"
)

type fakeK8s struct {
	mu sync.Mutex

	pods       map[string][]platform.PodInfo
	namespaces map[string][]string // labelSelector -> namespaces
	workloads  map[string][]platform.WorkloadRef // namespace/kind -> refs
	containers map[string]workloadTemplate // namespace/kind/name -> template
	ready      map[string]bool // namespace/kind/name -> ready

	restartCalls []platform.WorkloadRef
	restartErr   map[string]error
}

type workloadTemplate struct {
	containers  []platform.ContainerInfo
	annotations map[string]string
}

func newFakeK8s() *fakeK8s {
	return &fakeK8s{
		pods:       make(map[string][]platform.PodInfo),
		namespaces: make(map[string][]string),
		workloads:  make(map[string][]platform.WorkloadRef),
		containers: make(map[string]workloadTemplate),
		ready:      make(map[string]bool),
		restartErr: make(map[string]error),
	}
}

func workloadKey(ref platform.WorkloadRef) string {
	return ref.Namespace + "/" + ref.Kind + "/" + ref.Name
}

func (f *fakeK8s) GetNodes(ctx context.Context) ([]platform.NodeInfo, error) { return nil, nil }

func (f *fakeK8s) GetPods(ctx context.Context, namespace string) ([]platform.PodInfo, error) {
	return f.pods[namespace], nil
}

func (f *fakeK8s) GetNamespacesWithLabel(ctx context.Context, labelSelector string) ([]string, error) {
	return f.namespaces[labelSelector], nil
}

func (f *fakeK8s) GetWorkloads(ctx context.Context, namespace, kind string) ([]platform.WorkloadRef, error) {
	return f.workloads[namespace+"/"+kind], nil
}

func (f *fakeK8s) WorkloadPodTemplateContainers(ctx context.Context, ref platform.WorkloadRef) ([]platform.ContainerInfo, map[string]string, bool, error) {
	tmpl := f.containers[workloadKey(ref)]
	_, hasSidecar := hasSidecarContainer(tmpl.containers)
	return tmpl.containers, tmpl.annotations, hasSidecar, nil
}

func hasSidecarContainer(containers []platform.ContainerInfo) (platform.ContainerInfo, bool) {
	for _, c := range containers {
		if c.Name == "istio-proxy" {
			return c, true
		}
	}
	return platform.ContainerInfo{}, false
}

func (f *fakeK8s) RestartWorkload(ctx context.Context, ref platform.WorkloadRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartCalls = append(f.restartCalls, ref)
	return f.restartErr[workloadKey(ref)]
}

func (f *fakeK8s) CheckWorkloadReady(ctx context.Context, ref platform.WorkloadRef) (bool, error) {
	ready, ok := f.ready[workloadKey(ref)]
	if !ok {
		return true, nil
	}
	return ready, nil
}

type fakeCLI struct {
	mu       sync.Mutex
	outputs  map[string][]byte
	errs     map[string]error
	callArgs [][]string
}

func newFakeCLI() *fakeCLI {
	return &fakeCLI{outputs: make(map[string][]byte), errs: make(map[string]error)}
}

func cliKey(name string, args ...string) string {
	key := name
	for _, a := range args {
		key += " " + a
	}
	return key
}

func (f *fakeCLI) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.callArgs = append(f.callArgs, append([]string{name}, args...))
	f.mu.Unlock()
	key := cliKey(name, args...)
	return f.outputs[key], f.errs[key]
}
