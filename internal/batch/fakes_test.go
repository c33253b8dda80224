package batch

import (
	"context"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/guard/internal/lock"
	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/internal/registry"
	"github.com/vitaliisemenov/guard/pkg/metrics"
)

func newTestLocker() *lock.Locker {
	mr, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := metrics.NewRegistry("guard_test_batch", nil).Lock()
	return lock.New(client, lock.Config{TTL: 5 * time.Second, AcquireWaitStep: 10 * time.Millisecond}, nil, m)
}

// fakeStore is an in-memory registry.Store keyed by cluster id.
type fakeStore struct {
	mu       sync.Mutex
	clusters map[string]*registry.ClusterConfig
}

func newFakeStore(clusters ...*registry.ClusterConfig) *fakeStore {
	s := &fakeStore{clusters: make(map[string]*registry.ClusterConfig)}
	for _, c := range clusters {
		cp := *c
		s.clusters[c.ClusterID] = &cp
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, clusterID string) (*registry.ClusterConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[clusterID]
	if !ok {
		return nil, &registry.ErrNotFound{ClusterID: clusterID}
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) QueryByBatch(ctx context.Context, batchID string) ([]*registry.ClusterConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*registry.ClusterConfig
	for _, c := range s.clusters {
		if c.BatchID == batchID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) Put(ctx context.Context, cfg *registry.ClusterConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.clusters[cfg.ClusterID] = &cp
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, clusterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clusters, clusterID)
	return nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, clusterID string, newStatus registry.ClusterStatus, extra map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[clusterID]
	if !ok {
		return &registry.ErrNotFound{ClusterID: clusterID}
	}
	c.Status = newStatus
	c.Version++
	return nil
}

func (s *fakeStore) UpdateStatusAtomic(ctx context.Context, clusterID string, expectedStatus, newStatus registry.ClusterStatus, extra map[string]string) (registry.UpdateOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[clusterID]
	if !ok {
		return registry.Rejected, &registry.ErrNotFound{ClusterID: clusterID}
	}
	if c.Status != expectedStatus {
		return registry.Rejected, nil
	}
	c.Status = newStatus
	c.Version++
	return registry.Applied, nil
}

func (s *fakeStore) ValidateBatchPrerequisites(ctx context.Context, batchID string, prerequisites map[string][]string) (bool, string, error) {
	return true, "", nil
}

func (s *fakeStore) Close() error { return nil }

// fakeGitOpsProvider is a minimal platform.GitOpsProvider stub for the
// batch pipeline: every branch/commit call succeeds and merge requests are
// assigned a deterministic URL.
type fakeGitOpsProvider struct {
	mu      sync.Mutex
	files   map[string][]byte
	mrCalls int
	failMR  bool
}

func newFakeGitOpsProvider() *fakeGitOpsProvider {
	return &fakeGitOpsProvider{files: map[string][]byte{
		"infra/repo/clusters/istio.yaml": []byte("spec:\n  chart:\n    spec:\n      version: \"1.20.0\"\n"),
	}}
}

func (f *fakeGitOpsProvider) CreateBranch(ctx context.Context, repo, branch, fromRef string) error {
	return nil
}

func (f *fakeGitOpsProvider) CheckBranchExists(ctx context.Context, repo, branch string) (bool, error) {
	return false, nil
}

func (f *fakeGitOpsProvider) GetFileContent(ctx context.Context, repo, path, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[repo+"/"+path], nil
}

func (f *fakeGitOpsProvider) UpdateFile(ctx context.Context, repo, path, branch string, content []byte, commitMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[repo+"/"+path] = content
	return nil
}

func (f *fakeGitOpsProvider) CreateMergeRequest(ctx context.Context, repo, sourceBranch, targetBranch, title, description string, draft bool) (*platform.MergeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mrCalls++
	if f.failMR {
		return nil, assertBatchErr("merge request creation failed")
	}
	return &platform.MergeRequest{ID: f.mrCalls, IID: f.mrCalls, Title: title, WebURL: "https://gitlab.example.com/mr/" + title}, nil
}

func (f *fakeGitOpsProvider) GetMergeRequest(ctx context.Context, repo string, iid int) (*platform.MergeRequest, error) {
	return nil, assertBatchErr("not implemented")
}

func (f *fakeGitOpsProvider) AddMergeRequestComment(ctx context.Context, repo string, iid int, comment string) error {
	return nil
}

type assertBatchErr string

func (e assertBatchErr) Error() string { return string(e) }

// fakeK8s and fakeCLI give validationengine.Engine harmless defaults: flux
// sync reports ready immediately and no workloads are sidecar-selected.
type fakeK8s struct{}

func (fakeK8s) GetNodes(ctx context.Context) ([]platform.NodeInfo, error) {
	return nil, nil
}
func (fakeK8s) GetPods(ctx context.Context, namespace string) ([]platform.PodInfo, error) {
	return nil, nil
}
func (fakeK8s) GetNamespacesWithLabel(ctx context.Context, label string) ([]string, error) {
	return nil, nil
}
func (fakeK8s) GetWorkloads(ctx context.Context, namespace, kind string) ([]platform.WorkloadRef, error) {
	return nil, nil
}
func (fakeK8s) WorkloadPodTemplateContainers(ctx context.Context, ref platform.WorkloadRef) ([]platform.ContainerInfo, map[string]string, bool, error) {
	return nil, nil, false, nil
}
func (fakeK8s) RestartWorkload(ctx context.Context, ref platform.WorkloadRef) error { return nil }
func (fakeK8s) CheckWorkloadReady(ctx context.Context, ref platform.WorkloadRef) (bool, error) {
	return true, nil
}

type fakeCLI struct{}

func (fakeCLI) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if name == "flux" {
		return []byte("NAME\tREADY\n"), nil
	}
	return []byte(""), nil
}

// fakeMetricsProvider returns a fixed scalar for every metric, so
// validators see a quiet, healthy cluster by default.
type fakeMetricsProvider struct {
	value float64
}

func (f fakeMetricsProvider) QueryScalar(ctx context.Context, metricName string, tags map[string]string, start, end time.Time) (*float64, error) {
	v := f.value
	return &v, nil
}

func (f fakeMetricsProvider) QueryTimeseries(ctx context.Context, metricName string, tags map[string]string, start, end time.Time) ([]platform.TimeseriesPoint, error) {
	return nil, nil
}

func (f fakeMetricsProvider) QueryStatistics(ctx context.Context, metricName string, tags map[string]string, start, end time.Time) (*platform.Statistics, error) {
	return &platform.Statistics{}, nil
}

func (f fakeMetricsProvider) CheckActiveAlerts(ctx context.Context, tags map[string]string) ([]string, error) {
	return nil, nil
}

func (f fakeMetricsProvider) GetMonitorStatus(ctx context.Context, monitorID string) (string, error) {
	return "OK", nil
}

func (f fakeMetricsProvider) QueryRaw(ctx context.Context, promql string) ([]byte, error) {
	return nil, nil
}
