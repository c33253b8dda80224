// Package platform defines the capability interfaces the orchestration
// core consumes but never implements directly: the cloud, Kubernetes,
// GitOps host, metrics, and registry/lock boundaries named in the external
// interfaces contract. Concrete adapters live in the kubernetes, gitlab,
// metrics, and cloud subpackages.
package platform

import (
	"context"
	"time"
)

// NodeInfo is the subset of a Kubernetes node the checks consume.
type NodeInfo struct {
	Name  string
	Ready bool
}

// PodInfo is the subset of a Kubernetes pod the checks consume.
type PodInfo struct {
	Namespace  string
	Name       string
	Ready      bool
	Containers []ContainerInfo
	Labels     map[string]string
	Annotations map[string]string
}

// ContainerInfo describes one container within a pod, enough to detect an
// Istio sidecar and read its image tag.
type ContainerInfo struct {
	Name  string
	Image string
}

// WorkloadRef identifies one Deployment, StatefulSet, or DaemonSet.
type WorkloadRef struct {
	Kind      string // "Deployment", "StatefulSet", "DaemonSet"
	Namespace string
	Name      string
}

// KubernetesProvider is the capability interface over the Kubernetes API
// consumed by C4 domain checks and C8's validation engine.
type KubernetesProvider interface {
	GetNodes(ctx context.Context) ([]NodeInfo, error)
	GetPods(ctx context.Context, namespace string) ([]PodInfo, error)
	GetNamespacesWithLabel(ctx context.Context, labelSelector string) ([]string, error)
	GetWorkloads(ctx context.Context, namespace, kind string) ([]WorkloadRef, error)
	WorkloadPodTemplateContainers(ctx context.Context, ref WorkloadRef) (containers []ContainerInfo, annotations map[string]string, hasSidecarContainer bool, err error)
	RestartWorkload(ctx context.Context, ref WorkloadRef) error
	CheckWorkloadReady(ctx context.Context, ref WorkloadRef) (bool, error)
}

// GitOpsProvider is the capability interface over the GitOps host API
// (e.g. GitLab) consumed by C5 and C9.
type GitOpsProvider interface {
	CreateBranch(ctx context.Context, repo, branch, fromRef string) error
	CheckBranchExists(ctx context.Context, repo, branch string) (bool, error)
	GetFileContent(ctx context.Context, repo, path, ref string) ([]byte, error)
	UpdateFile(ctx context.Context, repo, path, branch string, content []byte, commitMessage string) error
	// CreateMergeRequest is idempotent: if an open MR already exists from
	// sourceBranch, the existing MergeRequest is returned instead of
	// creating a duplicate.
	CreateMergeRequest(ctx context.Context, repo, sourceBranch, targetBranch, title, description string, draft bool) (*MergeRequest, error)
	GetMergeRequest(ctx context.Context, repo string, iid int) (*MergeRequest, error)
	AddMergeRequestComment(ctx context.Context, repo string, iid int, comment string) error
}

// MergeRequest mirrors registry.MergeRequestInfo at the platform boundary
// so the gitlab adapter does not import the registry package.
type MergeRequest struct {
	ID           int
	IID          int
	Title        string
	Description  string
	SourceBranch string
	TargetBranch string
	State        string
	WebURL       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MetricsProvider is the capability interface over the metrics backend
// (e.g. a Prometheus-compatible query API) consumed by C7.
type MetricsProvider interface {
	QueryScalar(ctx context.Context, metricName string, tags map[string]string, start, end time.Time) (*float64, error)
	QueryTimeseries(ctx context.Context, metricName string, tags map[string]string, start, end time.Time) ([]TimeseriesPoint, error)
	QueryStatistics(ctx context.Context, metricName string, tags map[string]string, start, end time.Time) (*Statistics, error)
	CheckActiveAlerts(ctx context.Context, tags map[string]string) ([]string, error)
	GetMonitorStatus(ctx context.Context, monitorID string) (string, error)
	QueryRaw(ctx context.Context, promql string) ([]byte, error)
}

// TimeseriesPoint is one sample of a queried metric.
type TimeseriesPoint struct {
	Timestamp time.Time
	Value     float64
}

// Statistics summarizes a metric over a query window.
type Statistics struct {
	Min, Max, Avg, P50, P95, P99 float64
	Count                        int
}

// CloudProvider is the capability interface over the managing cloud
// account (IAM role assumption, secrets, cluster discovery). No pack
// example ships a cloud SDK; see DESIGN.md for why the concrete adapter is
// a thin stdlib stub rather than a fabricated dependency.
type CloudProvider interface {
	AssumeRole(ctx context.Context, roleARN string) (*Credentials, error)
	GetSecret(ctx context.Context, name string) (string, error)
	GetClusterInfo(ctx context.Context, clusterID string) (*ClusterInfo, error)
	GenerateClusterToken(ctx context.Context, clusterID string) (string, error)
	ListClusters(ctx context.Context, region string) ([]string, error)
}

// Credentials is a minimal STS-style credential bundle.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiry          time.Time
}

// ClusterInfo is the subset of cloud-reported cluster metadata the core
// needs.
type ClusterInfo struct {
	Endpoint      string
	CertificateCA []byte
}

// ExternalCLI runs a named external binary (the reconciler CLI, the mesh
// analyze/proxy-status tools) and returns its stdout or an error. Kept as
// a narrow interface so checks and the validation engine can be tested
// without shelling out.
type ExternalCLI interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}
