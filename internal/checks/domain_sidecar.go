package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/vitaliisemenov/guard/internal/istioutil"
	"github.com/vitaliisemenov/guard/internal/registry"
)

// SidecarVersionCheck verifies every Istio proxy sidecar in an
// injection-enabled namespace matches the cluster's recorded version.
type SidecarVersionCheck struct{ timeout time.Duration }

func NewSidecarVersionCheck() *SidecarVersionCheck {
	return &SidecarVersionCheck{timeout: 30 * time.Second}
}

func (c *SidecarVersionCheck) Name() string          { return "sidecar_version" }
func (c *SidecarVersionCheck) Description() string   { return "running istio-proxy sidecars match the recorded cluster version" }
func (c *SidecarVersionCheck) IsCritical() bool       { return false }
func (c *SidecarVersionCheck) Timeout() time.Duration { return c.timeout }

func (c *SidecarVersionCheck) Execute(ctx context.Context, cluster *registry.ClusterConfig, checkCtx *Context) Result {
	namespaces, err := checkCtx.Kubernetes.GetNamespacesWithLabel(ctx, "istio-injection=enabled")
	if err != nil {
		return Result{Name: c.Name(), Passed: false, Message: err.Error(), Timestamp: time.Now()}
	}

	var totalPods, mismatches int
	var mismatchExamples []string

	for _, ns := range namespaces {
		pods, err := checkCtx.Kubernetes.GetPods(ctx, ns)
		if err != nil {
			return Result{Name: c.Name(), Passed: false, Message: err.Error(), Timestamp: time.Now()}
		}
		for _, pod := range pods {
			sidecar, ok := istioutil.HasSidecarContainer(pod.Containers)
			if !ok {
				continue
			}
			totalPods++

			version := istioutil.ExtractVersion(sidecar.Image)
			if version == "" {
				continue // invalid tag silently skipped, pod still counted above
			}
			if version != cluster.CurrentIstioVersion {
				mismatches++
				mismatchExamples = append(mismatchExamples, fmt.Sprintf("%s/%s: %s", ns, pod.Name, version))
			}
		}
	}

	if mismatches > 0 {
		return Result{
			Name: c.Name(), Passed: false,
			Message:   fmt.Sprintf("%d/%d sidecars do not match version %s: %v", mismatches, totalPods, cluster.CurrentIstioVersion, mismatchExamples),
			Timestamp: time.Now(),
			Metrics:   map[string]any{"total_pods": totalPods, "mismatches": mismatches},
		}
	}

	return Result{Name: c.Name(), Passed: true, Message: fmt.Sprintf("%d sidecars match version %s", totalPods, cluster.CurrentIstioVersion), Timestamp: time.Now(),
		Metrics: map[string]any{"total_pods": totalPods, "mismatches": 0}}
}
