package checks

import (
	"fmt"
	"strings"
	"time"

	"context"

	"github.com/vitaliisemenov/guard/internal/registry"
)

// NamespacedPodHealthCheck verifies pod readiness across a configured set
// of namespaces (default {kube-system}).
type NamespacedPodHealthCheck struct {
	Namespaces []string
	timeout    time.Duration
}

func NewNamespacedPodHealthCheck(namespaces []string) *NamespacedPodHealthCheck {
	if len(namespaces) == 0 {
		namespaces = []string{"kube-system"}
	}
	return &NamespacedPodHealthCheck{Namespaces: namespaces, timeout: 20 * time.Second}
}

func (c *NamespacedPodHealthCheck) Name() string          { return "namespaced_pod_health" }
func (c *NamespacedPodHealthCheck) Description() string   { return "pods in configured namespaces report Ready" }
func (c *NamespacedPodHealthCheck) IsCritical() bool       { return false }
func (c *NamespacedPodHealthCheck) Timeout() time.Duration { return c.timeout }

func (c *NamespacedPodHealthCheck) Execute(ctx context.Context, cluster *registry.ClusterConfig, checkCtx *Context) Result {
	var unready []string

	for _, ns := range c.Namespaces {
		pods, err := checkCtx.Kubernetes.GetPods(ctx, ns)
		if err != nil {
			return Result{Name: c.Name(), Passed: false, Message: err.Error(), Timestamp: time.Now()}
		}
		for _, p := range pods {
			if !p.Ready {
				unready = append(unready, ns+"/"+p.Name)
			}
		}
	}

	if len(unready) > 0 {
		shown := unready
		suffix := ""
		if len(shown) > 5 {
			shown = shown[:5]
			suffix = "…"
		}
		return Result{
			Name: c.Name(), Passed: false,
			Message:   fmt.Sprintf("unready pods: %s%s", strings.Join(shown, ", "), suffix),
			Timestamp: time.Now(),
			Metrics:   map[string]any{"unready_count": len(unready)},
		}
	}

	return Result{Name: c.Name(), Passed: true, Message: "all pods ready", Timestamp: time.Now(),
		Metrics: map[string]any{"unready_count": 0}}
}
