package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/vitaliisemenov/guard/internal/registry"
)

// ControlPlaneReachableCheck lists Kubernetes nodes; reachability requires
// at least one node to come back.
type ControlPlaneReachableCheck struct{ timeout time.Duration }

func NewControlPlaneReachableCheck() *ControlPlaneReachableCheck {
	return &ControlPlaneReachableCheck{timeout: 15 * time.Second}
}

func (c *ControlPlaneReachableCheck) Name() string        { return "control_plane_reachable" }
func (c *ControlPlaneReachableCheck) Description() string { return "Kubernetes API server responds and reports at least one node" }
func (c *ControlPlaneReachableCheck) IsCritical() bool     { return true }
func (c *ControlPlaneReachableCheck) Timeout() time.Duration { return c.timeout }

func (c *ControlPlaneReachableCheck) Execute(ctx context.Context, cluster *registry.ClusterConfig, checkCtx *Context) Result {
	nodes, err := checkCtx.Kubernetes.GetNodes(ctx)
	if err != nil {
		return Result{Name: c.Name(), Passed: false, Message: err.Error(), Timestamp: time.Now()}
	}
	if len(nodes) == 0 {
		return Result{Name: c.Name(), Passed: false, Message: "no nodes reported", Timestamp: time.Now(),
			Metrics: map[string]any{"node_count": 0}}
	}
	return Result{Name: c.Name(), Passed: true, Message: fmt.Sprintf("%d nodes reachable", len(nodes)), Timestamp: time.Now(),
		Metrics: map[string]any{"node_count": len(nodes)}}
}

// AllNodesReadyCheck fails listing any node whose Ready condition is not True.
type AllNodesReadyCheck struct{ timeout time.Duration }

func NewAllNodesReadyCheck() *AllNodesReadyCheck {
	return &AllNodesReadyCheck{timeout: 15 * time.Second}
}

func (c *AllNodesReadyCheck) Name() string          { return "all_nodes_ready" }
func (c *AllNodesReadyCheck) Description() string    { return "every cluster node reports Ready" }
func (c *AllNodesReadyCheck) IsCritical() bool       { return true }
func (c *AllNodesReadyCheck) Timeout() time.Duration { return c.timeout }

func (c *AllNodesReadyCheck) Execute(ctx context.Context, cluster *registry.ClusterConfig, checkCtx *Context) Result {
	nodes, err := checkCtx.Kubernetes.GetNodes(ctx)
	if err != nil {
		return Result{Name: c.Name(), Passed: false, Message: err.Error(), Timestamp: time.Now()}
	}

	var unready []string
	for _, n := range nodes {
		if !n.Ready {
			unready = append(unready, n.Name)
		}
	}
	if len(unready) > 0 {
		return Result{
			Name: c.Name(), Passed: false,
			Message:   fmt.Sprintf("unready nodes: %v", unready),
			Timestamp: time.Now(),
			Metrics:   map[string]any{"unready_count": len(unready), "unready_nodes": unready},
		}
	}
	return Result{Name: c.Name(), Passed: true, Message: "all nodes ready", Timestamp: time.Now(),
		Metrics: map[string]any{"unready_count": 0}}
}
