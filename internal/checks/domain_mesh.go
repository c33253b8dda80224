package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vitaliisemenov/guard/internal/registry"
)

// MeshConfigAnalysisCheck runs the mesh-analyze external CLI tool. A line
// containing "Error" is a blocker; "Warning" is informational only.
type MeshConfigAnalysisCheck struct{ timeout time.Duration }

func NewMeshConfigAnalysisCheck() *MeshConfigAnalysisCheck {
	return &MeshConfigAnalysisCheck{timeout: 60 * time.Second}
}

func (c *MeshConfigAnalysisCheck) Name() string          { return "mesh_config_analysis" }
func (c *MeshConfigAnalysisCheck) Description() string   { return "mesh-analyze reports no blocking errors" }
func (c *MeshConfigAnalysisCheck) IsCritical() bool       { return false }
func (c *MeshConfigAnalysisCheck) Timeout() time.Duration { return c.timeout }

func (c *MeshConfigAnalysisCheck) Execute(ctx context.Context, cluster *registry.ClusterConfig, checkCtx *Context) Result {
	if checkCtx.CLI == nil {
		return Result{Name: c.Name(), Passed: false, Message: "mesh-analyze tool not configured", Timestamp: time.Now()}
	}

	output, err := checkCtx.CLI.Run(ctx, "istioctl", "analyze", "--all-namespaces")
	if err != nil {
		return Result{Name: c.Name(), Passed: false, Message: fmt.Sprintf("mesh-analyze failed: %v", err), Timestamp: time.Now()}
	}

	var errs, warnings int
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "Error") {
			errs++
		} else if strings.Contains(line, "Warning") {
			warnings++
		}
	}

	passed := errs == 0
	message := fmt.Sprintf("%d errors, %d warnings", errs, warnings)
	return Result{
		Name: c.Name(), Passed: passed, Message: message, Timestamp: time.Now(),
		Metrics: map[string]any{"issues_found": errs + warnings, "errors": errs, "warnings": warnings},
	}
}
