package validationengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/internal/registry"
)

const istioSystemNamespace = "istio-system"

// ValidateIstioDeployment verifies the control plane and gateway pods are
// present and ready, that mesh-analyze reports no blocking errors, and
// that every sidecar has synced with the control plane per proxy-status.
func (e *Engine) ValidateIstioDeployment(ctx context.Context, cluster *registry.ClusterConfig) registry.CheckResult {
	now := time.Now()

	pods, err := e.k8s.GetPods(ctx, istioSystemNamespace)
	if err != nil {
		return registry.CheckResult{
			Name: "validate_istio_deployment", Passed: false,
			Message: fmt.Sprintf("failed to list pods in %s: %v", istioSystemNamespace, err), Timestamp: now,
		}
	}

	var reasons []string
	metricsOut := map[string]interface{}{}

	istiodPods := filterPods(pods, func(p platform.PodInfo) bool { return strings.Contains(p.Name, "istiod") })
	metricsOut["istiod_pods"] = len(istiodPods)
	if len(istiodPods) == 0 {
		reasons = append(reasons, "no istiod pods present")
	} else if unready := countUnready(istiodPods); unready > 0 {
		reasons = append(reasons, fmt.Sprintf("%d istiod pod(s) not ready", unready))
	}

	gatewayPods := filterPods(pods, func(p platform.PodInfo) bool {
		return p.Labels["istio"] == "ingressgateway" || p.Labels["app"] == "istio-ingressgateway"
	})
	metricsOut["gateway_pods"] = len(gatewayPods)
	if unready := countUnready(gatewayPods); unready > 0 {
		reasons = append(reasons, fmt.Sprintf("%d gateway pod(s) not ready", unready))
	}

	if e.cli != nil {
		errs, warnings, err := e.runMeshAnalyze(ctx)
		metricsOut["mesh_analysis_errors"] = errs
		metricsOut["mesh_analysis_warnings"] = warnings
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("mesh-analyze failed: %v", err))
		} else if errs > 0 {
			reasons = append(reasons, fmt.Sprintf("mesh-analyze reported %d error(s)", errs))
		}

		unsynced, examples, err := e.runProxyStatus(ctx)
		metricsOut["unsynced_proxies"] = unsynced
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("proxy-status failed: %v", err))
		} else if unsynced > 0 {
			reasons = append(reasons, fmt.Sprintf("%d proxy(ies) not SYNCED (e.g. %s)", unsynced, strings.Join(examples, ", ")))
		}
	}

	passed := len(reasons) == 0
	message := "istio control plane and data plane healthy"
	if !passed {
		message = strings.Join(reasons, "; ")
	}

	return registry.CheckResult{
		Name: "validate_istio_deployment", Passed: passed, Message: message,
		Metrics: metricsOut, Timestamp: now,
	}
}

func filterPods(pods []platform.PodInfo, keep func(platform.PodInfo) bool) []platform.PodInfo {
	var out []platform.PodInfo
	for _, p := range pods {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func countUnready(pods []platform.PodInfo) int {
	n := 0
	for _, p := range pods {
		if !p.Ready {
			n++
		}
	}
	return n
}

func (e *Engine) runMeshAnalyze(ctx context.Context) (errs, warnings int, err error) {
	output, err := e.cli.Run(ctx, "istioctl", "analyze", "--all-namespaces")
	if err != nil {
		return 0, 0, err
	}
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "Error") {
			errs++
		} else if strings.Contains(line, "Warning") {
			warnings++
		}
	}
	return errs, warnings, nil
}

// runProxyStatus invokes istioctl proxy-status and counts rows whose first
// column doesn't contain SYNCED, reporting up to 3 examples.
func (e *Engine) runProxyStatus(ctx context.Context) (unsynced int, examples []string, err error) {
	output, err := e.cli.Run(ctx, "istioctl", "proxy-status")
	if err != nil {
		return 0, nil, err
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue // header row
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if !strings.Contains(fields[0], "SYNCED") {
			unsynced++
			if len(examples) < 3 {
				examples = append(examples, fields[0])
			}
		}
	}
	return unsynced, examples, nil
}
