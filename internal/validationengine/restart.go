package validationengine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vitaliisemenov/guard/internal/istioutil"
	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/internal/registry"
)

var workloadKinds = []string{"Deployment", "StatefulSet", "DaemonSet"}

// RestartPodsWithIstioSidecars enumerates sidecar-selected workloads,
// restarts them in waves of waveSize, and (if waitForReady) polls
// readiness between waves without letting one slow wave fail the whole
// operation.
func (e *Engine) RestartPodsWithIstioSidecars(ctx context.Context, namespace string, waveSize int, waitForReady bool, readinessTimeoutSec int) registry.CheckResult {
	now := time.Now()
	if waveSize <= 0 {
		waveSize = 5
	}

	namespaces, err := e.targetNamespaces(ctx, namespace)
	if err != nil {
		return registry.CheckResult{
			Name: "restart_pods_with_istio_sidecars", Passed: false,
			Message: fmt.Sprintf("failed to enumerate target namespaces: %v", err), Timestamp: now,
		}
	}

	workloads, err := e.sidecarSelectedWorkloads(ctx, namespaces)
	if err != nil {
		return registry.CheckResult{
			Name: "restart_pods_with_istio_sidecars", Passed: false,
			Message: fmt.Sprintf("failed to enumerate workloads: %v", err), Timestamp: now,
		}
	}

	waves := partitionIntoWaves(workloads, waveSize)

	var restarted, failed []platform.WorkloadRef
	for i, wave := range waves {
		for _, wl := range wave {
			if err := e.k8s.RestartWorkload(ctx, wl); err != nil {
				e.logger.Error("workload restart failed", "kind", wl.Kind, "namespace", wl.Namespace, "name", wl.Name, "error", err)
				failed = append(failed, wl)
				continue
			}
			restarted = append(restarted, wl)
		}

		if waitForReady {
			e.waitForWaveReady(ctx, wave, time.Duration(readinessTimeoutSec)*time.Second, i, len(waves))
		}
	}

	return registry.CheckResult{
		Name:    "restart_pods_with_istio_sidecars",
		Passed:  len(failed) == 0,
		Message: fmt.Sprintf("%d restarted, %d failed across %d wave(s)", len(restarted), len(failed), len(waves)),
		Metrics: map[string]interface{}{
			"restarted_resources": len(restarted),
			"failed_resources":    len(failed),
		},
		Timestamp: now,
	}
}

func (e *Engine) targetNamespaces(ctx context.Context, namespace string) ([]string, error) {
	if namespace != "" {
		return []string{namespace}, nil
	}

	injectionEnabled, err := e.k8s.GetNamespacesWithLabel(ctx, "istio-injection=enabled")
	if err != nil {
		return nil, err
	}
	revisioned, err := e.k8s.GetNamespacesWithLabel(ctx, "istio.io/rev")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, ns := range injectionEnabled {
		seen[ns] = struct{}{}
	}
	for _, ns := range revisioned {
		seen[ns] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

func (e *Engine) sidecarSelectedWorkloads(ctx context.Context, namespaces []string) ([]platform.WorkloadRef, error) {
	var selected []platform.WorkloadRef

	for _, ns := range namespaces {
		for _, kind := range workloadKinds {
			refs, err := e.k8s.GetWorkloads(ctx, ns, kind)
			if err != nil {
				return nil, err
			}
			for _, ref := range refs {
				containers, annotations, _, err := e.k8s.WorkloadPodTemplateContainers(ctx, ref)
				if err != nil {
					e.logger.Warn("failed to inspect pod template, skipping workload", "kind", ref.Kind, "namespace", ref.Namespace, "name", ref.Name, "error", err)
					continue
				}
				if istioutil.HasSidecarInjection(containers, annotations) {
					selected = append(selected, ref)
				}
			}
		}
	}
	return selected, nil
}

func partitionIntoWaves(workloads []platform.WorkloadRef, waveSize int) [][]platform.WorkloadRef {
	var waves [][]platform.WorkloadRef
	for i := 0; i < len(workloads); i += waveSize {
		end := i + waveSize
		if end > len(workloads) {
			end = len(workloads)
		}
		waves = append(waves, workloads[i:end])
	}
	return waves
}

// waitForWaveReady polls every workload in wave every 10s until all are
// ready or timeout elapses. A timeout only warns; it never fails the
// overall restart operation.
func (e *Engine) waitForWaveReady(ctx context.Context, wave []platform.WorkloadRef, timeout time.Duration, waveIndex, totalWaves int) {
	deadline := time.Now().Add(timeout)
	remaining := make(map[platform.WorkloadRef]bool, len(wave))
	for _, wl := range wave {
		remaining[wl] = true
	}

	for {
		for wl := range remaining {
			ready, err := e.k8s.CheckWorkloadReady(ctx, wl)
			if err == nil && ready {
				delete(remaining, wl)
			}
		}

		if len(remaining) == 0 {
			return
		}
		if time.Now().After(deadline) {
			e.logger.Warn("wave readiness timeout, proceeding to next wave",
				"wave", waveIndex+1, "total_waves", totalWaves, "still_not_ready", len(remaining))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
}
