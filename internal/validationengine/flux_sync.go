package validationengine

import (
	"context"
	"strings"
	"time"
)

// WaitForFluxSync polls the reconciler CLI for all kustomizations and all
// helm releases until every row reports Ready (an empty result set counts
// as ready), or the overall timeout elapses. Sub-process timeouts, parse
// failures, and tool absence are all treated as "not yet ready" and
// retried rather than failing fast.
func (e *Engine) WaitForFluxSync(ctx context.Context, timeoutMinutes int, pollIntervalSec int) bool {
	deadline := time.Now().Add(time.Duration(timeoutMinutes) * time.Minute)
	lastProgressLog := time.Now()

	for {
		if time.Now().After(deadline) {
			e.logger.Warn("flux sync wait timed out")
			return false
		}

		kustomizationsReady := e.resourceKindReady(ctx, "kustomizations")
		helmReleasesReady := e.resourceKindReady(ctx, "helmreleases")

		if kustomizationsReady && helmReleasesReady {
			return true
		}

		if time.Since(lastProgressLog) >= 30*time.Second {
			e.logger.Info("waiting for flux sync",
				"kustomizations_ready", kustomizationsReady, "helmreleases_ready", helmReleasesReady)
			lastProgressLog = time.Now()
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Duration(pollIntervalSec) * time.Second):
		}
	}
}

func (e *Engine) resourceKindReady(ctx context.Context, kind string) bool {
	output, err := e.cli.Run(ctx, "flux", "get", kind, "--all-namespaces")
	if err != nil {
		e.logger.Debug("reconciler CLI call failed, treating as not ready", "kind", kind, "error", err)
		return false
	}

	ready, err := allRowsReady(output)
	if err != nil {
		e.logger.Debug("reconciler output did not parse, treating as not ready", "kind", kind, "error", err)
		return false
	}
	return ready
}

// allRowsReady parses tab-separated reconciler output and requires every
// data row's READY column to read "True". A header-only or empty result
// counts as ready.
func allRowsReady(output []byte) (bool, error) {
	lines := strings.Split(strings.TrimRight(string(output), "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return true, nil
	}

	header := strings.Split(lines[0], "\t")
	readyCol := -1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), "ready") {
			readyCol = i
			break
		}
	}
	if readyCol == -1 {
		return false, errNoReadyColumn
	}

	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if readyCol >= len(cols) {
			return false, errMalformedRow
		}
		if !strings.EqualFold(strings.TrimSpace(cols[readyCol]), "true") {
			return false, nil
		}
	}
	return true, nil
}
