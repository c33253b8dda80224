package registry

import (
	"context"
	"fmt"
)

// validatePrerequisites implements §4.1's validate_batch_prerequisites
// against any backend's QueryByBatch. A prerequisite batch is "met" iff
// every cluster it contains has reached a healthy terminal status.
func validatePrerequisites(
	ctx context.Context,
	batchID string,
	prerequisites map[string][]string,
	queryByBatch func(context.Context, string) ([]*ClusterConfig, error),
) (bool, string, error) {
	required, ok := prerequisites[batchID]
	if !ok || len(required) == 0 {
		return true, "no prerequisites configured", nil
	}

	for _, prereqBatch := range required {
		clusters, err := queryByBatch(ctx, prereqBatch)
		if err != nil {
			return false, "", err
		}
		if len(clusters) == 0 {
			return false, fmt.Sprintf("prerequisite batch %q has no clusters", prereqBatch), nil
		}
		for _, c := range clusters {
			if !IsHealthyStatus(c.Status) {
				return false, fmt.Sprintf("prerequisite batch %q: cluster %q is %q, not healthy", prereqBatch, c.ClusterID, c.Status), nil
			}
		}
	}

	return true, "all prerequisites met", nil
}
