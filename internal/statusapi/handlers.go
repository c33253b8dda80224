package statusapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/guard/internal/registry"
)

// clusterSnapshot is one cluster's row shaped for the batch snapshot
// response, a subset of registry.ClusterConfig a dashboard actually needs.
type clusterSnapshot struct {
	ClusterID   string `json:"cluster_id"`
	Environment string `json:"environment"`
	Region      string `json:"region"`
	Status      string `json:"status"`
	Version     int64  `json:"version"`
	LastUpdated string `json:"last_updated"`
}

type batchSnapshot struct {
	BatchID  string             `json:"batch_id"`
	Clusters []clusterSnapshot  `json:"clusters"`
	Summary  map[string]int     `json:"summary"`
}

// handleHealthz reports liveness unconditionally; it does not probe the
// registry backend, since a slow database should surface as readiness
// failure elsewhere, not as this process being down.
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleBatchSnapshot returns the current status of every cluster in a
// batch, queried straight from the registry rather than from in-memory
// batch runner state, so it reflects reality even if no runner is live.
func handleBatchSnapshot(store registry.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := mux.Vars(r)["batch_id"]
		if batchID == "" {
			writeError(w, r, newAPIError(CodeBadRequest, "batch_id is required"))
			return
		}

		clusters, err := store.QueryByBatch(r.Context(), batchID)
		if err != nil {
			writeError(w, r, newAPIError(CodeInternal, "failed to query batch: "+err.Error()))
			return
		}
		if len(clusters) == 0 {
			writeError(w, r, newAPIError(CodeNotFound, "no clusters found for batch "+batchID))
			return
		}

		snapshot := batchSnapshot{
			BatchID:  batchID,
			Clusters: make([]clusterSnapshot, 0, len(clusters)),
			Summary:  make(map[string]int),
		}
		for _, c := range clusters {
			snapshot.Clusters = append(snapshot.Clusters, clusterSnapshot{
				ClusterID:   c.ClusterID,
				Environment: c.Environment,
				Region:      c.Region,
				Status:      string(c.Status),
				Version:     c.Version,
				LastUpdated: c.LastUpdated.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
			snapshot.Summary[string(c.Status)]++
		}

		writeJSON(w, snapshot)
	}
}
