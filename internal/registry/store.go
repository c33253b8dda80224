package registry

import "context"

// UpdateOutcome is the typed result of a CAS-guarded status transition.
// A precondition mismatch is reported here, never as an error: racing
// orchestrators on the same cluster are an expected, non-fatal event.
type UpdateOutcome string

const (
	// Applied means the CAS succeeded: expected_status matched and
	// new_status (plus version bump) was written.
	Applied UpdateOutcome = "applied"

	// Rejected means the stored status did not match expected_status;
	// another writer won the race, or the row was already moved on.
	Rejected UpdateOutcome = "rejected"
)

// Store is the cluster registry contract (C1). Exactly one of Postgres or
// SQLite backs a given deployment, selected by RegistryConfig.Backend.
type Store interface {
	// Get returns the ClusterConfig for clusterID, or *ErrNotFound.
	Get(ctx context.Context, clusterID string) (*ClusterConfig, error)

	// QueryByBatch returns every ClusterConfig whose BatchID equals
	// batchID, via the batch index.
	QueryByBatch(ctx context.Context, batchID string) ([]*ClusterConfig, error)

	// Put inserts or fully overwrites a ClusterConfig row.
	Put(ctx context.Context, cfg *ClusterConfig) error

	// Delete removes a cluster row. Not used during a normal run; present
	// for registry lifecycle management tooling.
	Delete(ctx context.Context, clusterID string) error

	// UpdateStatus writes newStatus unconditionally, bumping version and
	// last_updated. Used only for initial seeding paths, never mid-run.
	UpdateStatus(ctx context.Context, clusterID string, newStatus ClusterStatus, extra map[string]string) error

	// UpdateStatusAtomic performs the single CAS transition described in
	// the registry invariant: asserts the stored status equals
	// expectedStatus, writes newStatus, refreshes last_updated, and
	// increments version. Returns Rejected (not an error) on precondition
	// failure; returns *StateStoreError on any other backend fault.
	UpdateStatusAtomic(ctx context.Context, clusterID string, expectedStatus, newStatus ClusterStatus, extra map[string]string) (UpdateOutcome, error)

	// ValidateBatchPrerequisites reports whether every cluster in each of
	// prerequisites[batchID] has reached a healthy terminal status.
	// Absent prerequisites trivially pass.
	ValidateBatchPrerequisites(ctx context.Context, batchID string, prerequisites map[string][]string) (bool, string, error)

	// Close releases backend resources (connection pool, file handle).
	Close() error
}
