package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	store, err := NewSQLiteStore(context.Background(), "file::memory:?cache=shared", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleCluster(id, batch string) *ClusterConfig {
	return &ClusterConfig{
		ClusterID:           id,
		BatchID:             batch,
		Environment:         "prod",
		Region:              "us-east-1",
		GitLabRepo:          "infra/fleet",
		FluxConfigPath:      "clusters/" + id + "/istio.yaml",
		CurrentIstioVersion: "1.20.0",
		DatadogTags:         DatadogTags{Cluster: id, Service: "istio", Env: "prod"},
		Status:              StatusPending,
	}
}

func TestSQLiteStore_PutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := sampleCluster("cluster-a", "batch-1")
	require.NoError(t, store.Put(ctx, cfg))

	got, err := store.Get(ctx, "cluster-a")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", got.BatchID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestSQLiteStore_QueryByBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleCluster("cluster-a", "batch-1")))
	require.NoError(t, store.Put(ctx, sampleCluster("cluster-b", "batch-1")))
	require.NoError(t, store.Put(ctx, sampleCluster("cluster-c", "batch-2")))

	clusters, err := store.QueryByBatch(ctx, "batch-1")
	require.NoError(t, err)
	assert.Len(t, clusters, 2)
}

func TestSQLiteStore_UpdateStatusAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, sampleCluster("cluster-a", "batch-1")))

	outcome, err := store.UpdateStatusAtomic(ctx, "cluster-a", StatusPending, StatusPreCheckRunning, nil)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	got, err := store.Get(ctx, "cluster-a")
	require.NoError(t, err)
	assert.Equal(t, StatusPreCheckRunning, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestSQLiteStore_UpdateStatusAtomicRejectsStaleExpectedStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, sampleCluster("cluster-a", "batch-1")))

	_, err := store.UpdateStatusAtomic(ctx, "cluster-a", StatusPending, StatusPreCheckRunning, nil)
	require.NoError(t, err)

	outcome, err := store.UpdateStatusAtomic(ctx, "cluster-a", StatusPending, StatusMRCreated, nil)
	require.NoError(t, err)
	assert.Equal(t, Rejected, outcome, "concurrent transition must be rejected, not silently overwritten")

	got, err := store.Get(ctx, "cluster-a")
	require.NoError(t, err)
	assert.Equal(t, StatusPreCheckRunning, got.Status, "a rejected CAS must not mutate status")
}

func TestSQLiteStore_ValidateBatchPrerequisites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	healthy := sampleCluster("cluster-a", "batch-1")
	healthy.Status = StatusHealthy
	require.NoError(t, store.Put(ctx, healthy))

	ok, _, err := store.ValidateBatchPrerequisites(ctx, "batch-2", map[string][]string{"batch-2": {"batch-1"}})
	require.NoError(t, err)
	assert.True(t, ok)

	pending := sampleCluster("cluster-b", "batch-3")
	require.NoError(t, store.Put(ctx, pending))

	ok, msg, err := store.ValidateBatchPrerequisites(ctx, "batch-4", map[string][]string{"batch-4": {"batch-3"}})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, msg, "cluster-b")
}

func TestSQLiteStore_ValidateBatchPrerequisitesNoneConfigured(t *testing.T) {
	store := newTestStore(t)
	ok, _, err := store.ValidateBatchPrerequisites(context.Background(), "batch-1", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}
