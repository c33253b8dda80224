package registry

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the lite-profile Store backend: a single embedded SQLite
// file, no external database dependency. Intended for a single operator
// process, CI dry-runs, or small fleets (RegistryConfig.Backend = "sqlite").
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens path (created if absent) using the pure-Go
// modernc.org/sqlite driver and ensures the clusters table exists.
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, newStateStoreError("open", err)
	}
	db.SetMaxOpenConns(1) // SQLite allows one writer; serialize through database/sql's pool

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, newStateStoreError("ping", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, newStateStoreError("migrate", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, clusterID string) (*ClusterConfig, error) {
	row := s.db.QueryRowContext(ctx, getQuerySQLite, clusterID)
	cfg, err := scanClusterRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{ClusterID: clusterID}
	}
	if err != nil {
		return nil, newStateStoreError("get", err)
	}
	return cfg, nil
}

func (s *SQLiteStore) QueryByBatch(ctx context.Context, batchID string) ([]*ClusterConfig, error) {
	rows, err := s.db.QueryContext(ctx, queryByBatchQuerySQLite, batchID)
	if err != nil {
		return nil, newStateStoreError("query_by_batch", err)
	}
	defer rows.Close()

	var out []*ClusterConfig
	for rows.Next() {
		cfg, err := scanClusterRow(rows)
		if err != nil {
			return nil, newStateStoreError("query_by_batch_scan", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, newStateStoreError("query_by_batch_rows", err)
	}
	return out, nil
}

func (s *SQLiteStore) Put(ctx context.Context, cfg *ClusterConfig) error {
	tags, metadata, err := marshalExtras(cfg)
	if err != nil {
		return newStateStoreError("put_marshal", err)
	}

	_, err = s.db.ExecContext(ctx, putQuerySQLite,
		cfg.ClusterID, cfg.BatchID, cfg.Environment, cfg.Region, cfg.GitLabRepo,
		cfg.FluxConfigPath, cfg.CloudRoleARN, cfg.CurrentIstioVersion, string(tags),
		cfg.OwnerTeam, cfg.OwnerHandle, string(metadata), string(cfg.Status), time.Now().UTC(),
	)
	if err != nil {
		return newStateStoreError("put", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, clusterID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM clusters WHERE cluster_id = ?`, clusterID); err != nil {
		return newStateStoreError("delete", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, clusterID string, newStatus ClusterStatus, extra map[string]string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE clusters SET status = ?, last_updated = ?, version = version + 1 WHERE cluster_id = ?`,
		string(newStatus), time.Now().UTC(), clusterID,
	)
	if err != nil {
		return newStateStoreError("update_status", err)
	}
	return nil
}

// UpdateStatusAtomic performs the CAS transition as a single UPDATE
// guarded by the expected status, then checks RowsAffected rather than
// relying on a RETURNING clause (older SQLite builds may lack it).
func (s *SQLiteStore) UpdateStatusAtomic(ctx context.Context, clusterID string, expectedStatus, newStatus ClusterStatus, extra map[string]string) (UpdateOutcome, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE clusters SET status = ?, last_updated = ?, version = version + 1
		 WHERE cluster_id = ? AND status = ?`,
		string(newStatus), time.Now().UTC(), clusterID, string(expectedStatus),
	)
	if err != nil {
		return "", newStateStoreError("update_status_atomic", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", newStateStoreError("update_status_atomic_rows_affected", err)
	}
	if affected == 0 {
		return Rejected, nil
	}
	return Applied, nil
}

func (s *SQLiteStore) ValidateBatchPrerequisites(ctx context.Context, batchID string, prerequisites map[string][]string) (bool, string, error) {
	return validatePrerequisites(ctx, batchID, prerequisites, s.QueryByBatch)
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS clusters (
	cluster_id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	environment TEXT NOT NULL,
	region TEXT NOT NULL,
	gitlab_repo TEXT NOT NULL,
	flux_config_path TEXT NOT NULL,
	cloud_role_arn TEXT NOT NULL DEFAULT '',
	current_istio_version TEXT NOT NULL DEFAULT '',
	datadog_tags TEXT NOT NULL DEFAULT '{}',
	owner_team TEXT NOT NULL DEFAULT '',
	owner_handle TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'pending',
	last_updated TIMESTAMP NOT NULL,
	version INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_clusters_batch_id ON clusters(batch_id);
`

const clusterColumnsSQLite = `cluster_id, batch_id, environment, region, gitlab_repo,
	flux_config_path, cloud_role_arn, current_istio_version, datadog_tags,
	owner_team, owner_handle, metadata, status, last_updated, version`

const getQuerySQLite = `SELECT ` + clusterColumnsSQLite + ` FROM clusters WHERE cluster_id = ?`

const queryByBatchQuerySQLite = `SELECT ` + clusterColumnsSQLite + ` FROM clusters WHERE batch_id = ? ORDER BY cluster_id`

const putQuerySQLite = `
INSERT INTO clusters (
	cluster_id, batch_id, environment, region, gitlab_repo, flux_config_path,
	cloud_role_arn, current_istio_version, datadog_tags, owner_team, owner_handle,
	metadata, status, last_updated, version
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,1)
ON CONFLICT(cluster_id) DO UPDATE SET
	batch_id = excluded.batch_id, environment = excluded.environment, region = excluded.region,
	gitlab_repo = excluded.gitlab_repo, flux_config_path = excluded.flux_config_path,
	cloud_role_arn = excluded.cloud_role_arn, current_istio_version = excluded.current_istio_version,
	datadog_tags = excluded.datadog_tags, owner_team = excluded.owner_team,
	owner_handle = excluded.owner_handle, metadata = excluded.metadata,
	status = excluded.status, last_updated = excluded.last_updated`
