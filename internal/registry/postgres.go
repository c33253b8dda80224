package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/guard/internal/database/postgres"
)

// PostgresStore is the standard-profile Store backend, built on top of
// postgres.PostgresPool so it inherits the pool's health checks, retry
// classification, and connection metrics.
type PostgresStore struct {
	pool   *postgres.PostgresPool
	logger *slog.Logger
}

// NewPostgresStore connects pool (already constructed via
// postgres.NewPostgresPool) and returns a Store backed by the `clusters`
// table. The schema itself is managed out-of-band by goose migrations
// under migrations/.
func NewPostgresStore(ctx context.Context, pool *postgres.PostgresPool, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := pool.Connect(ctx); err != nil {
		return nil, newStateStoreError("connect", err)
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Close() error {
	return s.pool.Close()
}

func (s *PostgresStore) Get(ctx context.Context, clusterID string) (*ClusterConfig, error) {
	row := s.pool.Pool().QueryRow(ctx, getQuery, clusterID)
	cfg, err := scanClusterRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{ClusterID: clusterID}
	}
	if err != nil {
		return nil, newStateStoreError("get", err)
	}
	return cfg, nil
}

func (s *PostgresStore) QueryByBatch(ctx context.Context, batchID string) ([]*ClusterConfig, error) {
	rows, err := s.pool.Pool().Query(ctx, queryByBatchQuery, batchID)
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

func (s *PostgresStore) Put(ctx context.Context, cfg *ClusterConfig) error {
	tags, metadata, err := marshalExtras(cfg)
	if err != nil {
		return newStateStoreError("put_marshal", err)
	}

	_, err = s.pool.Pool().Exec(ctx, putQuery,
		cfg.ClusterID, cfg.BatchID, cfg.Environment, cfg.Region, cfg.GitLabRepo,
		cfg.FluxConfigPath, cfg.CloudRoleARN, cfg.CurrentIstioVersion, tags,
		cfg.OwnerTeam, cfg.OwnerHandle, metadata, string(cfg.Status), time.Now().UTC(),
	)
	if err != nil {
		return newStateStoreError("put", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, clusterID string) error {
	if _, err := s.pool.Pool().Exec(ctx, deleteQuery, clusterID); err != nil {
		return newStateStoreError("delete", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, clusterID string, newStatus ClusterStatus, extra map[string]string) error {
	_, err := s.pool.Pool().Exec(ctx, updateStatusQuery, clusterID, string(newStatus), time.Now().UTC())
	if err != nil {
		return newStateStoreError("update_status", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatusAtomic(ctx context.Context, clusterID string, expectedStatus, newStatus ClusterStatus, extra map[string]string) (UpdateOutcome, error) {
	var version int64
	err := s.pool.Pool().QueryRow(ctx, casQuery,
		clusterID, string(expectedStatus), string(newStatus), time.Now().UTC(),
	).Scan(&version)

	if errors.Is(err, pgx.ErrNoRows) {
		return Rejected, nil
	}
	if err != nil {
		return "", newStateStoreError("update_status_atomic", err)
	}
	return Applied, nil
}

func (s *PostgresStore) ValidateBatchPrerequisites(ctx context.Context, batchID string, prerequisites map[string][]string) (bool, string, error) {
	return validatePrerequisites(ctx, batchID, prerequisites, s.QueryByBatch)
}

// scanRow abstracts over pgx.Row and pgx.Rows so Get and QueryByBatch share
// one decode path.
type scanRow interface {
	Scan(dest ...interface{}) error
}

func scanClusterRow(row scanRow) (*ClusterConfig, error) {
	var cfg ClusterConfig
	var tagsJSON, metadataJSON []byte
	var status string

	err := row.Scan(
		&cfg.ClusterID, &cfg.BatchID, &cfg.Environment, &cfg.Region, &cfg.GitLabRepo,
		&cfg.FluxConfigPath, &cfg.CloudRoleARN, &cfg.CurrentIstioVersion, &tagsJSON,
		&cfg.OwnerTeam, &cfg.OwnerHandle, &metadataJSON, &status, &cfg.LastUpdated, &cfg.Version,
	)
	if err != nil {
		return nil, err
	}
	cfg.Status = ClusterStatus(status)

	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &cfg.DatadogTags); err != nil {
			return nil, fmt.Errorf("unmarshal datadog_tags: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &cfg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &cfg, nil
}

func marshalExtras(cfg *ClusterConfig) (tags, metadata []byte, err error) {
	tags, err = json.Marshal(cfg.DatadogTags)
	if err != nil {
		return nil, nil, err
	}
	metadata, err = json.Marshal(cfg.Metadata)
	if err != nil {
		return nil, nil, err
	}
	return tags, metadata, nil
}

const clusterColumns = `cluster_id, batch_id, environment, region, gitlab_repo,
	flux_config_path, cloud_role_arn, current_istio_version, datadog_tags,
	owner_team, owner_handle, metadata, status, last_updated, version`

const getQuery = `SELECT ` + clusterColumns + ` FROM clusters WHERE cluster_id = $1`

const queryByBatchQuery = `SELECT ` + clusterColumns + ` FROM clusters WHERE batch_id = $1 ORDER BY cluster_id`

const putQuery = `
INSERT INTO clusters (
	cluster_id, batch_id, environment, region, gitlab_repo, flux_config_path,
	cloud_role_arn, current_istio_version, datadog_tags, owner_team, owner_handle,
	metadata, status, last_updated, version
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,1)
ON CONFLICT (cluster_id) DO UPDATE SET
	batch_id = EXCLUDED.batch_id, environment = EXCLUDED.environment, region = EXCLUDED.region,
	gitlab_repo = EXCLUDED.gitlab_repo, flux_config_path = EXCLUDED.flux_config_path,
	cloud_role_arn = EXCLUDED.cloud_role_arn, current_istio_version = EXCLUDED.current_istio_version,
	datadog_tags = EXCLUDED.datadog_tags, owner_team = EXCLUDED.owner_team,
	owner_handle = EXCLUDED.owner_handle, metadata = EXCLUDED.metadata,
	status = EXCLUDED.status, last_updated = EXCLUDED.last_updated`

const deleteQuery = `DELETE FROM clusters WHERE cluster_id = $1`

const updateStatusQuery = `UPDATE clusters SET status = $2, last_updated = $3, version = version + 1 WHERE cluster_id = $1`

// casQuery is the single conditional update implementing update_status_atomic.
// A zero-row result (no RETURNING row) means expected_status did not match
// and the caller should report Rejected.
const casQuery = `
UPDATE clusters
SET status = $3, last_updated = $4, version = version + 1
WHERE cluster_id = $1 AND status = $2
RETURNING version`
