// Package registry persists ClusterConfig rows and drives their status
// state machine through CAS-guarded transitions. Two backends implement
// the same Store interface: Postgres (standard profile, HA-ready) and an
// embedded SQLite file (lite profile, single process).
package registry

import "time"

// ClusterStatus is the cluster upgrade state machine.
type ClusterStatus string

const (
	StatusPending           ClusterStatus = "pending"
	StatusPreCheckRunning   ClusterStatus = "pre_check_running"
	StatusPreCheckFailed    ClusterStatus = "pre_check_failed"
	StatusMRCreated         ClusterStatus = "mr_created"
	StatusUpgrading         ClusterStatus = "upgrading"
	StatusValidating        ClusterStatus = "validating"
	StatusHealthy           ClusterStatus = "healthy"
	StatusValidationFailed  ClusterStatus = "validation_failed"
	StatusRollingBack       ClusterStatus = "rolling_back"
	StatusRolledBack        ClusterStatus = "rolled_back"
)

// terminalStatuses is the set of statuses a cluster cannot transition out
// of during a run.
var terminalStatuses = map[ClusterStatus]bool{
	StatusHealthy:        true,
	StatusPreCheckFailed: true,
	StatusRolledBack:     true,
}

// IsTerminal reports whether status ends a cluster's pipeline run.
func IsTerminal(status ClusterStatus) bool {
	return terminalStatuses[status]
}

// healthyAliases lets older rows written with a plain "completed" string
// (a status value retired before the fencing-token rework) continue to be
// treated as healthy by batch aggregation and prerequisite checks, without
// a backfill migration.
var healthyAliases = map[ClusterStatus]bool{
	StatusHealthy: true,
	"completed":   true,
}

// IsHealthyStatus reports whether status should count as "healthy" for
// prerequisite-batch evaluation, accepting the retired "completed" alias.
func IsHealthyStatus(status ClusterStatus) bool {
	return healthyAliases[status]
}

// DatadogTags identifies the cluster/service/env tag triple attached to
// every metrics query issued on behalf of a cluster.
type DatadogTags struct {
	Cluster string `json:"cluster"`
	Service string `json:"service"`
	Env     string `json:"env"`
}

// ClusterConfig is the immutable descriptor of a managed cluster, plus its
// mutable status and optimistic-concurrency version.
type ClusterConfig struct {
	ClusterID           string            `json:"cluster_id"`
	BatchID             string            `json:"batch_id"`
	Environment         string            `json:"environment"`
	Region              string            `json:"region"`
	GitLabRepo          string            `json:"gitlab_repo"`
	FluxConfigPath      string            `json:"flux_config_path"`
	CloudRoleARN        string            `json:"cloud_role_arn"`
	CurrentIstioVersion string            `json:"current_istio_version"`
	DatadogTags         DatadogTags       `json:"datadog_tags"`
	OwnerTeam           string            `json:"owner_team"`
	OwnerHandle         string            `json:"owner_handle"`
	Metadata            map[string]string `json:"metadata"`

	Status      ClusterStatus `json:"status"`
	LastUpdated time.Time     `json:"last_updated"`
	Version     int64         `json:"version"`
}

// CheckResult is an immutable record of a single pre-flight check outcome.
type CheckResult struct {
	Name      string                 `json:"name"`
	Passed    bool                   `json:"passed"`
	Message   string                 `json:"message"`
	Metrics   map[string]interface{} `json:"metrics"`
	Timestamp time.Time              `json:"timestamp"`
}

// ValidationResult is an immutable record of a single post-upgrade
// validator outcome.
type ValidationResult struct {
	Name       string                 `json:"name"`
	Passed     bool                   `json:"passed"`
	Message    string                 `json:"message"`
	Metrics    map[string]interface{} `json:"metrics"`
	Timestamp  time.Time              `json:"timestamp"`
	Violations []string               `json:"violations"`
	ClusterID  string                 `json:"cluster_id"`
}

// MetricsSnapshot is a point-in-time capture of a set of metrics. A nil
// value for a metric means the query failed or the metric had no data,
// distinct from a present zero value.
type MetricsSnapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]*float64 `json:"metrics"`
	Tags      map[string]string  `json:"tags"`
}

// FieldUpdate is one dotted-path write applied by the config editor.
type FieldUpdate struct {
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

// UpgradeSpec is the full set of edits C6 applies to a HelmRelease file.
type UpgradeSpec struct {
	Version string        `json:"version"`
	Updates []FieldUpdate `json:"updates"`
}

// MergeRequestInfo mirrors the subset of a GitLab merge request the core
// depends on.
type MergeRequestInfo struct {
	ID            int       `json:"id"`
	IID           int       `json:"iid"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	SourceBranch  string    `json:"source_branch"`
	TargetBranch  string    `json:"target_branch"`
	State         string    `json:"state"`
	WebURL        string    `json:"web_url"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ValidationThresholds bounds the acceptable post-upgrade metric
// deltas for a cluster.
type ValidationThresholds struct {
	LatencyP95IncreasePercent float64 `json:"latency_p95_increase_percent"`
	LatencyP99IncreasePercent float64 `json:"latency_p99_increase_percent"`
	ErrorRateMax              float64 `json:"error_rate_max"`
}
