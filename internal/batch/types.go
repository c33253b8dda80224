// Package batch implements the bounded-concurrency per-cluster pipeline
// that drives one batch of clusters through checks, GitOps, reconciliation,
// validation, and rollback (C10).
package batch

import (
	"time"

	"github.com/vitaliisemenov/guard/internal/registry"
)

// ClusterOutcome is the terminal, per-cluster record returned by RunBatch.
// Exactly one cluster's failure is represented here; it never aborts its
// peers.
type ClusterOutcome struct {
	ClusterID         string                      `json:"cluster_id"`
	Status            string                      `json:"status"`
	Error             string                      `json:"error,omitempty"`
	CheckResults      []registry.CheckResult      `json:"check_results,omitempty"`
	ValidationResults []registry.ValidationResult `json:"validation_results,omitempty"`
	MergeRequestURL   string                      `json:"merge_request_url,omitempty"`
	RollbackURL       string                      `json:"rollback_url,omitempty"`
	Duration          time.Duration               `json:"duration"`
}

// Statuses a ClusterOutcome can report. These are distinct from
// registry.ClusterStatus: they describe the *pipeline run's* terminal
// outcome, not the persisted cluster state machine (though healthy/
// pre_check_failed/rolled_back line up 1:1).
const (
	StatusHealthy          = "healthy"
	StatusPreCheckFailed   = "pre_check_failed"
	StatusValidationFailed = "validation_failed"
	StatusRolledBack       = "rolled_back"
	StatusError            = "error"
	StatusDryRunSuccess    = "dry_run_success"
)

// Options tunes the per-cluster pipeline. Zero values are replaced with
// the defaults in withDefaults when RunBatch starts; a zero
// SoakPeriodMinutes is kept and means no soak.
type Options struct {
	MaxConcurrent int

	LockTTL             time.Duration
	LockRenewalInterval time.Duration

	FluxSyncTimeoutMinutes  int
	FluxSyncPollIntervalSec int

	RestartSidecars     bool
	RestartNamespace    string
	RestartWaveSize     int
	ReadinessTimeoutSec int

	SoakPeriodMinutes   int
	ProgressIntervalSec int

	BaselineDurationMinutes int
	CurrentDurationMinutes  int

	Thresholds registry.ValidationThresholds

	Draft bool
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 5
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 30 * time.Second
	}
	if o.LockRenewalInterval <= 0 {
		o.LockRenewalInterval = 10 * time.Second
	}
	if o.FluxSyncTimeoutMinutes <= 0 {
		o.FluxSyncTimeoutMinutes = 15
	}
	if o.FluxSyncPollIntervalSec <= 0 {
		o.FluxSyncPollIntervalSec = 10
	}
	if o.RestartWaveSize <= 0 {
		o.RestartWaveSize = 5
	}
	if o.ReadinessTimeoutSec <= 0 {
		o.ReadinessTimeoutSec = 300
	}
	if o.ProgressIntervalSec <= 0 {
		o.ProgressIntervalSec = 60
	}
	if o.BaselineDurationMinutes <= 0 {
		o.BaselineDurationMinutes = 15
	}
	if o.CurrentDurationMinutes <= 0 {
		o.CurrentDurationMinutes = 15
	}
	return o
}
