// Package batch implements the bounded-concurrency per-cluster pipeline
// that drives one batch of clusters through checks, GitOps, reconciliation,
// validation, and rollback (C10).
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/guard/internal/checks"
	"github.com/vitaliisemenov/guard/internal/gitops"
	"github.com/vitaliisemenov/guard/internal/lock"
	"github.com/vitaliisemenov/guard/internal/registry"
	"github.com/vitaliisemenov/guard/internal/rollback"
	"github.com/vitaliisemenov/guard/internal/validation"
	"github.com/vitaliisemenov/guard/internal/validationengine"
	"github.com/vitaliisemenov/guard/pkg/metrics"
)

// EventPublisher receives a notification every time a cluster's persisted
// status changes during a batch run. Publish must not block; an
// implementation backed by a bounded channel should drop and log rather
// than stall the pipeline goroutine that called it.
type EventPublisher interface {
	Publish(batchID, clusterID, status string)
}

// Runner drives run_batch: it loads a batch's clusters from the registry
// and fans them out, one goroutine per cluster, bounded by a counting
// semaphore. Each cluster's pipeline is isolated from its peers — neither
// an error nor a panic in one cluster's goroutine can abort another's.
type Runner struct {
	store              registry.Store
	locker             *lock.Locker
	checks             *checks.Orchestrator
	checksRegistry     *checks.Registry
	checkCtx           *checks.Context
	gitopsOrch         *gitops.Orchestrator
	engine             *validationengine.Engine
	validation         *validation.Orchestrator
	validationRegistry *validation.Registry
	rollback           *rollback.Producer
	logger             *slog.Logger
	metrics            *metrics.BatchMetrics
	events             EventPublisher
}

// WithEvents attaches a status-change publisher (e.g. statusapi.Hub) and
// returns the Runner for chaining. Without one, transitions are persisted
// but nothing streams live.
func (r *Runner) WithEvents(p EventPublisher) *Runner {
	r.events = p
	return r
}

func NewRunner(
	store registry.Store,
	locker *lock.Locker,
	checksOrch *checks.Orchestrator,
	checksRegistry *checks.Registry,
	checkCtx *checks.Context,
	gitopsOrch *gitops.Orchestrator,
	engine *validationengine.Engine,
	validationOrch *validation.Orchestrator,
	validationRegistry *validation.Registry,
	rollbackProducer *rollback.Producer,
	logger *slog.Logger,
	m *metrics.BatchMetrics,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store: store, locker: locker,
		checks: checksOrch, checksRegistry: checksRegistry, checkCtx: checkCtx,
		gitopsOrch: gitopsOrch, engine: engine,
		validation: validationOrch, validationRegistry: validationRegistry, rollback: rollbackProducer,
		logger: logger, metrics: m,
	}
}

// RunBatch loads every cluster in batchID and drives each through the
// upgrade pipeline, at most opts.MaxConcurrent at a time. It returns one
// ClusterOutcome per cluster, in no particular order, regardless of how
// many clusters failed.
//
// Clusters sharing (gitlab_repo, flux_config_path) are grouped and their
// merge request opened exactly once, before any per-cluster goroutine
// starts: two clusters racing to edit the same file would otherwise open
// two merge requests against it and conflict on merge.
func (r *Runner) RunBatch(ctx context.Context, batchID, targetVersion string, dryRun bool, opts Options) ([]ClusterOutcome, error) {
	opts = opts.withDefaults()

	clusters, err := r.store.QueryByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("query batch %s: %w", batchID, err)
	}
	if len(clusters) == 0 {
		r.logger.Warn("batch has no clusters, nothing to run", "batch_id", batchID)
		return nil, nil
	}

	clusterMRs, clusterMRErrs := r.openGroupedUpgradeMRs(ctx, clusters, targetVersion, dryRun)

	sem := make(chan struct{}, opts.MaxConcurrent)
	results := make([]ClusterOutcome, len(clusters))
	done := make(chan struct{})

	for i, cluster := range clusters {
		go func(i int, cluster *registry.ClusterConfig) {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = ClusterOutcome{ClusterID: cluster.ClusterID, Status: StatusError, Error: ctx.Err().Error()}
				done <- struct{}{}
				return
			}
			defer func() { <-sem }()

			results[i] = r.runCluster(ctx, batchID, cluster, targetVersion, dryRun, opts, clusterMRs[cluster.ClusterID], clusterMRErrs[cluster.ClusterID])
			done <- struct{}{}
		}(i, cluster)
	}

	for range clusters {
		<-done
	}

	r.logSummary(batchID, results)
	return results, nil
}

// openGroupedUpgradeMRs groups clusters by shared Flux config file and
// opens one merge request per group through gitops.CreateUpgradeMRsForBatch,
// then fans the result back out to a per-cluster MR (or per-cluster error,
// for clusters whose group failed). dryRun clusters never reach the GitOps
// stage in pipeline, so no MR is opened for them.
func (r *Runner) openGroupedUpgradeMRs(ctx context.Context, clusters []*registry.ClusterConfig, targetVersion string, dryRun bool) (map[string]*registry.MergeRequestInfo, map[string]error) {
	mrs := make(map[string]*registry.MergeRequestInfo, len(clusters))
	errs := make(map[string]error)
	if dryRun {
		return mrs, errs
	}

	groups := gitops.GroupClusters(clusters)
	groupResults, err := r.gitopsOrch.CreateUpgradeMRsForBatch(ctx, clusters, targetVersion, false, false)

	var failedGroups map[gitops.GroupKey]error
	if pfe, ok := err.(*gitops.PartialFailureError); ok {
		failedGroups = pfe.FailedItems
	} else if err != nil {
		// Total failure: every cluster reports the same error.
		for _, c := range clusters {
			errs[c.ClusterID] = err
		}
		return mrs, errs
	}

	for _, result := range groupResults {
		for _, id := range result.ClusterIDs {
			mrs[id] = result.MergeRequest
		}
	}
	for key, groupErr := range failedGroups {
		for _, c := range groups[key] {
			errs[c.ClusterID] = groupErr
		}
	}

	return mrs, errs
}

// runCluster drives a single cluster through the pipeline end to end,
// never letting a panic escape to its siblings. mr and mrErr are this
// cluster's outcome from the batch-level, once-per-group merge request
// creation performed by RunBatch before any cluster's goroutine started.
func (r *Runner) runCluster(ctx context.Context, batchID string, cluster *registry.ClusterConfig, targetVersion string, dryRun bool, opts Options, mr *registry.MergeRequestInfo, mrErr error) (outcome ClusterOutcome) {
	start := time.Now()
	outcome = ClusterOutcome{ClusterID: cluster.ClusterID}

	defer func() {
		if rec := recover(); rec != nil {
			outcome.Status = StatusError
			outcome.Error = fmt.Sprintf("pipeline panicked: %v", rec)
			r.logger.Error("cluster pipeline panicked", "cluster_id", cluster.ClusterID, "batch_id", batchID, "panic", rec)
		}
		outcome.Duration = time.Since(start)
		if r.metrics != nil {
			r.metrics.RecordCluster(batchID, outcome.Status, outcome.Duration.Seconds())
		}
	}()

	resourceID := "cluster:" + cluster.ClusterID
	err := lock.WithLock(ctx, r.locker, resourceID, "", opts.LockTTL, opts.LockRenewalInterval, func(ctx context.Context, _ int64) error {
		result, pipelineErr := r.pipeline(ctx, batchID, cluster, targetVersion, dryRun, opts, mr, mrErr)
		outcome = result
		outcome.ClusterID = cluster.ClusterID
		return pipelineErr
	})
	if err != nil && outcome.Status == "" {
		outcome.Status = StatusError
		outcome.Error = err.Error()
	}

	if r.events != nil {
		r.events.Publish(batchID, cluster.ClusterID, outcome.Status)
	}

	return outcome
}

// pipeline runs C3 (pre-checks) -> C5 (merge request, already opened for
// this cluster's group by RunBatch) -> C8 (reconciler sync, optional
// sidecar restart) -> C7 (metrics capture + validation) -> C9 (rollback on
// a failed critical validator). Any returned error is informational only:
// the outcome's Status field is the source of truth for the cluster's
// terminal state.
func (r *Runner) pipeline(ctx context.Context, batchID string, cluster *registry.ClusterConfig, targetVersion string, dryRun bool, opts Options, mr *registry.MergeRequestInfo, mrErr error) (ClusterOutcome, error) {
	outcome := ClusterOutcome{ClusterID: cluster.ClusterID}

	checkResults := r.checks.RunAll(ctx, cluster, r.checkCtx)
	outcome.CheckResults = checkResults
	if criticalCheckFailed(checkResults, r.criticalCheckNames()) {
		outcome.Status = StatusPreCheckFailed
		r.transition(ctx, batchID, cluster.ClusterID, cluster.Status, registry.StatusPreCheckFailed)
		return outcome, nil
	}
	r.transition(ctx, batchID, cluster.ClusterID, cluster.Status, registry.StatusPreCheckRunning)

	if dryRun {
		outcome.Status = StatusDryRunSuccess
		return outcome, nil
	}

	if mrErr != nil {
		outcome.Status = StatusError
		outcome.Error = fmt.Sprintf("create upgrade merge request: %v", mrErr)
		return outcome, nil
	}
	outcome.MergeRequestURL = mr.WebURL
	r.transition(ctx, batchID, cluster.ClusterID, registry.StatusPreCheckRunning, registry.StatusMRCreated)
	r.transition(ctx, batchID, cluster.ClusterID, registry.StatusMRCreated, registry.StatusUpgrading)

	if !r.engine.WaitForFluxSync(ctx, opts.FluxSyncTimeoutMinutes, opts.FluxSyncPollIntervalSec) {
		outcome.Status = StatusError
		outcome.Error = "timed out waiting for reconciler sync"
		return outcome, nil
	}

	if opts.RestartSidecars {
		restartResult := r.engine.RestartPodsWithIstioSidecars(ctx, opts.RestartNamespace, opts.RestartWaveSize, true, opts.ReadinessTimeoutSec)
		outcome.CheckResults = append(outcome.CheckResults, restartResult)
	}

	r.engine.RunSoakPeriod(ctx, opts.SoakPeriodMinutes, opts.ProgressIntervalSec)

	r.transition(ctx, batchID, cluster.ClusterID, registry.StatusUpgrading, registry.StatusValidating)

	baseline := r.validation.CaptureBaseline(ctx, cluster, opts.BaselineDurationMinutes)
	current := r.validation.CaptureCurrent(ctx, cluster, baseline, opts.CurrentDurationMinutes)
	validationResults := r.validation.ValidateUpgrade(ctx, cluster, baseline, current, opts.Thresholds)
	outcome.ValidationResults = validationResults

	if !criticalValidationFailed(validationResults, r.criticalValidatorNames()) {
		outcome.Status = StatusHealthy
		r.transition(ctx, batchID, cluster.ClusterID, registry.StatusValidating, registry.StatusHealthy)
		return outcome, nil
	}

	outcome.Status = StatusValidationFailed
	r.transition(ctx, batchID, cluster.ClusterID, registry.StatusValidating, registry.StatusValidationFailed)

	if r.rollback == nil {
		return outcome, nil
	}

	reason := failureReason(validationResults)
	failureMetrics := failureMetrics(validationResults)
	rollbackMR, err := r.rollback.CreateRollbackMR(ctx, cluster, targetVersion, cluster.CurrentIstioVersion, reason, failureMetrics)
	if err != nil {
		outcome.Error = fmt.Sprintf("validation failed and rollback merge request could not be created: %v", err)
		return outcome, nil
	}
	outcome.RollbackURL = rollbackMR.WebURL
	outcome.Status = StatusRolledBack
	r.transition(ctx, batchID, cluster.ClusterID, registry.StatusValidationFailed, registry.StatusRolledBack)

	return outcome, nil
}

// transition attempts the CAS status write and logs, but never fails the
// pipeline on a rejection: the in-memory outcome is authoritative for this
// run regardless of whether a concurrent writer already moved the row on.
func (r *Runner) transition(ctx context.Context, batchID, clusterID string, expected, next registry.ClusterStatus) {
	outcome, err := r.store.UpdateStatusAtomic(ctx, clusterID, expected, next, nil)
	if err != nil {
		r.logger.Error("status transition failed", "cluster_id", clusterID, "from", expected, "to", next, "error", err)
		return
	}
	if outcome == registry.Rejected {
		r.logger.Warn("status transition rejected, another writer moved the row", "cluster_id", clusterID, "from", expected, "to", next)
		return
	}
	if r.events != nil {
		r.events.Publish(batchID, clusterID, string(next))
	}
}

func (r *Runner) logSummary(batchID string, results []ClusterOutcome) {
	counts := make(map[string]int)
	for _, o := range results {
		counts[o.Status]++
	}
	r.logger.Info("batch run complete", "batch_id", batchID, "total", len(results), "by_status", counts)
}

// criticalCheckNames returns the set of check names registered as
// critical, so a CheckResult (which doesn't carry its own criticality)
// can be classified after the fact.
func (r *Runner) criticalCheckNames() map[string]bool {
	names := make(map[string]bool)
	for _, c := range r.checksRegistry.Critical() {
		names[c.Name()] = true
	}
	return names
}

func criticalCheckFailed(results []registry.CheckResult, criticalNames map[string]bool) bool {
	for _, res := range results {
		if !res.Passed && criticalNames[res.Name] {
			return true
		}
	}
	return false
}

// criticalValidatorNames returns the set of validator names registered as
// critical, so a ValidationResult (which doesn't carry its own
// criticality) can be classified after the fact.
func (r *Runner) criticalValidatorNames() map[string]bool {
	names := make(map[string]bool)
	for _, v := range r.validationRegistry.Critical() {
		names[v.Name()] = true
	}
	return names
}

func criticalValidationFailed(results []registry.ValidationResult, criticalNames map[string]bool) bool {
	for _, res := range results {
		if !res.Passed && criticalNames[res.Name] {
			return true
		}
	}
	return false
}

func failureReason(results []registry.ValidationResult) string {
	for _, res := range results {
		if !res.Passed {
			return res.Message
		}
	}
	return "validation failed"
}

func failureMetrics(results []registry.ValidationResult) map[string]float64 {
	out := make(map[string]float64)
	for _, res := range results {
		if res.Passed {
			continue
		}
		for k, v := range res.Metrics {
			if f, ok := v.(float64); ok {
				out[res.Name+"."+k] = f
			}
		}
	}
	return out
}
