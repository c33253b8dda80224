package gitops

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/guard/internal/configeditor"
	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/internal/registry"
	"github.com/vitaliisemenov/guard/internal/resilience"
	"github.com/vitaliisemenov/guard/pkg/metrics"
)

// hostRetryPolicy governs retries of GitOps host calls (branch creation,
// file writes, merge request creation): a handful of fast retries covers
// a transient GitLab 5xx or connection reset without stalling a batch run
// on a host outage.
func hostRetryPolicy(logger *slog.Logger, m *metrics.RetryMetrics, op string) *resilience.RetryPolicy {
	return &resilience.RetryPolicy{
		MaxRetries:    2,
		BaseDelay:     20 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		Multiplier:    2.0,
		Jitter:        false,
		ErrorChecker:  resilience.NewHTTPErrorChecker(),
		Logger:        logger,
		Metrics:       m,
		OperationName: op,
	}
}

// MergeRequestResult pairs the opened MR with the cluster IDs it covers.
type MergeRequestResult struct {
	MergeRequest *registry.MergeRequestInfo
	ClusterIDs   []string
}

// Orchestrator groups clusters, applies version-bump edits through the
// config editor, and opens one merge request per group.
type Orchestrator struct {
	provider platform.GitOpsProvider
	editor   *configeditor.Editor
	logger   *slog.Logger
	metrics  *metrics.GitOpsMetrics

	// retryMetrics is optional; set with WithRetryMetrics. Host call
	// retries run without metrics recording until it is set.
	retryMetrics *metrics.RetryMetrics

	// idempotency caches branch -> already-opened MR so a repeated
	// createOrReuseMR call for the same branch doesn't round-trip the host
	// API. Branch names carry a timestamp and random suffix, so each batch
	// run opens new branches and never hits entries from an earlier run.
	idempotency *lru.Cache[string, *registry.MergeRequestInfo]
}

func NewOrchestrator(provider platform.GitOpsProvider, editor *configeditor.Editor, logger *slog.Logger, m *metrics.GitOpsMetrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, *registry.MergeRequestInfo](512)
	return &Orchestrator{provider: provider, editor: editor, logger: logger, metrics: m, idempotency: cache}
}

// WithRetryMetrics attaches retry instrumentation for the orchestrator's
// GitLab host calls and returns the orchestrator for chaining.
func (o *Orchestrator) WithRetryMetrics(m *metrics.RetryMetrics) *Orchestrator {
	o.retryMetrics = m
	return o
}

// CreateUpgradeMRsForBatch groups clusters by (repo, path) and opens one
// MR per group. Failures are isolated per group: the loop always
// completes, and a PartialFailureError is returned only if at least one
// group failed.
func (o *Orchestrator) CreateUpgradeMRsForBatch(ctx context.Context, clusters []*registry.ClusterConfig, targetVersion string, draft bool, dryRun bool) (map[GroupKey]*MergeRequestResult, error) {
	groups := GroupClusters(clusters)

	successful := make(map[GroupKey]*MergeRequestResult)
	failed := make(map[GroupKey]error)
	var errs []error

	for key, members := range groups {
		result, err := o.createGroupMR(ctx, key, members, targetVersion, draft, dryRun)
		if err != nil {
			o.logger.Error("failed to create upgrade MR for group", "repo", key.Repo, "path", key.Path, "error", err)
			failed[key] = err
			errs = append(errs, err)
			if o.metrics != nil {
				o.metrics.RecordMR("upgrade", "failed")
			}
			continue
		}
		successful[key] = result
		if o.metrics != nil {
			o.metrics.RecordMR("upgrade", "created")
		}
	}

	if len(failed) == 0 {
		return successful, nil
	}

	pfe := &PartialFailureError{
		SuccessfulItems: successful,
		FailedItems:     failed,
		Errors:          errs,
	}
	for k := range successful {
		pfe.SuccessfulKeys = append(pfe.SuccessfulKeys, k)
	}
	for k := range failed {
		pfe.FailedKeys = append(pfe.FailedKeys, k)
	}
	return successful, pfe
}

func (o *Orchestrator) createGroupMR(ctx context.Context, key GroupKey, members []*registry.ClusterConfig, targetVersion string, draft, dryRun bool) (*MergeRequestResult, error) {
	batchID := batchIDFor(members)
	cleanVersion := strings.TrimPrefix(targetVersion, "v")
	branch := fmt.Sprintf("upgrade/%s/%s/%s", batchID, cleanVersion, timestampSuffix())

	if dryRun {
		return &MergeRequestResult{
			MergeRequest: &registry.MergeRequestInfo{ID: 0, WebURL: ""},
			ClusterIDs:   clusterIDs(members),
		}, nil
	}

	if err := o.createBranch(ctx, key.Repo, branch); err != nil {
		return nil, &ProviderError{Op: "create_branch", Message: branch, Err: err}
	}

	if err := o.applyEditAndCommit(ctx, key.Repo, key.Path, branch, registry.UpgradeSpec{
		Version: cleanVersion,
		Updates: []registry.FieldUpdate{{Path: "spec.chart.spec.version", Value: cleanVersion}},
	}, commitMessageForUpgrade(targetVersion, clusterIDs(members))); err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Upgrade %s to %s (%d clusters)", batchID, targetVersion, len(members))
	description := upgradeDescription(batchID, targetVersion, key.Path, members)

	mrDraft := draft
	mr, err := o.createOrReuseMR(ctx, key.Repo, branch, title, description, mrDraft)
	if err != nil {
		return nil, &ProviderError{Op: "create_merge_request", Message: branch, Err: err}
	}

	return &MergeRequestResult{MergeRequest: mr, ClusterIDs: clusterIDs(members)}, nil
}

// CreateUpgradeMR opens a single-cluster upgrade MR on its own branch.
// RunBatch does not call it; batch runs open grouped MRs through
// CreateUpgradeMRsForBatch.
func (o *Orchestrator) CreateUpgradeMR(ctx context.Context, cluster *registry.ClusterConfig, targetVersion string, draft, dryRun bool) (*registry.MergeRequestInfo, error) {
	cleanVersion := strings.TrimPrefix(targetVersion, "v")
	branch := fmt.Sprintf("upgrade/%s/%s/%s", cluster.ClusterID, cleanVersion, timestampSuffix())

	if dryRun {
		return &registry.MergeRequestInfo{ID: 0, WebURL: ""}, nil
	}

	if err := o.createBranch(ctx, cluster.GitLabRepo, branch); err != nil {
		return nil, &ProviderError{Op: "create_branch", Message: branch, Err: err}
	}

	if err := o.applyEditAndCommit(ctx, cluster.GitLabRepo, cluster.FluxConfigPath, branch, registry.UpgradeSpec{
		Version: cleanVersion,
		Updates: []registry.FieldUpdate{{Path: "spec.chart.spec.version", Value: cleanVersion}},
	}, commitMessageForUpgrade(targetVersion, []string{cluster.ClusterID})); err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Upgrade %s to %s", cluster.ClusterID, targetVersion)
	description := upgradeDescription(cluster.ClusterID, targetVersion, cluster.FluxConfigPath, []*registry.ClusterConfig{cluster})

	mr, err := o.createOrReuseMR(ctx, cluster.GitLabRepo, branch, title, description, draft)
	if err != nil {
		return nil, &ProviderError{Op: "create_merge_request", Message: branch, Err: err}
	}
	return mr, nil
}

func (o *Orchestrator) createBranch(ctx context.Context, repo, branch string) error {
	return resilience.WithRetry(ctx, hostRetryPolicy(o.logger, o.retryMetrics, "gitlab_create_branch"), func() error {
		return o.provider.CreateBranch(ctx, repo, branch, "main")
	})
}

func (o *Orchestrator) createOrReuseMR(ctx context.Context, repo, branch, title, description string, draft bool) (*registry.MergeRequestInfo, error) {
	if cached, ok := o.idempotency.Get(branch); ok {
		return cached, nil
	}

	mr, err := resilience.WithRetryFunc(ctx, hostRetryPolicy(o.logger, o.retryMetrics, "gitlab_create_mr"), func() (*platform.MergeRequest, error) {
		return o.provider.CreateMergeRequest(ctx, repo, branch, "main", title, description, draft)
	})
	if err != nil {
		return nil, err
	}

	info := &registry.MergeRequestInfo{
		ID: mr.ID, IID: mr.IID, Title: mr.Title, Description: mr.Description,
		SourceBranch: mr.SourceBranch, TargetBranch: mr.TargetBranch, State: mr.State,
		WebURL: mr.WebURL, CreatedAt: mr.CreatedAt, UpdatedAt: mr.UpdatedAt,
	}
	o.idempotency.Add(branch, info)
	return info, nil
}

// applyEditAndCommit fetches the file at main, applies spec via a scratch
// file, and commits the result to branch. The scratch file is removed on
// every exit path.
func (o *Orchestrator) applyEditAndCommit(ctx context.Context, repo, path, branch string, spec registry.UpgradeSpec, commitMessage string) error {
	content, err := o.provider.GetFileContent(ctx, repo, path, "main")
	if err != nil {
		return &ProviderError{Op: "get_file_content", Message: path, Err: err}
	}

	scratch, err := os.CreateTemp("", "guard-configeditor-*.yaml")
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	scratchPath := scratch.Name()
	defer os.Remove(scratchPath)

	if _, err := scratch.Write(content); err != nil {
		scratch.Close()
		return fmt.Errorf("write scratch file: %w", err)
	}
	scratch.Close()

	if err := o.editor.ApplyUpgradeSpec(scratchPath, &spec, false, false); err != nil {
		return err
	}

	edited, err := os.ReadFile(scratchPath)
	if err != nil {
		return fmt.Errorf("read back scratch file: %w", err)
	}

	err = resilience.WithRetry(ctx, hostRetryPolicy(o.logger, o.retryMetrics, "gitlab_update_file"), func() error {
		return o.provider.UpdateFile(ctx, repo, path, branch, edited, commitMessage)
	})
	if err != nil {
		return &ProviderError{Op: "update_file", Message: path, Err: err}
	}
	return nil
}

func timestampSuffix() string {
	return time.Now().UTC().Format("20060102150405") + "-" + shortUUID()
}

func shortUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func commitMessageForUpgrade(version string, ids []string) string {
	shown := ids
	suffix := ""
	if len(shown) > 3 {
		suffix = fmt.Sprintf(" and %d more", len(ids)-3)
		shown = shown[:3]
	}
	return fmt.Sprintf("Upgrade to %s for %s%s", version, strings.Join(shown, ", "), suffix)
}

func upgradeDescription(batchID, version, path string, clusters []*registry.ClusterConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Istio upgrade: %s\n\n", batchID)
	fmt.Fprintf(&b, "- **Target version**: %s\n", version)
	fmt.Fprintf(&b, "- **Flux config path**: `%s`\n", path)
	fmt.Fprintf(&b, "- **Clusters (%d)**:\n", len(clusters))
	for _, c := range clusters {
		fmt.Fprintf(&b, "  - %s\n", c.ClusterID)
	}
	b.WriteString("\nPre-check results were green on all listed clusters before this MR was opened.\n")
	b.WriteString("After merge, the GitOps reconciler applies this change; the orchestrator waits for sync and validates metrics before marking clusters healthy.\n")
	return b.String()
}
