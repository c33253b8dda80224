// Package rollback opens the emergency, never-draft merge request that
// reverses a cluster's Istio version after a post-upgrade validation
// failure (C9).
package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/vitaliisemenov/guard/internal/configeditor"
	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/internal/registry"
)

// Producer opens rollback merge requests through the same GitOps provider
// and config editor the upgrade path uses.
type Producer struct {
	provider platform.GitOpsProvider
	editor   *configeditor.Editor
	logger   *slog.Logger
}

func NewProducer(provider platform.GitOpsProvider, editor *configeditor.Editor, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{provider: provider, editor: editor, logger: logger}
}

// CreateRollbackMR opens a non-draft merge request reverting cluster's Flux
// config from currentVersion back to previousVersion, documenting why.
func (p *Producer) CreateRollbackMR(ctx context.Context, cluster *registry.ClusterConfig, currentVersion, previousVersion, failureReason string, failureMetrics map[string]float64) (*registry.MergeRequestInfo, error) {
	branch := fmt.Sprintf("rollback/istio-%s-%s-%s", cluster.BatchID, previousVersion, time.Now().UTC().Format("20060102150405"))

	if err := p.provider.CreateBranch(ctx, cluster.GitLabRepo, branch, "main"); err != nil {
		return nil, fmt.Errorf("create rollback branch: %w", err)
	}

	commitMessage := commitMessage(currentVersion, previousVersion, failureReason, failureMetrics)
	if err := p.applyAndCommit(ctx, cluster, branch, previousVersion, commitMessage); err != nil {
		return nil, err
	}

	title := fmt.Sprintf("[ROLLBACK] %s: %s → %s", cluster.BatchID, currentVersion, previousVersion)
	description := description(cluster, currentVersion, previousVersion, failureReason, failureMetrics)

	mr, err := p.provider.CreateMergeRequest(ctx, cluster.GitLabRepo, branch, "main", title, description, false)
	if err != nil {
		return nil, fmt.Errorf("create rollback merge request: %w", err)
	}

	p.logger.Warn("opened emergency rollback merge request",
		"cluster_id", cluster.ClusterID, "branch", branch, "web_url", mr.WebURL)

	return &registry.MergeRequestInfo{
		ID: mr.ID, IID: mr.IID, Title: mr.Title, Description: mr.Description,
		SourceBranch: mr.SourceBranch, TargetBranch: mr.TargetBranch, State: mr.State,
		WebURL: mr.WebURL, CreatedAt: mr.CreatedAt, UpdatedAt: mr.UpdatedAt,
	}, nil
}

// applyAndCommit fetches the file at main, applies the version downgrade
// through a scratch file, and commits the result to branch. The scratch
// file is removed on every exit path.
func (p *Producer) applyAndCommit(ctx context.Context, cluster *registry.ClusterConfig, branch, previousVersion, commitMessage string) error {
	content, err := p.provider.GetFileContent(ctx, cluster.GitLabRepo, cluster.FluxConfigPath, "main")
	if err != nil {
		return fmt.Errorf("get file content: %w", err)
	}

	scratch, err := os.CreateTemp("", "guard-rollback-*.yaml")
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

	if err := p.editor.UpdateVersion(scratchPath, previousVersion, false); err != nil {
		return fmt.Errorf("apply rollback version: %w", err)
	}

	edited, err := os.ReadFile(scratchPath)
	if err != nil {
		return fmt.Errorf("read back scratch file: %w", err)
	}

	if err := p.provider.UpdateFile(ctx, cluster.GitLabRepo, cluster.FluxConfigPath, branch, edited, commitMessage); err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return nil
}

func commitMessage(current, previous, reason string, failureMetrics map[string]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rollback Istio from %s to %s\n\n", current, previous)
	fmt.Fprintf(&b, "Reason: %s\n", reason)
	if len(failureMetrics) > 0 {
		b.WriteString("\nmetrics:\n")
		for _, k := range sortedKeys(failureMetrics) {
			fmt.Fprintf(&b, "  %s: %v\n", k, failureMetrics[k])
		}
	}
	return b.String()
}

func description(cluster *registry.ClusterConfig, current, previous, reason string, failureMetrics map[string]float64) string {
	var b strings.Builder
	b.WriteString("## :rotating_light: Emergency Istio rollback\n\n")
	fmt.Fprintf(&b, "- **Batch**: %s\n", cluster.BatchID)
	fmt.Fprintf(&b, "- **Cluster**: %s\n", cluster.ClusterID)
	fmt.Fprintf(&b, "- **Current version**: %s\n", current)
	fmt.Fprintf(&b, "- **Rolling back to**: %s\n", previous)
	fmt.Fprintf(&b, "- **Reason**: %s\n", reason)
	if len(failureMetrics) > 0 {
		b.WriteString("\n### Failure metrics\n\n")
		for _, k := range sortedKeys(failureMetrics) {
			fmt.Fprintf(&b, "- `%s`: %v\n", k, failureMetrics[k])
		}
	}
	b.WriteString("\nThis merge request was opened automatically after post-upgrade validation detected a regression. It is **not a draft** and should be reviewed and merged immediately.\n")
	return b.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
