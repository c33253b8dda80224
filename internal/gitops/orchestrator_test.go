package gitops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/guard/internal/configeditor"
	"github.com/vitaliisemenov/guard/internal/registry"
)

const helmReleaseYAML = `apiVersion: helm.toolkit.fluxcd.io/v2beta1
kind: HelmRelease
metadata:
  name: istio
spec:
  chart:
    spec:
      chart: istio
      version: "1.19.0"
`

func clusterFixture(id, batch, repo, path string) *registry.ClusterConfig {
	return &registry.ClusterConfig{
		ClusterID:           id,
		BatchID:             batch,
		GitLabRepo:          repo,
		FluxConfigPath:      path,
		CurrentIstioVersion: "1.19.0",
	}
}

func TestGroupClusters_SharedRepoPathGroupedTogether(t *testing.T) {
	clusters := []*registry.ClusterConfig{
		clusterFixture("a", "batch-1", "infra/repo", "clusters/shared.yaml"),
		clusterFixture("b", "batch-1", "infra/repo", "clusters/shared.yaml"),
		clusterFixture("c", "batch-1", "infra/repo", "clusters/other.yaml"),
	}
	groups := GroupClusters(clusters)
	require.Len(t, groups, 2)

	shared := groups[GroupKey{Repo: "infra/repo", Path: "clusters/shared.yaml"}]
	assert.Len(t, shared, 2)
	other := groups[GroupKey{Repo: "infra/repo", Path: "clusters/other.yaml"}]
	assert.Len(t, other, 1)
}

func TestCreateUpgradeMRsForBatch_TwoClustersSharePathGetOneMR(t *testing.T) {
	provider := newFakeProvider()
	provider.setFile("infra/repo", "clusters/shared.yaml", []byte(helmReleaseYAML))

	o := NewOrchestrator(provider, configeditor.New(), nil, nil)

	clusters := []*registry.ClusterConfig{
		clusterFixture("a", "batch-1", "infra/repo", "clusters/shared.yaml"),
		clusterFixture("b", "batch-1", "infra/repo", "clusters/shared.yaml"),
	}

	results, err := o.CreateUpgradeMRsForBatch(context.Background(), clusters, "1.20.0", false, false)
	require.NoError(t, err)
	require.Len(t, results, 1)

	for _, r := range results {
		assert.ElementsMatch(t, []string{"a", "b"}, r.ClusterIDs)
		assert.Contains(t, r.MergeRequest.Title, "2 clusters")
	}
	assert.Equal(t, 1, provider.createCalls)
}

func TestCreateUpgradeMRsForBatch_ThreeClustersTwoGroupsGetTwoMRs(t *testing.T) {
	provider := newFakeProvider()
	provider.setFile("infra/repo", "clusters/shared.yaml", []byte(helmReleaseYAML))
	provider.setFile("infra/repo", "clusters/solo.yaml", []byte(helmReleaseYAML))

	o := NewOrchestrator(provider, configeditor.New(), nil, nil)

	clusters := []*registry.ClusterConfig{
		clusterFixture("a", "batch-1", "infra/repo", "clusters/shared.yaml"),
		clusterFixture("b", "batch-1", "infra/repo", "clusters/shared.yaml"),
		clusterFixture("c", "batch-1", "infra/repo", "clusters/solo.yaml"),
	}

	results, err := o.CreateUpgradeMRsForBatch(context.Background(), clusters, "1.20.0", false, false)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, provider.createCalls)
}

func TestCreateUpgradeMRsForBatch_DryRunSkipsProvider(t *testing.T) {
	provider := newFakeProvider()
	o := NewOrchestrator(provider, configeditor.New(), nil, nil)

	clusters := []*registry.ClusterConfig{
		clusterFixture("a", "batch-1", "infra/repo", "clusters/shared.yaml"),
	}

	results, err := o.CreateUpgradeMRsForBatch(context.Background(), clusters, "1.20.0", false, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, provider.createCalls)
	for _, r := range results {
		assert.Equal(t, 0, r.MergeRequest.ID)
	}
}

func TestCreateUpgradeMRsForBatch_PartialFailureIsolatesGroups(t *testing.T) {
	provider := newFakeProvider()
	provider.setFile("infra/repo", "clusters/shared.yaml", []byte(helmReleaseYAML))
	provider.setFile("infra/repo", "clusters/broken.yaml", []byte(helmReleaseYAML))

	o := NewOrchestrator(provider, configeditor.New(), nil, nil)

	goodKey := GroupKey{Repo: "infra/repo", Path: "clusters/shared.yaml"}
	badKey := GroupKey{Repo: "infra/repo", Path: "clusters/broken.yaml"}

	// Force the "broken" group's UpdateFile call to fail.
	provider.failUpdateFileFor[fileKey(badKey.Repo, badKey.Path)] = true

	clusters := []*registry.ClusterConfig{
		clusterFixture("a", "batch-1", goodKey.Repo, goodKey.Path),
		clusterFixture("b", "batch-1", badKey.Repo, badKey.Path),
	}

	results, err := o.CreateUpgradeMRsForBatch(context.Background(), clusters, "1.20.0", false, false)
	require.Error(t, err)
	pfe, ok := err.(*PartialFailureError)
	require.True(t, ok)

	assert.Len(t, pfe.SuccessfulKeys, 1)
	assert.Len(t, pfe.FailedKeys, 1)
	assert.Equal(t, goodKey, pfe.SuccessfulKeys[0])
	assert.Equal(t, badKey, pfe.FailedKeys[0])

	// The successful group's MR is still returned to the caller.
	require.Len(t, results, 1)
	assert.Contains(t, results, goodKey)
}

func TestCreateOrReuseMR_IdempotencyCacheAvoidsSecondProviderCall(t *testing.T) {
	provider := newFakeProvider()
	o := NewOrchestrator(provider, configeditor.New(), nil, nil)

	ctx := context.Background()
	mr1, err := o.createOrReuseMR(ctx, "infra/repo", "upgrade/x", "title", "desc", false)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.createCalls)

	mr2, err := o.createOrReuseMR(ctx, "infra/repo", "upgrade/x", "title", "desc", false)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.createCalls, "second call must be served from the idempotency cache")
	assert.Equal(t, mr1.ID, mr2.ID)
}

func TestApplyEditAndCommit_ScratchFileRemovedOnSuccessAndFailure(t *testing.T) {
	provider := newFakeProvider()
	provider.setFile("infra/repo", "clusters/ok.yaml", []byte(helmReleaseYAML))
	o := NewOrchestrator(provider, configeditor.New(), nil, nil)

	ctx := context.Background()

	err := o.applyEditAndCommit(ctx, "infra/repo", "clusters/ok.yaml", "branch-1", registry.UpgradeSpec{
		Version: "1.20.0",
		Updates: []registry.FieldUpdate{{Path: "spec.chart.spec.version", Value: "1.20.0"}},
	}, "commit")
	require.NoError(t, err)

	// Missing file forces GetFileContent to fail before any scratch file
	// is created; applyEditAndCommit must still return cleanly (no panic,
	// no leaked resources).
	err = o.applyEditAndCommit(ctx, "infra/repo", "clusters/missing.yaml", "branch-1", registry.UpgradeSpec{
		Version: "1.20.0",
		Updates: []registry.FieldUpdate{{Path: "spec.chart.spec.version", Value: "1.20.0"}},
	}, "commit")
	require.Error(t, err)
}

func TestCommitMessageForUpgrade_TruncatesAfterThree(t *testing.T) {
	msg := commitMessageForUpgrade("1.20.0", []string{"a", "b", "c", "d", "e"})
	assert.Equal(t, "Upgrade to 1.20.0 for a, b, c and 2 more", msg)
}

func TestCommitMessageForUpgrade_NoTruncationUnderThree(t *testing.T) {
	msg := commitMessageForUpgrade("1.20.0", []string{"a", "b"})
	assert.Equal(t, "Upgrade to 1.20.0 for a, b", msg)
}

func TestCreateUpgradeMR_SingleClusterPath(t *testing.T) {
	provider := newFakeProvider()
	provider.setFile("infra/repo", "clusters/solo.yaml", []byte(helmReleaseYAML))
	o := NewOrchestrator(provider, configeditor.New(), nil, nil)

	cluster := clusterFixture("solo-1", "batch-1", "infra/repo", "clusters/solo.yaml")
	mr, err := o.CreateUpgradeMR(context.Background(), cluster, "1.20.0", false, false)
	require.NoError(t, err)
	assert.Contains(t, mr.Title, "solo-1")
}
