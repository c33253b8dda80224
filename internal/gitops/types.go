// Package gitops groups clusters sharing a Flux config file, applies the
// version bump through the config editor, and opens one merge request per
// group — isolating failures so one bad group never blocks the rest of
// the batch.
package gitops

import (
	"sort"
	"strings"

	"github.com/vitaliisemenov/guard/internal/registry"
)

// GroupKey identifies clusters that share exactly one Flux config file and
// therefore exactly one merge request.
type GroupKey struct {
	Repo string
	Path string
}

// GroupClusters partitions clusters by (gitlab_repo, flux_config_path).
// Grouping is stable and order-independent: it depends only on tuple
// equality, never on input order.
func GroupClusters(clusters []*registry.ClusterConfig) map[GroupKey][]*registry.ClusterConfig {
	groups := make(map[GroupKey][]*registry.ClusterConfig)
	for _, c := range clusters {
		key := GroupKey{Repo: c.GitLabRepo, Path: c.FluxConfigPath}
		groups[key] = append(groups[key], c)
	}
	return groups
}

// batchIDFor composes the batch_id used in a group's branch name and
// commit message: the single batch if every cluster shares it, else every
// distinct batch sorted and joined by "-".
func batchIDFor(clusters []*registry.ClusterConfig) string {
	seen := make(map[string]struct{})
	for _, c := range clusters {
		seen[c.BatchID] = struct{}{}
	}
	if len(seen) == 1 {
		for id := range seen {
			return id
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, "-")
}

func clusterIDs(clusters []*registry.ClusterConfig) []string {
	ids := make([]string, len(clusters))
	for i, c := range clusters {
		ids[i] = c.ClusterID
	}
	return ids
}
