package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/guard/internal/registry"
)

func newMonitorCmd() *cobra.Command {
	var (
		batchID string
		every   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll a batch's registry rows until every cluster reaches a terminal status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchID == "" {
				return fmt.Errorf("--batch is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ticker := time.NewTicker(every)
			defer ticker.Stop()

			for {
				clusters, err := a.store.QueryByBatch(ctx, batchID)
				if err != nil {
					return fmt.Errorf("query batch %s: %w", batchID, err)
				}
				if len(clusters) == 0 {
					return fmt.Errorf("batch %s has no clusters", batchID)
				}

				printSummary(cmd, batchID, clusters)

				if allTerminal(clusters) {
					return nil
				}

				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "batch ID to monitor (required)")
	cmd.Flags().DurationVar(&every, "every", 10*time.Second, "poll interval")
	return cmd
}

func allTerminal(clusters []*registry.ClusterConfig) bool {
	for _, c := range clusters {
		if !registry.IsTerminal(c.Status) {
			return false
		}
	}
	return true
}

func printSummary(cmd *cobra.Command, batchID string, clusters []*registry.ClusterConfig) {
	counts := make(map[registry.ClusterStatus]int)
	for _, c := range clusters {
		counts[c.Status]++
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s  batch=%s  %v\n", time.Now().UTC().Format(time.RFC3339), batchID, counts)
}
