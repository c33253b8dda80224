package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var (
		batchID string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the current status of every cluster in a batch once",
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

			clusters, err := a.store.QueryByBatch(ctx, batchID)
			if err != nil {
				return fmt.Errorf("query batch %s: %w", batchID, err)
			}
			if len(clusters) == 0 {
				return fmt.Errorf("batch %s has no clusters", batchID)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(clusters)
			}

			for _, c := range clusters {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-12s %-10s %s\n", c.ClusterID, c.Environment, c.Region, c.Status)
			}
			printSummary(cmd, batchID, clusters)
			return nil
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "batch ID to list (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full registry rows as JSON instead of a table")
	return cmd
}
