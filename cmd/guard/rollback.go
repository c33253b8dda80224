package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRollbackCmd() *cobra.Command {
	var (
		clusterID       string
		currentVersion  string
		previousVersion string
		reason          string
	)

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Open an emergency merge request reverting one cluster's Istio version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clusterID == "" || previousVersion == "" {
				return fmt.Errorf("--cluster and --previous-version are required")
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

			cluster, err := a.store.Get(ctx, clusterID)
			if err != nil {
				return fmt.Errorf("get cluster %s: %w", clusterID, err)
			}
			if currentVersion == "" {
				currentVersion = cluster.CurrentIstioVersion
			}
			if reason == "" {
				reason = "manual rollback requested via guard rollback"
			}

			mr, err := a.rollback.CreateRollbackMR(ctx, cluster, currentVersion, previousVersion, reason, nil)
			if err != nil {
				return fmt.Errorf("create rollback merge request: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "rollback merge request opened: %s\n", mr.WebURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&clusterID, "cluster", "", "cluster ID to roll back (required)")
	cmd.Flags().StringVar(&currentVersion, "current-version", "", "current Istio version (defaults to the registry's record)")
	cmd.Flags().StringVar(&previousVersion, "previous-version", "", "Istio version to revert to (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "why this cluster is being rolled back")
	return cmd
}
