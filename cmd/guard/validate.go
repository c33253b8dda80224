package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/guard/internal/registry"
)

func newValidateCmd() *cobra.Command {
	var clusterID string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run post-upgrade validators against one cluster outside of a batch run",
		Long: "Captures a fresh baseline/current metrics pair and runs every registered " +
			"validator against it, reporting pass/fail without touching the cluster's " +
			"registry status. Useful for re-checking a cluster after a manual fix.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clusterID == "" {
				return fmt.Errorf("--cluster is required")
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

			baseline := a.valOrch.CaptureBaseline(ctx, cluster, cfg.Validation.BaselineDurationMinutes)
			current := a.valOrch.CaptureCurrent(ctx, cluster, baseline, cfg.Validation.CurrentDurationMinutes)

			thresholds := registry.ValidationThresholds{
				LatencyP95IncreasePercent: cfg.Validation.LatencyP95IncreasePct,
				LatencyP99IncreasePercent: cfg.Validation.LatencyP99IncreasePct,
				ErrorRateMax:              cfg.Validation.ErrorRateMax,
			}

			results := a.valOrch.ValidateUpgrade(ctx, cluster, baseline, current, thresholds)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}

			for _, r := range results {
				if !r.Passed {
					return fmt.Errorf("cluster %s failed validator %q", clusterID, r.Name)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&clusterID, "cluster", "", "cluster ID to validate (required)")
	return cmd
}
