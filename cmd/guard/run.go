package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/guard/internal/batch"
	"github.com/vitaliisemenov/guard/internal/registry"
	"github.com/vitaliisemenov/guard/internal/statusapi"
)

func newRunCmd() *cobra.Command {
	var (
		batchID       string
		targetVersion string
		dryRun        bool
		maxConcurrent int
		soakPeriod    time.Duration
		serveAddr     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an Istio upgrade across every cluster in a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchID == "" {
				return fmt.Errorf("--batch is required")
			}
			if targetVersion == "" {
				return fmt.Errorf("--target-version is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if maxConcurrent > 0 {
				cfg.App.MaxConcurrent = maxConcurrent
			}
			if soakPeriod > 0 {
				cfg.App.SoakPeriod = soakPeriod
			}
			if dryRun {
				cfg.App.DryRun = true
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			runner := batch.NewRunner(
				a.store, a.locker, a.checksOrch, a.checksReg, a.checkCtx,
				a.gitopsOrch, a.engine, a.valOrch, a.valReg, a.rollback,
				a.logger, a.registry.Batch(),
			)

			if serveAddr != "" {
				hub := statusapi.NewHub(a.logger)
				runner.WithEvents(hub)

				serveCtx, cancelServe := context.WithCancel(ctx)
				defer cancelServe()
				go hub.Run(serveCtx)

				router := statusapi.NewRouter(statusapi.RouterConfig{
					Store: a.store, Hub: hub, Gatherer: a.promGatherer, Logger: a.logger,
				})
				server := statusapi.NewServer(serveAddr, router, a.logger)
				go func() {
					if err := server.Run(serveCtx); err != nil {
						a.logger.Error("status api server exited with error", "error", err)
					}
				}()
			}

			opts := batch.Options{
				MaxConcurrent:           cfg.App.MaxConcurrent,
				SoakPeriodMinutes:       int(cfg.App.SoakPeriod.Minutes()),
				BaselineDurationMinutes: cfg.Validation.BaselineDurationMinutes,
				CurrentDurationMinutes:  cfg.Validation.CurrentDurationMinutes,
				Thresholds: registry.ValidationThresholds{
					LatencyP95IncreasePercent: cfg.Validation.LatencyP95IncreasePct,
					LatencyP99IncreasePercent: cfg.Validation.LatencyP99IncreasePct,
					ErrorRateMax:              cfg.Validation.ErrorRateMax,
				},
			}

			outcomes, err := runner.RunBatch(ctx, batchID, targetVersion, cfg.App.DryRun, opts)
			if err != nil {
				return fmt.Errorf("run batch %s: %w", batchID, err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(outcomes); err != nil {
				return err
			}

			for _, o := range outcomes {
				if o.Status == batch.StatusError || o.Status == batch.StatusPreCheckFailed {
					return fmt.Errorf("batch %s had at least one failing cluster (%s: %s)", batchID, o.ClusterID, o.Status)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "batch ID to run (required)")
	cmd.Flags().StringVar(&targetVersion, "target-version", "", "target Istio version (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the plan without writing merge requests")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "override app.max_concurrent")
	cmd.Flags().DurationVar(&soakPeriod, "soak-period", 0, "override app.soak_period")
	cmd.Flags().StringVar(&serveAddr, "serve-addr", "", "also expose the status API on this address for the duration of the run")

	return cmd
}
