package main

import (
	"github.com/spf13/cobra"

	guardconfig "github.com/vitaliisemenov/guard/internal/config"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "guard",
		Short: "Fleet-wide Istio upgrade orchestrator",
		Long:  "guard drives a batch of clusters through pre-flight checks, a GitOps merge request, reconciliation, and post-upgrade validation, rolling back any cluster that regresses.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to guard's YAML config file")

	root.AddCommand(
		newRunCmd(),
		newMonitorCmd(),
		newRollbackCmd(),
		newListCmd(),
		newValidateCmd(),
		newServeCmd(),
		newMigrateCmd(),
	)

	return root
}

func loadConfig() (*guardconfig.Config, error) {
	return guardconfig.Load(configPath)
}
