package main

import (
	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/guard/internal/statusapi"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only status API standalone",
		Long: "Serves liveness, metrics, and per-batch status snapshots from the registry. " +
			"Nothing in this process publishes status events, so /stream connections " +
			"receive no transitions; `run --serve-addr` serves the same API with a live " +
			"event stream for the duration of that run.",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			hub := statusapi.NewHub(a.logger)
			go hub.Run(ctx)

			router := statusapi.NewRouter(statusapi.RouterConfig{
				Store: a.store, Hub: hub, Gatherer: a.promGatherer, Logger: a.logger,
			})
			server := statusapi.NewServer(addr, router, a.logger)
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8090", "listen address for the status API")
	return cmd
}
