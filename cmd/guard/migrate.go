package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	guarddb "github.com/vitaliisemenov/guard/internal/database"
	"github.com/vitaliisemenov/guard/internal/database/postgres"
)

// newMigrateCmd manages the standard profile's Postgres schema via goose.
// The lite profile needs nothing here: registry.NewSQLiteStore applies its
// fixed schema inline on every startup.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the standard profile's Postgres schema",
	}
	cmd.AddCommand(newMigrateUpCmd(), newMigrateDownCmd(), newMigrateStatusCmd())
	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationPool(cmd.Context(), func(ctx context.Context, pool *postgres.PostgresPool, logger *slog.Logger) error {
				return guarddb.RunMigrations(ctx, pool, logger)
			})
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the given number of migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationPool(cmd.Context(), func(ctx context.Context, pool *postgres.PostgresPool, logger *slog.Logger) error {
				return guarddb.RunMigrationsDown(ctx, pool, steps, logger)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the applied/pending state of every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationPool(cmd.Context(), func(ctx context.Context, pool *postgres.PostgresPool, logger *slog.Logger) error {
				return guarddb.GetMigrationStatus(ctx, pool, logger)
			})
		},
	}
}

// withMigrationPool loads config, opens (and always closes) the Postgres
// pool goose runs against, and refuses to run for the lite profile.
func withMigrationPool(ctx context.Context, fn func(context.Context, *postgres.PostgresPool, *slog.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.IsLiteProfile() {
		return fmt.Errorf("migrate is a no-op for the lite profile, which migrates its embedded SQLite schema inline at startup")
	}

	logger := newLogger(cfg.Log)

	dbCfg := &postgres.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		User:            cfg.Database.Username,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.MaxConnections,
		MinConns:        cfg.Database.MinConnections,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	}
	pool := postgres.NewPostgresPool(dbCfg, logger)
	if err := pool.Connect(ctx); err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	return fn(ctx, pool, logger)
}
