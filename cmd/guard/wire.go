package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/guard/internal/checks"
	guardconfig "github.com/vitaliisemenov/guard/internal/config"
	"github.com/vitaliisemenov/guard/internal/configeditor"
	"github.com/vitaliisemenov/guard/internal/database/postgres"
	"github.com/vitaliisemenov/guard/internal/gitops"
	"github.com/vitaliisemenov/guard/internal/lock"
	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/internal/platform/cloud"
	"github.com/vitaliisemenov/guard/internal/platform/execcli"
	"github.com/vitaliisemenov/guard/internal/platform/gitlab"
	platformk8s "github.com/vitaliisemenov/guard/internal/platform/kubernetes"
	platformmetrics "github.com/vitaliisemenov/guard/internal/platform/metrics"
	"github.com/vitaliisemenov/guard/internal/registry"
	"github.com/vitaliisemenov/guard/internal/resilience"
	"github.com/vitaliisemenov/guard/internal/rollback"
	"github.com/vitaliisemenov/guard/internal/validation"
	"github.com/vitaliisemenov/guard/internal/validationengine"
	"github.com/vitaliisemenov/guard/pkg/logger"
	"github.com/vitaliisemenov/guard/pkg/metrics"

	prom "github.com/prometheus/client_golang/prometheus"
)

// app bundles every component a guard subcommand might need. Only run
// uses all of it; serve/monitor/list/validate/rollback touch a slice.
type app struct {
	cfg      *guardconfig.Config
	logger   *slog.Logger
	registry *metrics.Registry
	promGatherer prom.Gatherer

	store  registry.Store
	locker *lock.Locker

	k8s    platform.KubernetesProvider
	gitlabClient platform.GitOpsProvider
	metricsClient platform.MetricsProvider
	cloudClient platform.CloudProvider
	cli    platform.ExternalCLI

	gitopsOrch *gitops.Orchestrator
	rollback   *rollback.Producer
	engine     *validationengine.Engine
	valOrch    *validation.Orchestrator
	valReg     *validation.Registry
	checksOrch *checks.Orchestrator
	checksReg  *checks.Registry
	checkCtx   *checks.Context

	closers []func() error
}

// newApp wires every component from cfg. Callers must call app.Close when
// done to release the registry store, connection pool, and Redis client.
func newApp(ctx context.Context, cfg *guardconfig.Config) (*app, error) {
	logger := newLogger(cfg.Log)
	promReg := prom.NewRegistry()
	reg := metrics.NewRegistry(cfg.App.Name, promReg)

	a := &app{cfg: cfg, logger: logger, registry: reg, promGatherer: promReg}

	if err := a.wireRegistry(ctx); err != nil {
		return nil, fmt.Errorf("wire registry: %w", err)
	}
	if err := a.wireLock(ctx); err != nil {
		return nil, fmt.Errorf("wire lock: %w", err)
	}
	a.wirePlatformAdapters()
	a.wireDomainComponents()

	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error during shutdown", "error", err)
		}
	}
}

// newLogger adapts guard's own LogConfig to pkg/logger's Config and builds
// the shared slog.Logger every component in app logs through.
func newLogger(cfg guardconfig.LogConfig) *slog.Logger {
	return logger.NewLogger(logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

func (a *app) wireRegistry(ctx context.Context) error {
	if a.cfg.IsLiteProfile() {
		store, err := registry.NewSQLiteStore(ctx, a.cfg.Registry.SQLitePath, a.logger)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
		return nil
	}

	dbCfg := &postgres.PostgresConfig{
		Host:              a.cfg.Database.Host,
		Port:              a.cfg.Database.Port,
		Database:          a.cfg.Database.Database,
		User:              a.cfg.Database.Username,
		Password:          a.cfg.Database.Password,
		SSLMode:           a.cfg.Database.SSLMode,
		MaxConns:          a.cfg.Database.MaxConnections,
		MinConns:          a.cfg.Database.MinConnections,
		MaxConnLifetime:   a.cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   a.cfg.Database.MaxConnIdleTime,
		ConnectTimeout:    a.cfg.Database.ConnectTimeout,
	}
	pool := postgres.NewPostgresPool(dbCfg, a.logger)
	if err := pool.Connect(ctx); err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	store, err := registry.NewPostgresStore(ctx, pool, a.logger)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// wireLock builds the distributed locker. The lite profile has no external
// Redis dependency to stand up, so it runs an in-process miniredis
// instance instead: the same Locker implementation, wire-compatible
// fencing semantics, no extra infrastructure for a single-operator box.
func (a *app) wireLock(ctx context.Context) error {
	var client *redis.Client

	if a.cfg.IsLiteProfile() {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start embedded redis: %w", err)
		}
		a.closers = append(a.closers, func() error { mr.Close(); return nil })
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         a.cfg.Redis.Addr,
			Password:     a.cfg.Redis.Password,
			DB:           a.cfg.Redis.DB,
			PoolSize:     a.cfg.Redis.PoolSize,
			DialTimeout:  a.cfg.Redis.DialTimeout,
			ReadTimeout:  a.cfg.Redis.ReadTimeout,
			WriteTimeout: a.cfg.Redis.WriteTimeout,
		})
	}
	a.closers = append(a.closers, client.Close)

	lockCfg := lock.Config{TTL: a.cfg.Lock.TTL, AcquireWaitStep: time.Second}
	a.locker = lock.New(client, lockCfg, a.logger, a.registry.Lock())
	return nil
}

func (a *app) wirePlatformAdapters() {
	limiters := resilience.NewRateLimiterRegistry()

	a.gitlabClient = gitlab.New(gitlab.Config{
		BaseURL:   a.cfg.GitOps.BaseURL,
		Token:     a.cfg.GitOps.Token,
		RateLimit: float64(a.cfg.RateLimit.GitLabRPM),
		Logger:    a.logger,
		Limiters:  limiters,
	})

	a.metricsClient = platformmetrics.New(platformmetrics.Config{
		BaseURL:   a.cfg.MetricsBackend.BaseURL,
		RateLimit: float64(a.cfg.RateLimit.MetricsRPM),
		Logger:    a.logger,
		Limiters:  limiters,
	})

	a.cloudClient = cloud.New(cloud.StaticConfig{})

	k8sProvider, err := platformk8s.New(platformk8s.DefaultConfig())
	if err != nil {
		a.logger.Warn("kubernetes provider unavailable, continuing without in-cluster access", "error", err)
	} else {
		a.k8s = k8sProvider
	}

	a.cli = execcli.New(60*time.Second, a.logger)
}

func (a *app) wireDomainComponents() {
	editor := configeditor.New()

	a.gitopsOrch = gitops.NewOrchestrator(a.gitlabClient, editor, a.logger, a.registry.GitOps()).
		WithRetryMetrics(a.registry.Retry())
	a.rollback = rollback.NewProducer(a.gitlabClient, editor, a.logger)

	a.engine = validationengine.NewEngine(a.k8s, a.cli, a.logger, a.registry.Validators())

	a.valReg = validation.NewRegistry(a.logger)
	a.valReg.Register(validation.NewLatencyValidator())
	a.valReg.Register(validation.NewErrorRateValidator())
	a.valOrch = validation.NewOrchestrator(a.valReg, a.metricsClient, a.logger, a.registry.Validators())

	a.checksReg = checks.NewRegistry(a.logger)
	a.checksReg.Register(checks.NewControlPlaneReachableCheck())
	a.checksReg.Register(checks.NewAllNodesReadyCheck())
	a.checksReg.Register(checks.NewMeshConfigAnalysisCheck())
	a.checksReg.Register(checks.NewNamespacedPodHealthCheck(nil))
	a.checksReg.Register(checks.NewSidecarVersionCheck())
	a.checksOrch = checks.NewOrchestrator(a.checksReg, a.logger, a.registry.Checks())

	a.checkCtx = &checks.Context{
		Kubernetes: a.k8s,
		Cloud:      a.cloudClient,
		Metrics:    a.metricsClient,
		CLI:        a.cli,
	}
}
