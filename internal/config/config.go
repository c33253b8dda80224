// Package config loads guard's runtime configuration from a YAML file and
// environment variables via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Config is the top-level application configuration.
type Config struct {
	// Profile selects the registry backend: "lite" (embedded SQLite, single
	// process) or "standard" (Postgres, HA-ready, multiple orchestrators).
	Profile DeploymentProfile `mapstructure:"profile" validate:"required,oneof=lite standard"`

	Registry RegistryConfig `mapstructure:"registry"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log" validate:"required"`
	Lock     LockConfig     `mapstructure:"lock"`
	App      AppConfig      `mapstructure:"app" validate:"required"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	GitOps   GitOpsConfig   `mapstructure:"gitops"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Validation ValidationConfig `mapstructure:"validation"`
	MetricsBackend MetricsBackendConfig `mapstructure:"metrics_backend"`
}

// DeploymentProfile is the deployment profile type.
type DeploymentProfile string

const (
	// ProfileLite runs against an embedded SQLite registry, and the lock
	// talks to an in-process miniredis server instead of an external
	// Redis. Use case: a single operator box, CI dry-runs, small fleets.
	ProfileLite DeploymentProfile = "lite"

	// ProfileStandard runs against Postgres + Redis so that multiple
	// orchestrator processes can safely race on the same cluster set.
	ProfileStandard DeploymentProfile = "standard"
)

// RegistryConfig selects and tunes the cluster registry backend.
type RegistryConfig struct {
	// Backend is "sqlite" (Lite) or "postgres" (Standard).
	Backend      string `mapstructure:"backend"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int32         `mapstructure:"max_connections"`
	MinConnections  int32         `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	URL             string        `mapstructure:"url"`
}

// RedisConfig holds Redis connection settings for the distributed lock.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// LockConfig holds distributed lock defaults (C2).
type LockConfig struct {
	TTL                time.Duration `mapstructure:"ttl"`
	AcquireWaitTimeout time.Duration `mapstructure:"acquire_wait_timeout"`
	RenewalInterval    time.Duration `mapstructure:"renewal_interval"`
}

// AppConfig holds general application settings and batch defaults (C10).
type AppConfig struct {
	Name            string        `mapstructure:"name"`
	Environment     string        `mapstructure:"environment"`
	MaxConcurrent   int           `mapstructure:"max_concurrent" validate:"gt=0"`
	SoakPeriod      time.Duration `mapstructure:"soak_period"`
	DryRun          bool          `mapstructure:"dry_run"`
}

// MetricsConfig holds Prometheus exposition settings for the status server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// MetricsBackendConfig points at the Prometheus-compatible HTTP API
// queried by C7/C8 for cluster health signals. Distinct from MetricsConfig,
// which controls guard's own /metrics exposition.
type MetricsBackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// GitOpsConfig holds defaults for merge-request creation (C5/C9).
type GitOpsConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Token        string `mapstructure:"token"`
	DefaultDraft bool   `mapstructure:"default_draft"`
}

// RateLimitConfig holds per-remote token-bucket limits (design note §9).
type RateLimitConfig struct {
	GitLabRPM  int `mapstructure:"gitlab_rpm"`
	MetricsRPM int `mapstructure:"metrics_rpm"`
	CloudRPM   int `mapstructure:"cloud_rpm"`
}

// ValidationConfig holds the default thresholds (C7) and baseline/soak
// durations (C8) applied when a batch run doesn't override them.
type ValidationConfig struct {
	BaselineDurationMinutes int     `mapstructure:"baseline_duration_minutes"`
	CurrentDurationMinutes  int     `mapstructure:"current_duration_minutes"`
	LatencyP95IncreasePct   float64 `mapstructure:"latency_p95_increase_percent"`
	LatencyP99IncreasePct   float64 `mapstructure:"latency_p99_increase_percent"`
	ErrorRateMax            float64 `mapstructure:"error_rate_max"`
}

// Load reads configuration from configPath (if non-empty) layered under
// environment variables prefixed GUARD_ (e.g. GUARD_DATABASE_HOST).
func Load(configPath string) (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("guard")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("profile", "standard")

	viper.SetDefault("registry.backend", "postgres")
	viper.SetDefault("registry.sqlite_path", "./guard.db")
	viper.SetDefault("registry.migrations_dir", "migrations")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "guard")
	viper.SetDefault("database.username", "guard")
	viper.SetDefault("database.password", "guard")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 2)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.connect_timeout", "10s")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("lock.ttl", "30s")
	viper.SetDefault("lock.acquire_wait_timeout", "2m")
	viper.SetDefault("lock.renewal_interval", "10s")

	viper.SetDefault("app.name", "guard")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.max_concurrent", 5)
	viper.SetDefault("app.soak_period", "5m")
	viper.SetDefault("app.dry_run", false)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("gitops.default_draft", true)

	viper.SetDefault("metrics_backend.base_url", "http://prometheus.monitoring:9090")

	viper.SetDefault("rate_limit.gitlab_rpm", 600)
	viper.SetDefault("rate_limit.metrics_rpm", 300)
	viper.SetDefault("rate_limit.cloud_rpm", 120)

	viper.SetDefault("validation.baseline_duration_minutes", 30)
	viper.SetDefault("validation.current_duration_minutes", 15)
	viper.SetDefault("validation.latency_p95_increase_percent", 20.0)
	viper.SetDefault("validation.latency_p99_increase_percent", 25.0)
	viper.SetDefault("validation.error_rate_max", 0.01)
}

// Validate sanity-checks the loaded configuration: struct-tag rules first,
// then the cross-field rules validator can't express with tags alone.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Profile == ProfileStandard && c.Database.Database == "" {
		return fmt.Errorf("database.database is required for the standard profile")
	}

	return nil
}

// DatabaseURL constructs the Postgres connection URL from configuration.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		sslMode,
	)
}

// IsLiteProfile reports whether the embedded SQLite registry is in use.
func (c *Config) IsLiteProfile() bool {
	return c.Profile == ProfileLite
}
