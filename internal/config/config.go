// Package config loads the reportflowd configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"

	"github.com/petrijr/reportflow/pkg/api"
)

// Prefix is prepended to every environment variable name.
const Prefix = "REPORTFLOW_"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds the complete service configuration.
type Config struct {
	HTTPAddr string      `env:"HTTP_ADDR" envDefault:":8080"`
	Store    StoreConfig `envPrefix:"STORE_"`
	Log      LogConfig   `envPrefix:"LOG_"`
	Retry    RetryConfig `envPrefix:"RETRY_"`

	// Workers is the number of goroutines draining the task queue.
	Workers           int           `env:"WORKERS"             envDefault:"2"`
	WorkerMaxAttempts int           `env:"WORKER_MAX_ATTEMPTS" envDefault:"5"`
	WorkerBackoff     time.Duration `env:"WORKER_BACKOFF"      envDefault:"500ms"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT"    envDefault:"15s"`

	// LeaseOwner names this process in instance leases; empty means random.
	// Processes sharing a store must not share an owner.
	LeaseOwner string        `env:"LEASE_OWNER"`
	LeaseTTL   time.Duration `env:"LEASE_TTL" envDefault:"30s"`
}

type StoreConfig struct {
	Driver        string `env:"DRIVER"         envDefault:"memory"` // memory|sqlite|postgres|redis
	SQLitePath    string `env:"SQLITE_PATH"    envDefault:"reportflow.db"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	RedisAddr     string `env:"REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX"   envDefault:"reportflow:"`
}

type LogConfig struct {
	Level   string `env:"LEVEL"    envDefault:"info"` // debug|info|warn|error
	Format  string `env:"FORMAT"   envDefault:"text"` // text|json
	NoColor bool   `env:"NO_COLOR" envDefault:"false"`
}

// RetryConfig overrides the pipeline's default activity retry policy.
// Zero values keep the pipeline's own setting.
type RetryConfig struct {
	MaxAttempts    int           `env:"MAX_ATTEMPTS"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF"`
	Multiplier     float64       `env:"MULTIPLIER"`
	Timeout        time.Duration `env:"TIMEOUT"`
}

// Apply returns base with every non-zero field of c applied.
func (c RetryConfig) Apply(base api.RetryPolicy) api.RetryPolicy {
	if c.MaxAttempts > 0 {
		base.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoff > 0 {
		base.InitialBackoff = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		base.MaxBackoff = c.MaxBackoff
	}
	if c.Multiplier > 0 {
		base.BackoffMultiplier = c.Multiplier
	}
	if c.Timeout > 0 {
		base.StartToCloseTimeout = c.Timeout
	}
	return base
}

// IsZero reports whether c overrides nothing.
func (c RetryConfig) IsZero() bool {
	return c == RetryConfig{}
}

// Load parses the process environment and validates the result.
func Load() (*Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom is like Load but reads variables from environ instead of the
// process environment. Keys include the prefix.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values parse cannot check on its own.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverMemory, DriverRedis:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("STORE_SQLITE_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("STORE_POSTGRES_DSN is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	if c.Store.Driver == DriverRedis && c.Store.RedisAddr == "" {
		errs = append(errs, errors.New("STORE_REDIS_ADDR is required for the redis driver"))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.Log.Format))
	}

	if c.Workers < 1 {
		errs = append(errs, errors.New("WORKERS must be at least 1"))
	}
	if c.WorkerMaxAttempts < 1 {
		errs = append(errs, errors.New("WORKER_MAX_ATTEMPTS must be at least 1"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	if c.LeaseTTL < time.Second {
		errs = append(errs, errors.New("LEASE_TTL must be at least 1s"))
	}
	if c.Retry.MaxAttempts < 0 || c.Retry.Multiplier < 0 {
		errs = append(errs, errors.New("RETRY_* values must not be negative"))
	}
	return errors.Join(errs...)
}

// ParseLevel maps debug|info|warn|error (case-insensitive) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown LOG_LEVEL %q", s)
	}
	return level, nil
}
