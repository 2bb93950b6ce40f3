package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/reportflow/pkg/api"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "reportflow:", cfg.Store.RedisPrefix)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 5, cfg.WorkerMaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 30*time.Second, cfg.LeaseTTL)
	assert.Empty(t, cfg.LeaseOwner)
	assert.True(t, cfg.Retry.IsZero())
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"REPORTFLOW_HTTP_ADDR":             "127.0.0.1:9000",
		"REPORTFLOW_STORE_DRIVER":          "Postgres",
		"REPORTFLOW_STORE_POSTGRES_DSN":    "postgres://u:p@db/reportflow",
		"REPORTFLOW_LOG_LEVEL":             "debug",
		"REPORTFLOW_LOG_FORMAT":            "JSON",
		"REPORTFLOW_RETRY_MAX_ATTEMPTS":    "7",
		"REPORTFLOW_RETRY_INITIAL_BACKOFF": "250ms",
		"REPORTFLOW_WORKERS":               "4",
		"REPORTFLOW_SHUTDOWN_TIMEOUT":      "1m",
		"REPORTFLOW_LEASE_OWNER":           "node-a",
		"REPORTFLOW_LEASE_TTL":             "10s",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://u:p@db/reportflow", cfg.Store.PostgresDSN)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout)
	assert.Equal(t, "node-a", cfg.LeaseOwner)
	assert.Equal(t, 10*time.Second, cfg.LeaseTTL)
}

func TestLoadFrom_IgnoresUnprefixedVariables(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"HTTP_ADDR": ":1"})
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadFrom_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":    {"REPORTFLOW_STORE_DRIVER": "cassandra"},
		"postgres no dsn":   {"REPORTFLOW_STORE_DRIVER": "postgres"},
		"bad level":         {"REPORTFLOW_LOG_LEVEL": "loud"},
		"bad format":        {"REPORTFLOW_LOG_FORMAT": "xml"},
		"no workers":        {"REPORTFLOW_WORKERS": "0"},
		"bad duration":      {"REPORTFLOW_SHUTDOWN_TIMEOUT": "soon"},
		"negative attempts": {"REPORTFLOW_RETRY_MAX_ATTEMPTS": "-1"},
		"short lease":       {"REPORTFLOW_LEASE_TTL": "10ms"},
	}
	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(environ)
			require.Error(t, err)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Config{
		Store:           StoreConfig{Driver: "nope"},
		Log:             LogConfig{Level: "info", Format: "yaml"},
		Workers:         0,
		ShutdownTimeout: time.Second,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER")
	assert.Contains(t, err.Error(), "LOG_FORMAT")
	assert.Contains(t, err.Error(), "WORKERS")
}

func TestRetryConfig_Apply(t *testing.T) {
	base := api.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 2, StartToCloseTimeout: time.Hour}

	assert.Equal(t, base, RetryConfig{}.Apply(base))

	got := RetryConfig{MaxAttempts: 6, Timeout: time.Minute}.Apply(base)
	assert.Equal(t, 6, got.MaxAttempts)
	assert.Equal(t, time.Minute, got.StartToCloseTimeout)
	assert.Equal(t, time.Second, got.InitialBackoff)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("verbose")
	require.Error(t, err)
}
