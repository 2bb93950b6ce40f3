// Command reportflowd runs the report-testing pipeline behind an HTTP API.
//
// Configuration is read from REPORTFLOW_* environment variables; see
// internal/config.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/petrijr/reportflow"
	"github.com/petrijr/reportflow/internal/config"
	"github.com/petrijr/reportflow/internal/httpapi"
	"github.com/petrijr/reportflow/internal/logging"
	"github.com/petrijr/reportflow/pkg/api"
	"github.com/petrijr/reportflow/pkg/reporttesting"
	"github.com/petrijr/reportflow/pkg/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		slog.Error("logger setup failed", "error", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("reportflowd exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	def := reporttesting.Pipeline()
	if !cfg.Retry.IsZero() {
		def.Policies.Default = cfg.Retry.Apply(def.Policies.Default)
	}

	bundle, closeStore, err := openBundle(ctx, cfg, def, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := bundle.Client.Recover(ctx)
	if err != nil {
		_ = bundle.Client.Close()
		return fmt.Errorf("recover instances: %w", err)
	}
	logger.Info("recovered instances", slog.Int("count", n), slog.String("store", cfg.Store.Driver))

	workCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for range cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bundle.Run(workCtx)
		}()
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.New(bundle.Client,
			httpapi.WithEnqueuer(bundle.Worker),
			httpapi.WithLogger(logger),
		).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", slog.Any("error", serr))
	}

	stopWorkers()
	wg.Wait()

	// Live instances stay in progress and are resumed on the next start.
	if cerr := bundle.Client.Close(); cerr != nil {
		logger.Warn("client close", slog.Any("error", cerr))
	}
	return err
}

// openBundle connects the configured store and returns a bundle for def
// with a function releasing the store connection.
func openBundle(ctx context.Context, cfg *config.Config, def api.PipelineDefinition, logger *slog.Logger) (*reportflow.WorkerBundle, func(), error) {
	acts := reporttesting.StubActivities(logger)
	wcfg := worker.Config{
		MaxAttempts: cfg.WorkerMaxAttempts,
		Backoff:     cfg.WorkerBackoff,
		Logger:      logger,
	}
	opts := []reportflow.Option{
		reportflow.WithLogger(logger),
		reportflow.WithObserver(reportflow.NewLoggingObserver(logger)),
		reportflow.WithLease(cfg.LeaseOwner, cfg.LeaseTTL),
	}
	noop := func() {}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		b, err := reportflow.NewInMemoryBundle(def, acts, wcfg, opts...)
		return b, noop, err

	case config.DriverSQLite:
		db, err := sql.Open("sqlite", "file:"+cfg.Store.SQLitePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		b, err := reportflow.NewSQLiteBundle(db, def, acts, wcfg, opts...)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return b, func() { _ = db.Close() }, nil

	case config.DriverPostgres:
		db, err := sql.Open("pgx", cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		b, err := reportflow.NewPostgresBundle(db, def, acts, wcfg, opts...)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return b, func() { _ = db.Close() }, nil

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		b, err := reportflow.NewRedisBundle(client, cfg.Store.RedisPrefix, def, acts, wcfg, opts...)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return b, func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
