package reportflow

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/reportflow/internal/engine"
	"github.com/petrijr/reportflow/internal/persistence"
	"github.com/petrijr/reportflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Client               = api.Client
	StartInput           = api.StartInput
	SignalPayload        = api.SignalPayload
	StatusSnapshot       = api.StatusSnapshot
	Description          = api.Description
	RunResult            = api.RunResult
	ListOptions          = api.ListOptions
	WorkflowInstance     = api.WorkflowInstance
	WorkflowEvent        = api.WorkflowEvent
	PhaseResult          = api.PhaseResult
	PhaseResults         = api.PhaseResults
	Status               = api.Status
	Data                 = api.Data
	PipelineDefinition   = api.PipelineDefinition
	PhaseDefinition      = api.PhaseDefinition
	StepDefinition       = api.StepDefinition
	SignalSchema         = api.SignalSchema
	RetryPolicy          = api.RetryPolicy
	PolicyTable          = api.PolicyTable
	ActivityFunc         = api.ActivityFunc
	ActivityInput        = api.ActivityInput
	ActivityInvoker      = api.ActivityInvoker
	ActivityRegistry     = api.ActivityRegistry
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common helpers.

var (
	NewActivityRegistry  = api.NewActivityRegistry
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NonRetryable         = api.NonRetryable
)

// Re-export status values for convenience.

const (
	StatusInProgress = api.StatusInProgress
	StatusCompleted  = api.StatusCompleted
	StatusFailed     = api.StatusFailed
)

// Option customizes a Client built by one of the constructors below.
type Option func(*options)

type options struct {
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
	owner    string
	leaseTTL time.Duration
}

// WithObserver sets the Observer notified of lifecycle events.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger sets the logger used for internal diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the time source used for timestamps and gate waits.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLease sets the owner id and TTL of the instance leases the Client
// takes. Dispatchers sharing a durable store must use distinct owners; an
// empty owner picks a random one.
func WithLease(owner string, ttl time.Duration) Option {
	return func(o *options) {
		o.owner = owner
		o.leaseTTL = ttl
	}
}

// Client constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

func newClient(p persistence.Persistence, def PipelineDefinition, acts ActivityInvoker, opts []Option) (Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	d, err := engine.New(engine.Config{
		Persistence: p,
		Pipeline:    def,
		Activities:  acts,
		Observer:    o.observer,
		Logger:      o.logger,
		Now:         o.now,
		Owner:       o.owner,
		LeaseTTL:    o.leaseTTL,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewInMemory returns a Client whose instances live only in process memory.
func NewInMemory(def PipelineDefinition, acts ActivityInvoker, opts ...Option) (Client, error) {
	return newClient(persistence.NewInMemory(), def, acts, opts)
}

// NewSQLite returns a Client that persists instances and history in a
// SQLite database. In-progress instances survive restarts; call Recover on
// startup to relaunch them.
func NewSQLite(db *sql.DB, def PipelineDefinition, acts ActivityInvoker, opts ...Option) (Client, error) {
	p, err := persistence.NewSQLite(db)
	if err != nil {
		return nil, err
	}
	return newClient(p, def, acts, opts)
}

// NewPostgres returns a Client that persists instances in PostgreSQL.
// db must use the pgx stdlib driver.
func NewPostgres(db *sql.DB, def PipelineDefinition, acts ActivityInvoker, opts ...Option) (Client, error) {
	p, err := persistence.NewPostgres(db)
	if err != nil {
		return nil, err
	}
	return newClient(p, def, acts, opts)
}

// NewRedis returns a Client that persists instances under prefix in Redis.
func NewRedis(client *redis.Client, prefix string, def PipelineDefinition, acts ActivityInvoker, opts ...Option) (Client, error) {
	return newClient(persistence.NewRedis(client, prefix), def, acts, opts)
}

// Convenience helpers that just forward to the underlying Client.

// Run starts (or joins) the instance for in and waits until it is terminal.
func Run(ctx context.Context, c Client, in StartInput) (*RunResult, error) {
	return c.Run(ctx, in)
}

// Recover delegates to c.Recover.
//
// It is typically called on process startup before accepting traffic:
//
//	count, err := reportflow.Recover(ctx, client)
func Recover(ctx context.Context, c Client) (int, error) {
	return c.Recover(ctx)
}
