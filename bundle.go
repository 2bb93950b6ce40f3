package reportflow

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/reportflow/internal/persistence"
	"github.com/petrijr/reportflow/internal/taskqueue"
	workerpkg "github.com/petrijr/reportflow/pkg/worker"
)

// WorkerBundle wires together a Client, a durable task queue, and a Worker
// that consumes tasks from that queue.
type WorkerBundle struct {
	Client Client
	Worker *workerpkg.Worker

	// queue is kept unexported; it is primarily useful for internal
	// inspection and tests. The public API focuses on Client and Worker.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Client + Queue + Worker combo sharing
// the same SQLite database. Instances, history and queued tasks are persisted
// in the provided *sql.DB.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:reportflow.db?_pragma=journal_mode(WAL)")
//	bundle, err := reportflow.NewSQLiteBundle(db, def, acts, worker.Config{MaxAttempts: 3})
//	_, _ = bundle.Client.Recover(ctx)
//	go bundle.Run(ctx)
func NewSQLiteBundle(db *sql.DB, def PipelineDefinition, acts ActivityInvoker, cfg workerpkg.Config, opts ...Option) (*WorkerBundle, error) {
	p, err := persistence.NewSQLite(db)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	return newBundle(p, q, def, acts, cfg, opts)
}

// NewRedisBundle is like NewSQLiteBundle with instances, history and tasks
// stored under prefix in Redis. Several processes may share one bundle
// prefix; each task is delivered to exactly one of them. An instance runs
// in the process holding its lease; a signal or cancel task picked up by
// another process fails with api.ErrInstanceLeased and is redelivered, up to
// the worker's MaxAttempts.
func NewRedisBundle(client *redis.Client, prefix string, def PipelineDefinition, acts ActivityInvoker, cfg workerpkg.Config, opts ...Option) (*WorkerBundle, error) {
	return newBundle(persistence.NewRedis(client, prefix), taskqueue.NewRedisQueue(client, prefix), def, acts, cfg, opts)
}

// NewPostgresBundle stores instances and history in PostgreSQL. Queued
// tasks are held in process memory and are lost on restart; instances are
// not, and Recover resumes them.
func NewPostgresBundle(db *sql.DB, def PipelineDefinition, acts ActivityInvoker, cfg workerpkg.Config, opts ...Option) (*WorkerBundle, error) {
	p, err := persistence.NewPostgres(db)
	if err != nil {
		return nil, err
	}
	return newBundle(p, taskqueue.NewInMemoryQueue(inMemoryQueueCapacity), def, acts, cfg, opts)
}

// NewInMemoryBundle keeps instances, history and tasks in process memory.
func NewInMemoryBundle(def PipelineDefinition, acts ActivityInvoker, cfg workerpkg.Config, opts ...Option) (*WorkerBundle, error) {
	return newBundle(persistence.NewInMemory(), taskqueue.NewInMemoryQueue(inMemoryQueueCapacity), def, acts, cfg, opts)
}

const inMemoryQueueCapacity = 1024

func newBundle(p persistence.Persistence, q taskqueue.Queue, def PipelineDefinition, acts ActivityInvoker, cfg workerpkg.Config, opts []Option) (*WorkerBundle, error) {
	c, err := newClient(p, def, acts, opts)
	if err != nil {
		return nil, err
	}
	return &WorkerBundle{
		Client: c,
		Worker: workerpkg.NewWithConfig(c, q, cfg),
		queue:  q,
	}, nil
}

// Run processes queued tasks until ctx is cancelled.
func (b *WorkerBundle) Run(ctx context.Context) {
	logger := b.Worker.Logger()
	runWorker(ctx, b.Worker, logger)
}
