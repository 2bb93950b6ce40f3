package reportflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/petrijr/reportflow/internal/taskqueue"
	"github.com/petrijr/reportflow/pkg/worker"
)

// LocalRunner bundles an in-memory Client, an in-memory task queue, and a
// Worker to provide a simple "local runner" for development and debugging.
//
// Typical usage:
//
//	runner, err := reportflow.NewLocalRunner(def, activities)
//
//	// Synchronous start (no queue/worker involved):
//	id, err := runner.Client.Start(ctx, input)
//
//	// Asynchronous delivery:
//	_ = runner.StartWorkers(ctx, 2)
//	_ = runner.SignalAsync(ctx, id, "submit_planning_documents", payload)
//	...
//	runner.Stop()
type LocalRunner struct {
	// Client is the in-memory dispatcher used by this runner.
	Client Client

	// Queue is the in-memory task queue used by the Worker.
	Queue taskqueue.Queue

	// Worker applies tasks from Queue to Client.
	Worker *worker.Worker

	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory dispatcher,
// in-memory queue, and a Worker with default config.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner(def PipelineDefinition, acts ActivityInvoker, opts ...Option) (*LocalRunner, error) {
	c, err := NewInMemory(def, acts, opts...)
	if err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	q := taskqueue.NewInMemoryQueue(inMemoryQueueCapacity)
	return &LocalRunner{
		Client: c,
		Queue:  q,
		Worker: worker.NewWithConfig(c, q, worker.Config{Logger: logger}),
		logger: logger,
	}, nil
}

// StartWorkers starts 'concurrency' worker goroutines that continuously call
// Worker.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("reportflow: LocalRunner already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()
			runWorker(ctx, r.Worker, r.logger)
		}()
	}

	return nil
}

// runWorker drains the queue until ctx is cancelled.
func runWorker(ctx context.Context, w *worker.Worker, logger *slog.Logger) {
	for {
		_, err := w.ProcessOne(ctx)
		if err != nil {
			// Cancellation is a clean shutdown signal.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			// Keep going so a single bad task doesn't kill the worker loop.
			logger.WarnContext(ctx, "task_failed", slog.Any("error", err))
		}
	}
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit. The Client keeps running; call Close to stop it too.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Close stops the workers and then the Client.
func (r *LocalRunner) Close() error {
	r.Stop()
	if c, ok := r.Queue.(io.Closer); ok {
		_ = c.Close()
	}
	return r.Client.Close()
}

// StartAsync enqueues a task to start (or join) the instance for in.
func (r *LocalRunner) StartAsync(ctx context.Context, in StartInput) error {
	return r.Worker.EnqueueStart(ctx, in)
}

// SignalAsync enqueues a task to deliver a signal to an instance.
// The instance buffers the signal when a worker picks up the task.
func (r *LocalRunner) SignalAsync(ctx context.Context, instanceID, name string, payload SignalPayload) error {
	return r.Worker.EnqueueSignal(ctx, instanceID, name, payload)
}

// CancelAsync enqueues an operator cancellation.
func (r *LocalRunner) CancelAsync(ctx context.Context, instanceID, reason string) error {
	return r.Worker.EnqueueCancel(ctx, instanceID, reason)
}
