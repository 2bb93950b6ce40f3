package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/reportflow/internal/taskqueue"
	"github.com/petrijr/reportflow/pkg/api"
)

// CancelPayload is the payload of a cancel task.
type CancelPayload struct {
	Reason string `json:"reason"`
}

// Config controls task redelivery.
type Config struct {
	// MaxAttempts is the total number of times a task is handed to the
	// client. Values <= 1 disable redelivery.
	MaxAttempts int

	// Backoff is the delay before the first redelivery. It doubles for each
	// following attempt.
	Backoff time.Duration

	Logger *slog.Logger
}

// Worker pulls tasks from a Queue and applies them to a Client.
type Worker struct {
	client api.Client
	queue  taskqueue.Queue
	cfg    Config
	logger *slog.Logger
}

// New creates a Worker that never redelivers failed tasks.
func New(client api.Client, queue taskqueue.Queue) *Worker {
	return NewWithConfig(client, queue, Config{})
}

// NewWithConfig creates a Worker with the given redelivery settings.
func NewWithConfig(client api.Client, queue taskqueue.Queue, cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		client: client,
		queue:  queue,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "worker")),
	}
}

// Logger returns the worker's logger.
func (w *Worker) Logger() *slog.Logger {
	return w.logger
}

// EnqueueStart enqueues a task that starts (or joins) the instance for in.
func (w *Worker) EnqueueStart(ctx context.Context, in api.StartInput) error {
	return w.enqueue(ctx, taskqueue.TaskTypeStart, "", "", in, time.Time{})
}

// EnqueueSignal enqueues a signal for asynchronous delivery.
func (w *Worker) EnqueueSignal(ctx context.Context, instanceID, name string, payload api.SignalPayload) error {
	return w.enqueue(ctx, taskqueue.TaskTypeSignal, instanceID, name, payload, time.Time{})
}

// EnqueueSignalAt enqueues a signal that is delivered no earlier than at.
func (w *Worker) EnqueueSignalAt(ctx context.Context, instanceID, name string, payload api.SignalPayload, at time.Time) error {
	return w.enqueue(ctx, taskqueue.TaskTypeSignal, instanceID, name, payload, at)
}

// EnqueueCancel enqueues an operator cancellation.
func (w *Worker) EnqueueCancel(ctx context.Context, instanceID, reason string) error {
	return w.enqueue(ctx, taskqueue.TaskTypeCancel, instanceID, "", CancelPayload{Reason: reason}, time.Time{})
}

func (w *Worker) enqueue(ctx context.Context, typ taskqueue.TaskType, instanceID, signal string, payload any, at time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s task: %w", typ, err)
	}
	return w.queue.Enqueue(ctx, taskqueue.Task{
		Type:       typ,
		InstanceID: instanceID,
		SignalName: signal,
		Payload:    raw,
		EnqueuedAt: time.Now(),
		NotBefore:  at,
	})
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained; err is the dequeue error.
//   - processed == true: a task was handled. A failure that was scheduled
//     for redelivery returns a nil error.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	err = w.handle(ctx, task)
	if err == nil {
		return true, nil
	}
	if w.retryable(err) && task.Attempts+1 < w.cfg.MaxAttempts {
		next := *task
		next.ID = ""
		next.Attempts++
		next.NotBefore = time.Now().Add(w.backoff(next.Attempts))
		if qerr := w.queue.Enqueue(ctx, next); qerr != nil {
			return true, errors.Join(err, qerr)
		}
		w.logger.WarnContext(ctx, "task_redelivery_scheduled",
			slog.String("type", string(task.Type)),
			slog.String("instance_id", task.InstanceID),
			slog.Int("attempt", next.Attempts),
			slog.Any("error", err),
		)
		return true, nil
	}
	return true, err
}

func (w *Worker) handle(ctx context.Context, task *taskqueue.Task) error {
	switch task.Type {
	case taskqueue.TaskTypeStart:
		var in api.StartInput
		if err := json.Unmarshal(task.Payload, &in); err != nil {
			return &api.ValidationError{Field: "payload", Reason: "invalid start task: " + err.Error()}
		}
		id, err := w.client.Start(ctx, in)
		if err != nil {
			return err
		}
		w.logger.InfoContext(ctx, "task_started_instance", slog.String("instance_id", id))
		return nil

	case taskqueue.TaskTypeSignal:
		var p api.SignalPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return &api.ValidationError{Field: "payload", Reason: "invalid signal task: " + err.Error()}
		}
		return w.client.Signal(ctx, task.InstanceID, task.SignalName, p)

	case taskqueue.TaskTypeCancel:
		var p CancelPayload
		if len(task.Payload) > 0 {
			if err := json.Unmarshal(task.Payload, &p); err != nil {
				return &api.ValidationError{Field: "payload", Reason: "invalid cancel task: " + err.Error()}
			}
		}
		return w.client.Cancel(ctx, task.InstanceID, p.Reason)

	default:
		// Unknown task type; mark as processed but return an error so this isn't silently ignored.
		return &api.ValidationError{Field: "type", Reason: "unknown task type: " + string(task.Type)}
	}
}

// retryable reports whether redelivering the task could succeed. Rejections
// that depend only on the task or on terminal instance state never can.
func (w *Worker) retryable(err error) bool {
	switch {
	case api.IsValidationError(err),
		errors.Is(err, api.ErrInstanceTerminal),
		errors.Is(err, api.ErrSignalAlreadyConsumed),
		errors.Is(err, api.ErrDispatcherClosed),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (w *Worker) backoff(attempt int) time.Duration {
	if w.cfg.Backoff <= 0 {
		return 0
	}
	return w.cfg.Backoff << (attempt - 1)
}
