package taskqueue

import (
	"context"
	"encoding/json"
	"time"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	TaskTypeStart  TaskType = "start"
	TaskTypeSignal TaskType = "signal"
	TaskTypeCancel TaskType = "cancel"
)

// Task represents a unit of work for the worker.
type Task struct {
	ID   string   `json:"id,omitempty"`
	Type TaskType `json:"type"`

	// For signal and cancel tasks
	InstanceID string `json:"instance_id,omitempty"`
	SignalName string `json:"signal_name,omitempty"`

	// Payload is task-type specific JSON:
	//   - start: api.StartInput
	//   - signal: api.SignalPayload
	//   - cancel: {"reason": "..."}
	Payload json.RawMessage `json:"payload,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately" (i.e., at enqueue time).
	NotBefore time.Time `json:"not_before"`

	// Attempts counts earlier failed deliveries of this task.
	Attempts int `json:"attempts"`
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
