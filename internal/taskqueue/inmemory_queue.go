package taskqueue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("taskqueue: queue closed")

// InMemoryQueue is a simple Queue implementation backed by a buffered channel.
// It is safe for concurrent use. Tasks with a future NotBefore are held by a
// timer and enter the channel once due; Close drops any still held.
type InMemoryQueue struct {
	ch   chan Task
	stop chan struct{}
	once sync.Once
}

// NewInMemoryQueue creates a new queue with the given capacity.
// For tests and small deployments, a modest capacity (e.g. 1024) is fine.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		ch:   make(chan Task, capacity),
		stop: make(chan struct{}),
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case <-q.stop:
		return ErrQueueClosed
	default:
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	if delay := time.Until(t.NotBefore); delay > 0 {
		time.AfterFunc(delay, func() {
			select {
			case q.ch <- t:
			case <-q.stop:
			}
		})
		return nil
	}
	select {
	case q.ch <- t:
		return nil
	case <-q.stop:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.ch:
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *InMemoryQueue) Len() int {
	return len(q.ch)
}

// Close releases timers blocked on a full channel and rejects further
// enqueues. Tasks already in the channel can still be dequeued.
func (q *InMemoryQueue) Close() error {
	q.once.Do(func() { close(q.stop) })
	return nil
}
