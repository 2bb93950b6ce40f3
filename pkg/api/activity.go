package api

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ActivityInput is what an activity receives for one invocation.
type ActivityInput struct {
	InstanceID string
	CycleID    int64
	ReportID   int64
	UserID     int64
	Phase      string
	Step       string
	Attempt    int
	Args       Data

	// Signal is the consumed payload for a gate's completion activity.
	Signal *SignalPayload
}

// ActivityFunc executes one named unit of work. It may run more than once
// for the same step and must tolerate re-invocation.
type ActivityFunc func(ctx context.Context, in ActivityInput) (Data, error)

// ActivityInvoker executes activities by name.
type ActivityInvoker interface {
	Invoke(ctx context.Context, name string, in ActivityInput) (Data, error)
}

// ActivityRegistry is a goroutine-safe, name-keyed ActivityInvoker.
type ActivityRegistry struct {
	mu  sync.RWMutex
	fns map[string]ActivityFunc
}

var _ ActivityInvoker = (*ActivityRegistry)(nil)

// NewActivityRegistry returns an empty registry.
func NewActivityRegistry() *ActivityRegistry {
	return &ActivityRegistry{fns: make(map[string]ActivityFunc)}
}

// Register adds fn under name. Registering a name twice is an error.
func (r *ActivityRegistry) Register(name string, fn ActivityFunc) error {
	if name == "" {
		return fmt.Errorf("activity name is required")
	}
	if fn == nil {
		return fmt.Errorf("activity %q has nil function", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fns[name]; ok {
		return fmt.Errorf("activity already registered: %s", name)
	}
	r.fns[name] = fn
	return nil
}

// MustRegister is like Register but panics on error.
func (r *ActivityRegistry) MustRegister(name string, fn ActivityFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (r *ActivityRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fns[name]
	return ok
}

// Names returns the registered activity names, sorted.
func (r *ActivityRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fns))
	for n := range r.fns {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Invoke runs the activity registered under name. Unknown names fail with a
// non-retryable ErrUnknownActivity.
func (r *ActivityRegistry) Invoke(ctx context.Context, name string, in ActivityInput) (Data, error) {
	r.mu.RLock()
	fn, ok := r.fns[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NonRetryable(fmt.Errorf("%w: %s", ErrUnknownActivity, name))
	}
	return fn(ctx, in)
}
