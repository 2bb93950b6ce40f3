package api

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInstanceNotFound is returned when no instance has the given id.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceTerminal is returned when an operation needs a live instance
	// but the instance already completed or failed.
	ErrInstanceTerminal = errors.New("instance is terminal")

	// ErrInstanceNotRunning is returned by Wait when an in-progress instance
	// is not executing in this process (it has not been recovered yet).
	ErrInstanceNotRunning = errors.New("instance is not running in this process")

	// ErrSignalAlreadyConsumed rejects a signal whose gate has already run.
	ErrSignalAlreadyConsumed = errors.New("signal already consumed")

	// ErrUnknownActivity is returned by an invoker for an unregistered name.
	ErrUnknownActivity = errors.New("unknown activity")

	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")

	// ErrInstanceLeased is returned when another dispatcher owns the
	// instance. The request may succeed once routed to the owner or after
	// the owner's lease expires.
	ErrInstanceLeased = errors.New("instance is owned by another dispatcher")
)

// ValidationError rejects malformed input at the boundary. It never
// affects instance state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return "validation: " + e.Field + " " + e.Reason
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ActivityExhaustedError is returned when an activity failed on every
// attempt allowed by its retry policy, or failed with a non-retryable error.
type ActivityExhaustedError struct {
	Activity string
	Attempts int
	Err      error
}

func (e *ActivityExhaustedError) Error() string {
	return fmt.Sprintf("activity %s failed after %d attempt(s): %v", e.Activity, e.Attempts, e.Err)
}

func (e *ActivityExhaustedError) Unwrap() error { return e.Err }

// SignalTimeoutError reports that a gate's max wait elapsed without a signal.
type SignalTimeoutError struct {
	Phase  string
	Signal string
	Waited time.Duration
}

func (e *SignalTimeoutError) Error() string {
	return fmt.Sprintf("phase %s: no %s signal within %s", e.Phase, e.Signal, e.Waited)
}

// PhaseFailure wraps any unrecovered error inside a phase.
type PhaseFailure struct {
	Phase string
	Err   error
}

func (e *PhaseFailure) Error() string {
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseFailure) Unwrap() error { return e.Err }

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks an activity error so the executor does not retry it.
// Errors not marked this way are transient and retried per policy.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var n *nonRetryableError
	return errors.As(err, &n)
}
