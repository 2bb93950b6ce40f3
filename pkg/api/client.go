package api

import (
	"context"
	"encoding/json"
	"time"
)

// StartInput identifies the report a pipeline run is for.
type StartInput struct {
	CycleID    int64    `json:"cycle_id"`
	ReportID   int64    `json:"report_id"`
	UserID     int64    `json:"user_id"`
	SkipPhases []string `json:"skip_phases,omitempty"`
}

// StatusSnapshot is the point-in-time view returned by GetCurrentStatus.
type StatusSnapshot struct {
	InstanceID     string       `json:"instance_id"`
	CurrentPhase   string       `json:"current_phase"`
	AwaitingAction string       `json:"awaiting_action"`
	PhaseResults   PhaseResults `json:"phase_results"`
	Status         Status       `json:"status"`

	// ActivePhases lists the phases executing right now; during the
	// fork/join section it holds both branches.
	ActivePhases []string `json:"active_phases,omitempty"`

	// AwaitingActions holds the awaiting action of every active phase.
	AwaitingActions map[string]string `json:"awaiting_actions,omitempty"`

	// PendingSignals lists buffered, unconsumed signal names, sorted.
	PendingSignals []string `json:"pending_signals,omitempty"`

	FailedPhase string `json:"failed_phase,omitempty"`
	Error       string `json:"error,omitempty"`
}

// MarshalJSON encodes an empty AwaitingAction as null.
func (s StatusSnapshot) MarshalJSON() ([]byte, error) {
	type plain StatusSnapshot
	return json.Marshal(struct {
		plain
		AwaitingAction *string `json:"awaiting_action"`
	}{plain: plain(s), AwaitingAction: NullableAction(s.AwaitingAction)})
}

// NullableAction returns nil for "" and a pointer to action otherwise.
func NullableAction(action string) *string {
	if action == "" {
		return nil
	}
	return &action
}

// Description is the lifecycle summary returned by Describe.
type Description struct {
	InstanceID string     `json:"instance_id"`
	RunID      string     `json:"run_id"`
	Status     Status     `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	CloseTime  *time.Time `json:"close_time,omitempty"`
}

// RunResult is the terminal outcome of an instance.
type RunResult struct {
	InstanceID   string       `json:"instance_id"`
	Status       Status       `json:"status"`
	PhaseResults PhaseResults `json:"phase_results"`
	FailedPhase  string       `json:"failed_phase,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// ListOptions filters List. Zero values mean "no filter" for that field.
type ListOptions struct {
	Key    string
	Status Status
}

// Client is the external surface of the orchestration core.
type Client interface {
	// Start returns the id of the live instance for the report, creating
	// one when none exists. Starting again after the previous instance
	// reached a terminal status creates a new, suffixed instance.
	Start(ctx context.Context, in StartInput) (string, error)

	// Signal buffers a named input for the instance. A newer payload for
	// the same name replaces an unconsumed older one.
	Signal(ctx context.Context, instanceID, name string, payload SignalPayload) error

	// GetCurrentStatus returns a side-effect-free snapshot of the instance.
	GetCurrentStatus(ctx context.Context, instanceID string) (*StatusSnapshot, error)

	// GetAwaitingAction returns the pending human action, or "" for none.
	GetAwaitingAction(ctx context.Context, instanceID string) (string, error)

	// Cancel forces the instance into StatusFailed with reason.
	Cancel(ctx context.Context, instanceID, reason string) error

	// Describe returns status and lifecycle timestamps.
	Describe(ctx context.Context, instanceID string) (*Description, error)

	// Wait blocks until the instance is terminal and returns its outcome.
	Wait(ctx context.Context, instanceID string) (*RunResult, error)

	// Run starts (or joins) the instance for in and waits for it.
	Run(ctx context.Context, in StartInput) (*RunResult, error)

	// List returns stored instances matching opts.
	List(ctx context.Context, opts ListOptions) ([]*WorkflowInstance, error)

	// History returns the audit events of an instance in order.
	History(ctx context.Context, instanceID string) ([]WorkflowEvent, error)

	// Recover relaunches every in-progress instance that is not executing
	// in this process and returns how many were relaunched.
	Recover(ctx context.Context) (int, error)

	// Close stops every running instance without changing its stored
	// status and waits for them to return.
	Close() error
}
