package api

import "time"

// EventType identifies an instance history event.
type EventType string

const (
	EventInstanceStarted   EventType = "instance.started"
	EventInstanceResumed   EventType = "instance.resumed"
	EventInstanceCompleted EventType = "instance.completed"
	EventInstanceFailed    EventType = "instance.failed"
	EventInstanceCancelled EventType = "instance.cancelled"

	EventPhaseStarted   EventType = "phase.started"
	EventPhaseCompleted EventType = "phase.completed"
	EventPhaseFailed    EventType = "phase.failed"
	EventPhaseSkipped   EventType = "phase.skipped"

	EventStepCompleted EventType = "step.completed"
	EventStepRetried   EventType = "step.retried"

	EventSignalReceived EventType = "signal.received"
	EventSignalConsumed EventType = "signal.consumed"
	EventSignalTimedOut EventType = "signal.timed_out"
)

// WorkflowEvent is a minimal append-only history record for audit/debugging.
type WorkflowEvent struct {
	InstanceID string    `json:"instance_id" msgpack:"instance_id"`
	At         time.Time `json:"at" msgpack:"at"`
	Type       EventType `json:"type" msgpack:"type"`

	// Optional context.
	Phase string `json:"phase,omitempty" msgpack:"phase,omitempty"`
	Step  string `json:"step,omitempty" msgpack:"step,omitempty"`

	// Small, human-oriented details (e.g. signal name, error string).
	// Do NOT dump payloads here.
	Detail string `json:"detail,omitempty" msgpack:"detail,omitempty"`
}
