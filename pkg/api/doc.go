// Package api contains the data model and contracts of the reportflow
// orchestration core.
//
// Most users interact with the higher-level reportflow package, which
// re-exports selected types and adds builders and constructors. The api
// package is intended for custom integrations: alternative stores, activity
// invokers backed by remote services, or observers.
//
// # Pipelines
//
// A PipelineDefinition is an ordered list of phases. Each phase is an ordered
// list of steps, and each step is either automated (StepAutomated calls a
// named activity) or a human gate (StepHumanGate suspends until a named
// signal arrives, then calls its completion activity with the payload).
// Exactly zero or two adjacent phases are marked Parallel; they form the
// pipeline's single fork/join group. Validate checks these rules.
//
// Retry behavior is declared once per activity in a PolicyTable rather than
// at each call site.
//
// # Instances
//
// A WorkflowInstance is the durable record of one report's run. Its
// PhaseResults is an insertion-ordered, append-only map: a phase appears at
// most once, in completion order. Pending holds buffered signals, one per
// name, and a newer payload replaces an unconsumed older one. PhaseProgress
// is the durable cursor that lets a phase resume after a restart.
//
// # Errors
//
// Malformed input is reported as *ValidationError and never changes state.
// Activity errors are retried per policy unless marked with NonRetryable;
// exhausting the policy yields *ActivityExhaustedError. Any unrecovered
// error inside a phase is wrapped in *PhaseFailure, which fails the
// instance.
//
// # Observability
//
// Observer receives lifecycle callbacks. LoggingObserver writes them to a
// slog.Logger, BasicMetrics counts them, and NewCompositeObserver fans out
// to several observers.
package api
