package reportflow

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/reportflow/pkg/api"
)

// Automated returns a step that calls activity with args.
func Automated(name, activity string, args Data) StepDefinition {
	return StepDefinition{
		Name:     name,
		Kind:     api.StepAutomated,
		Activity: activity,
		Args:     args,
	}
}

// GateOption customizes a HumanGate step.
type GateOption func(*StepDefinition)

// WithAction sets the awaiting-action label reported while the gate waits.
// It defaults to the signal name.
func WithAction(action string) GateOption {
	return func(s *StepDefinition) { s.Action = action }
}

// WithMaxWait bounds how long the gate waits before it is reported overdue.
func WithMaxWait(d time.Duration) GateOption {
	return func(s *StepDefinition) { s.MaxWait = d }
}

// FailOnTimeout makes an elapsed max wait fail the phase instead of
// leaving the gate overdue.
func FailOnTimeout() GateOption {
	return func(s *StepDefinition) { s.OnTimeout = api.TimeoutFail }
}

// WithGateArgs sets the arguments passed to the completion activity.
func WithGateArgs(args Data) GateOption {
	return func(s *StepDefinition) { s.Args = args }
}

// HumanGate returns a step that suspends until signal is delivered and then
// calls completion with the consumed payload.
func HumanGate(name, signal, completion string, opts ...GateOption) StepDefinition {
	s := StepDefinition{
		Name:       name,
		Kind:       api.StepHumanGate,
		Signal:     signal,
		Completion: completion,
		OnTimeout:  api.TimeoutKeepWaiting,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// TypedActivity wraps a function returning a struct into an ActivityFunc.
// The result is stored in its JSON form.
// Example:
//
//	reportflow.TypedActivity(func(ctx context.Context, in reportflow.ActivityInput) (Summary, error) { ... })
func TypedActivity[O any](fn func(context.Context, ActivityInput) (O, error)) ActivityFunc {
	return func(ctx context.Context, in ActivityInput) (Data, error) {
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		data, err := api.EncodeData(out)
		if err != nil {
			return nil, api.NonRetryable(fmt.Errorf("encode %s result: %w", in.Step, err))
		}
		return data, nil
	}
}

// SignalData decodes the consumed signal of a gate's completion activity
// into T.
func SignalData[T any](in ActivityInput) (T, error) {
	var zero T
	if in.Signal == nil {
		return zero, api.NonRetryable(fmt.Errorf("step %s: no signal payload", in.Step))
	}
	return api.DecodeData[T](in.Signal.Data)
}
