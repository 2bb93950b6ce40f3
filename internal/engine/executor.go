package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/reportflow/pkg/api"
)

// runPhase executes the steps of one phase from its persisted cursor and
// commits the PhaseResult. Failures come back as *api.PhaseFailure.
func (r *instanceRun) runPhase(ctx context.Context, phase api.PhaseDefinition) error {
	fresh, err := r.beginPhase(ctx, phase.Name)
	if err != nil {
		return r.phaseError(ctx, phase.Name, err, 0)
	}
	if fresh {
		r.d.record(ctx, api.WorkflowEvent{InstanceID: r.ref().ID, Type: api.EventPhaseStarted, Phase: phase.Name})
		r.d.observer.OnPhaseStart(ctx, r.ref(), phase.Name)
	}

	started := r.d.now()
	for {
		idx := r.nextStep(phase.Name)
		if idx >= len(phase.Steps) {
			break
		}
		step := phase.Steps[idx]

		out, err := r.runStep(ctx, phase, step)
		if err != nil {
			return r.phaseError(ctx, phase.Name, err, r.d.now().Sub(started))
		}

		err = r.mutate(ctx, func(inst *api.WorkflowInstance) error {
			prog := inst.Progress[phase.Name]
			if prog.Outputs == nil {
				prog.Outputs = api.Data{}
			}
			prog.Outputs[step.Name] = out
			prog.NextStep = idx + 1
			return nil
		})
		if err != nil {
			return r.phaseError(ctx, phase.Name, err, r.d.now().Sub(started))
		}
		r.d.record(ctx, api.WorkflowEvent{InstanceID: r.ref().ID, Type: api.EventStepCompleted, Phase: phase.Name, Step: step.Name})
	}

	took, err := r.commitPhase(ctx, phase.Name)
	if err != nil {
		return r.phaseError(ctx, phase.Name, err, r.d.now().Sub(started))
	}
	r.d.record(ctx, api.WorkflowEvent{InstanceID: r.ref().ID, Type: api.EventPhaseCompleted, Phase: phase.Name})
	r.d.observer.OnPhaseCompleted(ctx, r.ref(), phase.Name, nil, took)
	return nil
}

// beginPhase creates the phase cursor unless a previous run left one.
func (r *instanceRun) beginPhase(ctx context.Context, phase string) (fresh bool, err error) {
	err = r.mutate(ctx, func(inst *api.WorkflowInstance) error {
		if inst.Progress == nil {
			inst.Progress = make(map[string]*api.PhaseProgress)
		}
		if _, ok := inst.Progress[phase]; !ok {
			inst.Progress[phase] = &api.PhaseProgress{StartedAt: r.d.now()}
			fresh = true
		}
		if !contains(inst.ActivePhases, phase) {
			inst.ActivePhases = append(inst.ActivePhases, phase)
		}
		r.refreshCurrentLocked()
		return nil
	})
	return fresh, err
}

func (r *instanceRun) nextStep(phase string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prog := r.inst.Progress[phase]; prog != nil {
		return prog.NextStep
	}
	return 0
}

// phaseError wraps err for the controller. Errors caused by cancellation or
// shutdown are not reported as phase failures.
func (r *instanceRun) phaseError(ctx context.Context, phase string, err error, took time.Duration) error {
	if ctx.Err() != nil || errors.Is(err, errRunStopped) {
		return &api.PhaseFailure{Phase: phase, Err: err}
	}
	r.d.record(ctx, api.WorkflowEvent{InstanceID: r.ref().ID, Type: api.EventPhaseFailed, Phase: phase, Detail: err.Error()})
	r.d.observer.OnPhaseCompleted(ctx, r.ref(), phase, err, took)
	return &api.PhaseFailure{Phase: phase, Err: err}
}

func (r *instanceRun) runStep(ctx context.Context, phase api.PhaseDefinition, step api.StepDefinition) (api.Data, error) {
	switch step.Kind {
	case api.StepAutomated:
		return r.invoke(ctx, phase.Name, step, step.Activity, nil)
	case api.StepHumanGate:
		payload, err := r.awaitSignal(ctx, phase.Name, step)
		if err != nil {
			return nil, err
		}
		return r.invoke(ctx, phase.Name, step, step.Completion, &payload)
	default:
		return nil, fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// awaitSignal is the suspension point of a human gate. It consumes the
// buffered payload for the gate's signal, or parks until the router
// delivers one. A payload consumed by an earlier run is returned again so
// the completion activity can be re-run after a crash.
func (r *instanceRun) awaitSignal(ctx context.Context, phase string, step api.StepDefinition) (api.SignalPayload, error) {
	for {
		payload, ch, since, timedOut, err := r.tryConsume(ctx, phase, step.Signal)
		if err != nil {
			return api.SignalPayload{}, err
		}
		if ch == nil {
			return payload, nil
		}

		var timeout <-chan time.Time
		var timer *time.Timer
		if step.MaxWait > 0 && !timedOut {
			remaining := step.MaxWait - r.d.now().Sub(since)
			if remaining < 0 {
				remaining = 0
			}
			timer = time.NewTimer(remaining)
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			r.dropWaiter(step.Signal, ch)
			return api.SignalPayload{}, ctx.Err()
		case <-ch:
			stopTimer(timer)
		case <-timeout:
			r.dropWaiter(step.Signal, ch)
			if err := r.markTimedOut(ctx, phase, step.Signal); err != nil {
				return api.SignalPayload{}, err
			}
			if step.OnTimeout == api.TimeoutFail {
				return api.SignalPayload{}, &api.SignalTimeoutError{Phase: phase, Signal: step.Signal, Waited: step.MaxWait}
			}
		}
	}
}

// tryConsume moves a pending payload into the phase cursor in one persisted
// write. Without a pending payload it registers a waiter channel instead.
func (r *instanceRun) tryConsume(ctx context.Context, phase, signal string) (payload api.SignalPayload, ch chan struct{}, since time.Time, timedOut bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || r.inst.Status.Terminal() {
		return payload, nil, since, false, errRunStopped
	}

	prog := r.inst.Progress[phase]
	if prog == nil {
		return payload, nil, since, false, fmt.Errorf("phase %s has not started", phase)
	}
	if p, ok := prog.Consumed[signal]; ok {
		return p.Clone(), nil, since, false, nil
	}

	if sig, ok := r.inst.Pending[signal]; ok {
		delete(r.inst.Pending, signal)
		if prog.Consumed == nil {
			prog.Consumed = make(map[string]api.SignalPayload)
		}
		prog.Consumed[signal] = sig.Payload
		if err := r.persistLocked(ctx); err != nil {
			return payload, nil, since, false, err
		}
		r.d.record(ctx, api.WorkflowEvent{InstanceID: r.inst.ID, Type: api.EventSignalConsumed, Phase: phase, Detail: signal})
		return sig.Payload.Clone(), nil, since, false, nil
	}

	since, ok := prog.WaitingSince[signal]
	if !ok {
		since = r.d.now()
		if prog.WaitingSince == nil {
			prog.WaitingSince = make(map[string]time.Time)
		}
		prog.WaitingSince[signal] = since
		if err := r.persistLocked(ctx); err != nil {
			return payload, nil, since, false, err
		}
	}

	ch = make(chan struct{})
	r.waiters[signal] = ch
	return payload, ch, since, prog.IsTimedOut(signal), nil
}

func (r *instanceRun) dropWaiter(signal string, ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waiters[signal] == ch {
		delete(r.waiters, signal)
	}
}

// wakeLocked resumes the gate parked on signal, if any. r.mu must be held.
func (r *instanceRun) wakeLocked(signal string) {
	if ch, ok := r.waiters[signal]; ok {
		close(ch)
		delete(r.waiters, signal)
	}
}

func (r *instanceRun) markTimedOut(ctx context.Context, phase, signal string) error {
	err := r.mutate(ctx, func(inst *api.WorkflowInstance) error {
		prog := inst.Progress[phase]
		if !prog.IsTimedOut(signal) {
			prog.TimedOut = append(prog.TimedOut, signal)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.d.record(ctx, api.WorkflowEvent{InstanceID: r.ref().ID, Type: api.EventSignalTimedOut, Phase: phase, Detail: signal})
	r.d.observer.OnSignal(ctx, r.ref(), phase, signal, true)
	return nil
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
