package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/reportflow/pkg/api"
)

// instanceRun is the single logical thread of control of one instance.
// It exclusively owns inst; every mutation happens under mu and is persisted
// before mu is released, so the store always reflects the latest state.
type instanceRun struct {
	d *Dispatcher

	mu      sync.Mutex
	inst    *api.WorkflowInstance
	waiters map[string]chan struct{}
	stopped bool

	cancel context.CancelCauseFunc
	done   chan struct{}
}

// errRunStopped is returned by mutate once the instance is terminal or the
// run has stopped. Callers unwind without recording anything further.
var errRunStopped = errors.New("instance run stopped")

// execute drives the pipeline in order: one phase per stage, or both
// branches of the fork/join stage concurrently.
func (r *instanceRun) execute(ctx context.Context) {
	defer close(r.done)
	defer r.d.releaseLease(r.inst.ID)
	defer r.d.release(r)
	defer r.stop()

	for _, stage := range r.d.def.Stages() {
		phases := r.pendingPhases(stage)
		if len(phases) == 0 {
			continue
		}

		var err error
		if len(phases) == 1 {
			err = r.runPhase(ctx, phases[0])
		} else {
			err = r.runParallel(ctx, phases)
		}
		if err != nil {
			r.fail(ctx, err)
			return
		}
	}
	r.complete(ctx)
}

// pendingPhases drops skipped phases and phases committed by an earlier run.
func (r *instanceRun) pendingPhases(stage []api.PhaseDefinition) []api.PhaseDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []api.PhaseDefinition
	for _, p := range stage {
		if r.inst.IsSkipped(p.Name) || r.inst.PhaseResults.Has(p.Name) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// keepLease renews the instance lease until the run ends. A failed renewal
// stops the run without touching the stored instance.
func (r *instanceRun) keepLease(ctx context.Context) {
	id := r.inst.ID
	ticker := time.NewTicker(r.d.leaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := r.d.instances.RenewLease(context.WithoutCancel(ctx), id, r.d.owner, r.d.leaseTTL)
		if err == nil {
			continue
		}
		r.d.logger.WarnContext(ctx, "instance lease lost",
			slog.String("instance_id", id),
			slog.Any("error", err),
		)
		r.stop()
		r.cancel(errLeaseLost)
		return
	}
}

func (r *instanceRun) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

// view returns a copy of the current state.
func (r *instanceRun) view() *api.WorkflowInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inst.Clone()
}

func (r *instanceRun) ref() api.InstanceRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inst.Ref()
}

// mutate applies fn to the instance and persists the result. It refuses to
// touch an instance that is already terminal.
func (r *instanceRun) mutate(ctx context.Context, fn func(inst *api.WorkflowInstance) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || r.inst.Status.Terminal() {
		return errRunStopped
	}
	if err := fn(r.inst); err != nil {
		return err
	}
	return r.persistLocked(ctx)
}

// terminalWriteAttempts bounds persistTerminalLocked.
const terminalWriteAttempts = 3

// persistTerminalLocked writes the terminal state, retrying transient store
// failures. The run's cancellation does not abort it.
func (r *instanceRun) persistTerminalLocked(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= terminalWriteAttempts; attempt++ {
		if err = r.persistLocked(ctx); err == nil {
			return nil
		}
		if attempt < terminalWriteAttempts {
			time.Sleep(time.Duration(attempt) * 20 * time.Millisecond)
		}
	}
	return err
}

func (r *instanceRun) persistLocked(ctx context.Context) error {
	if err := r.d.instances.UpdateInstance(context.WithoutCancel(ctx), r.inst); err != nil {
		r.d.logger.ErrorContext(ctx, "persist instance failed",
			slog.String("instance_id", r.inst.ID),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

// activate marks phases as executing and refreshes the current phase.
func (r *instanceRun) activate(ctx context.Context, phases ...string) error {
	return r.mutate(ctx, func(inst *api.WorkflowInstance) error {
		for _, name := range phases {
			if !contains(inst.ActivePhases, name) {
				inst.ActivePhases = append(inst.ActivePhases, name)
			}
		}
		r.refreshCurrentLocked()
		return nil
	})
}

// refreshCurrentLocked sets CurrentPhase to the first active phase in
// pipeline order. With nothing active it keeps the last value.
func (r *instanceRun) refreshCurrentLocked() {
	for _, p := range r.d.def.Phases {
		if contains(r.inst.ActivePhases, p.Name) {
			r.inst.CurrentPhase = p.Name
			return
		}
	}
}

// commitPhase appends the phase result and retires the phase's cursor in
// one persisted write.
func (r *instanceRun) commitPhase(ctx context.Context, phase string) (time.Duration, error) {
	var took time.Duration
	err := r.mutate(ctx, func(inst *api.WorkflowInstance) error {
		prog := inst.Progress[phase]
		now := r.d.now()
		res := api.PhaseResult{Phase: phase, Status: api.PhaseCompleted, CompletedAt: now}
		if prog != nil {
			res.Result = prog.Outputs.Clone()
			took = now.Sub(prog.StartedAt)
		}
		if !inst.PhaseResults.Has(phase) {
			inst.PhaseResults = append(inst.PhaseResults, res)
		}
		delete(inst.Progress, phase)
		inst.ActivePhases = remove(inst.ActivePhases, phase)
		r.refreshCurrentLocked()
		return nil
	})
	return took, err
}

func (r *instanceRun) complete(ctx context.Context) {
	r.mu.Lock()
	if r.stopped || r.inst.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	now := r.d.now()
	r.inst.Status = api.StatusCompleted
	r.inst.ActivePhases = nil
	r.inst.CloseTime = &now
	if err := r.persistTerminalLocked(ctx); err != nil {
		r.d.logger.ErrorContext(ctx, "terminal state not stored",
			slog.String("instance_id", r.inst.ID),
			slog.String("status", string(r.inst.Status)),
			slog.Any("error", err),
		)
	}
	ref := r.inst.Ref()
	r.mu.Unlock()

	r.d.record(ctx, api.WorkflowEvent{InstanceID: ref.ID, Type: api.EventInstanceCompleted})
	r.d.observer.OnInstanceCompleted(ctx, ref)
}

// fail records err as the terminal outcome. A run stopped by Close or by a
// lost lease is left in progress; an instance already cancelled keeps its
// cancellation.
func (r *instanceRun) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); errors.Is(cause, errShutdown) || errors.Is(cause, errLeaseLost) {
			r.d.logger.InfoContext(ctx, "instance suspended",
				slog.String("instance_id", r.ref().ID),
				slog.String("cause", cause.Error()),
			)
			return
		}
	}

	r.mu.Lock()
	if r.stopped || r.inst.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	phase := r.inst.CurrentPhase
	var pf *api.PhaseFailure
	if errors.As(err, &pf) {
		phase = pf.Phase
	}
	now := r.d.now()
	r.inst.Status = api.StatusFailed
	r.inst.FailedPhase = phase
	r.inst.Error = err.Error()
	r.inst.ActivePhases = nil
	r.inst.CloseTime = &now
	if perr := r.persistTerminalLocked(ctx); perr != nil {
		r.d.logger.ErrorContext(ctx, "terminal state not stored",
			slog.String("instance_id", r.inst.ID),
			slog.String("status", string(r.inst.Status)),
			slog.Any("error", perr),
		)
	}
	ref := r.inst.Ref()
	r.mu.Unlock()

	r.d.record(ctx, api.WorkflowEvent{InstanceID: ref.ID, Type: api.EventInstanceFailed, Phase: phase, Detail: err.Error()})
	r.d.observer.OnInstanceFailed(ctx, ref, phase, err)
}

// cancelWith fails the instance with reason and aborts the run. handled is
// false when the run had already stopped and the caller must fall back to
// the store.
func (r *instanceRun) cancelWith(ctx context.Context, reason string) (handled bool, err error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false, nil
	}
	if r.inst.Status.Terminal() {
		r.mu.Unlock()
		return true, api.ErrInstanceTerminal
	}
	markCancelled(r.inst, reason, r.d.now())
	perr := r.persistLocked(ctx)
	ref := r.inst.Ref()
	phase := r.inst.FailedPhase
	msg := r.inst.Error
	r.mu.Unlock()

	r.cancel(errCancelled)
	if perr != nil {
		return true, perr
	}

	r.d.record(ctx, api.WorkflowEvent{InstanceID: ref.ID, Type: api.EventInstanceCancelled, Phase: phase, Detail: reason})
	r.d.observer.OnInstanceFailed(ctx, ref, phase, errors.New(msg))
	return true, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
