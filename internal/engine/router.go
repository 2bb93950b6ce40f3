package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/reportflow/pkg/api"
)

// Signal validates payload against the schema registered for name and
// buffers it on the instance. An unconsumed payload with the same name is
// replaced. The gate parked on name, if any, is resumed.
func (d *Dispatcher) Signal(ctx context.Context, instanceID, name string, payload api.SignalPayload) error {
	phase, _, ok := d.def.GateFor(name)
	if !ok {
		return &api.ValidationError{Field: "signal", Reason: "unknown signal " + quote(name)}
	}
	if err := api.ValidatePayload(&payload, d.now()); err != nil {
		return err
	}
	if schema, ok := d.def.Schemas[name]; ok {
		if err := schema.Check(name, payload); err != nil {
			return err
		}
	}

	sig := api.Signal{
		Name:       name,
		InstanceID: instanceID,
		Payload:    payload.Clone(),
		ReceivedAt: d.now(),
	}

	ref, err := d.deliver(ctx, phase.Name, sig)
	if err != nil {
		return err
	}

	d.record(ctx, api.WorkflowEvent{InstanceID: instanceID, Type: api.EventSignalReceived, Phase: phase.Name, Detail: name})
	d.observer.OnSignal(ctx, ref, phase.Name, name, false)
	d.logger.DebugContext(ctx, "signal buffered",
		slog.String("instance_id", instanceID),
		slog.String("signal", name),
		slog.String("input_type", payload.InputType),
	)
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, phase string, sig api.Signal) (api.InstanceRef, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return api.InstanceRef{}, api.ErrDispatcherClosed
	}
	run := d.live[sig.InstanceID]
	if run != nil {
		d.mu.Unlock()
		if ref, handled, err := run.buffer(ctx, phase, sig); handled {
			return ref, err
		}
		d.mu.Lock()
	}
	defer d.mu.Unlock()

	// Not running here: the instance is terminal, awaits recovery or is
	// owned by another dispatcher. The dispatcher lock keeps a local launch
	// from reading a stale record; the lease keeps a remote owner from
	// overwriting the buffered signal.
	var ref api.InstanceRef
	err := d.withLease(ctx, sig.InstanceID, func() error {
		inst, err := d.instances.GetInstance(ctx, sig.InstanceID)
		if err != nil {
			return err
		}
		if err := acceptSignal(inst, phase, sig); err != nil {
			return err
		}
		if err := d.instances.UpdateInstance(ctx, inst); err != nil {
			return fmt.Errorf("update instance %s: %w", inst.ID, err)
		}
		ref = inst.Ref()
		return nil
	})
	return ref, err
}

// buffer stores sig on a live run and wakes its waiter. handled is false
// when the run stopped before the signal could be applied.
func (r *instanceRun) buffer(ctx context.Context, phase string, sig api.Signal) (ref api.InstanceRef, handled bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ref, false, nil
	}
	if err := acceptSignal(r.inst, phase, sig); err != nil {
		return ref, true, err
	}

	// A gate parked on this signal consumes it right away, so the next
	// query already reflects the advanced gate.
	_, parked := r.waiters[sig.Name]
	if parked {
		prog := r.inst.Progress[phase]
		delete(r.inst.Pending, sig.Name)
		if prog.Consumed == nil {
			prog.Consumed = make(map[string]api.SignalPayload)
		}
		prog.Consumed[sig.Name] = sig.Payload
	}

	if err := r.persistLocked(ctx); err != nil {
		return ref, true, err
	}
	if parked {
		r.d.record(ctx, api.WorkflowEvent{InstanceID: r.inst.ID, Type: api.EventSignalConsumed, Phase: phase, Detail: sig.Name})
	}
	r.wakeLocked(sig.Name)
	return r.inst.Ref(), true, nil
}

// acceptSignal applies the per-instance checks and buffers sig.
func acceptSignal(inst *api.WorkflowInstance, phase string, sig api.Signal) error {
	if inst.Status.Terminal() {
		return fmt.Errorf("signal %s: %w", sig.Name, api.ErrInstanceTerminal)
	}
	if inst.IsSkipped(phase) {
		return &api.ValidationError{Field: "signal", Reason: sig.Name + " belongs to skipped phase " + quote(phase)}
	}
	if inst.PhaseResults.Has(phase) {
		return fmt.Errorf("signal %s: %w", sig.Name, api.ErrSignalAlreadyConsumed)
	}
	if prog := inst.Progress[phase]; prog != nil {
		if _, ok := prog.Consumed[sig.Name]; ok {
			return fmt.Errorf("signal %s: %w", sig.Name, api.ErrSignalAlreadyConsumed)
		}
	}
	if inst.Pending == nil {
		inst.Pending = make(map[string]api.Signal)
	}
	inst.Pending[sig.Name] = sig
	return nil
}
