package engine

import (
	"context"
	"sort"

	"github.com/petrijr/reportflow/pkg/api"
)

// GetCurrentStatus returns a snapshot of the instance. It never mutates
// state, so repeated calls without intervening signals return equal values.
func (d *Dispatcher) GetCurrentStatus(ctx context.Context, instanceID string) (*api.StatusSnapshot, error) {
	inst, err := d.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return snapshot(d.def, inst), nil
}

// GetAwaitingAction returns the pending human action of the current phase,
// or "" when nothing is awaited.
func (d *Dispatcher) GetAwaitingAction(ctx context.Context, instanceID string) (string, error) {
	inst, err := d.load(ctx, instanceID)
	if err != nil {
		return "", err
	}
	return snapshot(d.def, inst).AwaitingAction, nil
}

func snapshot(def api.PipelineDefinition, inst *api.WorkflowInstance) *api.StatusSnapshot {
	s := &api.StatusSnapshot{
		InstanceID:   inst.ID,
		CurrentPhase: inst.CurrentPhase,
		PhaseResults: inst.PhaseResults.Clone(),
		Status:       inst.Status,
		FailedPhase:  inst.FailedPhase,
		Error:        inst.Error,
	}
	if s.PhaseResults == nil {
		s.PhaseResults = api.PhaseResults{}
	}

	if !inst.Status.Terminal() {
		s.AwaitingAction = awaitingAction(def, inst, inst.CurrentPhase)
		if len(inst.ActivePhases) > 0 {
			s.ActivePhases = append([]string(nil), inst.ActivePhases...)
			for _, p := range inst.ActivePhases {
				if a := awaitingAction(def, inst, p); a != "" {
					if s.AwaitingActions == nil {
						s.AwaitingActions = make(map[string]string)
					}
					s.AwaitingActions[p] = a
				}
			}
		}
	}

	for name := range inst.Pending {
		s.PendingSignals = append(s.PendingSignals, name)
	}
	sort.Strings(s.PendingSignals)
	return s
}

// awaitingAction is the action label of the first gate in phase that has
// not consumed its signal. A gate past its max wait reports
// "<action>_overdue".
func awaitingAction(def api.PipelineDefinition, inst *api.WorkflowInstance, phase string) string {
	p, ok := def.Phase(phase)
	if !ok || inst.PhaseResults.Has(phase) {
		return ""
	}
	prog := inst.Progress[phase]
	for _, g := range p.Gates() {
		if prog != nil {
			if _, consumed := prog.Consumed[g.Signal]; consumed {
				continue
			}
		}
		action := g.Action
		if action == "" {
			action = g.Signal
		}
		if prog != nil && prog.IsTimedOut(g.Signal) {
			action += "_overdue"
		}
		return action
	}
	return ""
}
