package api

import (
	"errors"
	"fmt"
	"time"
)

// StepKind distinguishes automated steps from human gates.
type StepKind string

const (
	StepAutomated StepKind = "automated"
	StepHumanGate StepKind = "human_gate"
)

// TimeoutAction decides what a gate does once its max wait elapses.
type TimeoutAction string

const (
	// TimeoutKeepWaiting records the timeout and keeps the gate suspended
	// until the signal arrives or an operator cancels the instance.
	TimeoutKeepWaiting TimeoutAction = "keep_waiting"

	// TimeoutFail fails the phase with a *SignalTimeoutError.
	TimeoutFail TimeoutAction = "fail"
)

// StepDefinition is one step of a phase.
//
// Automated steps call Activity with Args. Human gates suspend until Signal
// is delivered, then call Completion with the consumed payload. Action is
// the awaiting-action label reported while the gate is unconsumed.
type StepDefinition struct {
	Name string
	Kind StepKind

	Activity string
	Args     Data

	Signal     string
	Action     string
	MaxWait    time.Duration
	OnTimeout  TimeoutAction
	Completion string
}

// ActivityName returns the activity executed by the step.
func (s StepDefinition) ActivityName() string {
	if s.Kind == StepHumanGate {
		return s.Completion
	}
	return s.Activity
}

// PhaseDefinition is a named, ordered list of steps. Parallel phases form
// the pipeline's single fork/join group.
type PhaseDefinition struct {
	Name     string
	Steps    []StepDefinition
	Parallel bool
}

// Gates returns the human gates of the phase in declared order.
func (p PhaseDefinition) Gates() []StepDefinition {
	var out []StepDefinition
	for _, s := range p.Steps {
		if s.Kind == StepHumanGate {
			out = append(out, s)
		}
	}
	return out
}

// PipelineDefinition is the immutable phase graph of one pipeline version.
type PipelineDefinition struct {
	Name     string
	Version  string
	Phases   []PhaseDefinition
	Policies PolicyTable

	// Schemas validates signal payloads keyed by signal name. Gates without
	// a schema only get the common payload checks.
	Schemas map[string]SignalSchema
}

// Phase returns the phase definition with the given name.
func (d PipelineDefinition) Phase(name string) (PhaseDefinition, bool) {
	for _, p := range d.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseDefinition{}, false
}

// GateFor returns the phase and gate step that consume signal.
func (d PipelineDefinition) GateFor(signal string) (PhaseDefinition, StepDefinition, bool) {
	for _, p := range d.Phases {
		for _, s := range p.Steps {
			if s.Kind == StepHumanGate && s.Signal == signal {
				return p, s, true
			}
		}
	}
	return PhaseDefinition{}, StepDefinition{}, false
}

// Stages groups the phases in execution order. Every stage holds one phase,
// except the fork/join stage which holds both parallel phases.
func (d PipelineDefinition) Stages() [][]PhaseDefinition {
	var out [][]PhaseDefinition
	for i := 0; i < len(d.Phases); i++ {
		p := d.Phases[i]
		if p.Parallel && i+1 < len(d.Phases) && d.Phases[i+1].Parallel {
			out = append(out, []PhaseDefinition{p, d.Phases[i+1]})
			i++
			continue
		}
		out = append(out, []PhaseDefinition{p})
	}
	return out
}

// Activities returns every activity name referenced by the pipeline.
func (d PipelineDefinition) Activities() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range d.Phases {
		for _, s := range p.Steps {
			name := s.ActivityName()
			if name != "" && !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// Validate checks the structural invariants of the pipeline.
func (d PipelineDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("pipeline name is required")
	}
	if len(d.Phases) == 0 {
		return errors.New("pipeline must have at least one phase")
	}

	phases := make(map[string]bool)
	signals := make(map[string]bool)
	parallel := -1
	parallelCount := 0

	for i, p := range d.Phases {
		if p.Name == "" {
			return fmt.Errorf("phase %d has no name", i)
		}
		if phases[p.Name] {
			return fmt.Errorf("duplicate phase %q", p.Name)
		}
		phases[p.Name] = true
		if len(p.Steps) == 0 {
			return fmt.Errorf("phase %q has no steps", p.Name)
		}
		if p.Parallel {
			parallelCount++
			if parallel < 0 {
				parallel = i
			}
		}

		steps := make(map[string]bool)
		for _, s := range p.Steps {
			if s.Name == "" {
				return fmt.Errorf("phase %q has a step without a name", p.Name)
			}
			if steps[s.Name] {
				return fmt.Errorf("phase %q: duplicate step %q", p.Name, s.Name)
			}
			steps[s.Name] = true

			switch s.Kind {
			case StepAutomated:
				if s.Activity == "" {
					return fmt.Errorf("phase %q step %q: activity is required", p.Name, s.Name)
				}
			case StepHumanGate:
				if s.Signal == "" || s.Completion == "" {
					return fmt.Errorf("phase %q step %q: gate needs a signal and a completion activity", p.Name, s.Name)
				}
				if signals[s.Signal] {
					return fmt.Errorf("signal %q is consumed by more than one gate", s.Signal)
				}
				signals[s.Signal] = true
				if s.OnTimeout != "" && s.OnTimeout != TimeoutKeepWaiting && s.OnTimeout != TimeoutFail {
					return fmt.Errorf("phase %q step %q: unknown timeout action %q", p.Name, s.Name, s.OnTimeout)
				}
			default:
				return fmt.Errorf("phase %q step %q: unknown step kind %q", p.Name, s.Name, s.Kind)
			}
		}
	}

	switch parallelCount {
	case 0:
	case 2:
		if parallel == 0 {
			return errors.New("parallel phases need a common predecessor phase")
		}
		if !d.Phases[parallel+1].Parallel {
			return errors.New("parallel phases must be adjacent")
		}
	default:
		return fmt.Errorf("pipeline must have zero or two parallel phases, got %d", parallelCount)
	}

	for name := range d.Schemas {
		if !signals[name] {
			return fmt.Errorf("schema for signal %q has no gate", name)
		}
	}
	return nil
}
