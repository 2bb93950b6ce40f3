package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Data is a structured payload: activity arguments and results, signal data
// and phase result payloads all use it.
type Data map[string]any

// Clone returns a shallow copy of d. Values are treated as immutable once
// recorded, so copying the top-level map is enough to isolate readers.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// PhaseStatus is the outcome recorded for a committed phase.
type PhaseStatus string

const (
	PhaseCompleted PhaseStatus = "completed"
)

// PhaseResult is the append-only record of one completed phase.
type PhaseResult struct {
	Phase       string      `json:"phase" msgpack:"phase"`
	Status      PhaseStatus `json:"status" msgpack:"status"`
	CompletedAt time.Time   `json:"completed_at" msgpack:"completed_at"`
	Result      Data        `json:"result,omitempty" msgpack:"result,omitempty"`
}

// PhaseResults is an insertion-ordered map of phase name to PhaseResult.
// Insertion order is completion order; keys are unique.
type PhaseResults []PhaseResult

// Get returns the result recorded for phase.
func (p PhaseResults) Get(phase string) (PhaseResult, bool) {
	for _, r := range p {
		if r.Phase == phase {
			return r, true
		}
	}
	return PhaseResult{}, false
}

// Has reports whether phase has a recorded result.
func (p PhaseResults) Has(phase string) bool {
	_, ok := p.Get(phase)
	return ok
}

// Names returns the phase names in completion order.
func (p PhaseResults) Names() []string {
	out := make([]string, len(p))
	for i, r := range p {
		out[i] = r.Phase
	}
	return out
}

// Map returns the results keyed by phase name.
func (p PhaseResults) Map() map[string]PhaseResult {
	out := make(map[string]PhaseResult, len(p))
	for _, r := range p {
		out[r.Phase] = r
	}
	return out
}

// Clone copies the slice and each result payload.
func (p PhaseResults) Clone() PhaseResults {
	if p == nil {
		return nil
	}
	out := make(PhaseResults, len(p))
	for i, r := range p {
		r.Result = r.Result.Clone()
		out[i] = r
	}
	return out
}

// MarshalJSON encodes the results as a JSON object keyed by phase name,
// preserving completion order.
func (p PhaseResults) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(r.Phase)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object produced by MarshalJSON, keeping key order.
func (p *PhaseResults) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("phase results: expected object, got %v", tok)
	}
	out := PhaseResults{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("phase results: expected string key, got %v", keyTok)
		}
		var r PhaseResult
		if err := dec.Decode(&r); err != nil {
			return err
		}
		if r.Phase == "" {
			r.Phase = key
		}
		out = append(out, r)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

// PhaseProgress is the durable cursor of a phase that has started but not
// yet been committed to PhaseResults.
type PhaseProgress struct {
	StartedAt time.Time `json:"started_at" msgpack:"started_at"`

	// NextStep is the index of the first step that has not completed.
	NextStep int `json:"next_step" msgpack:"next_step"`

	// Outputs holds each completed step's result keyed by step name.
	Outputs Data `json:"outputs,omitempty" msgpack:"outputs,omitempty"`

	// Consumed holds payloads taken from the pending buffer by a gate, keyed
	// by signal name. A consumed gate no longer contributes to the awaiting
	// action even if its completion activity has not finished yet.
	Consumed map[string]SignalPayload `json:"consumed,omitempty" msgpack:"consumed,omitempty"`

	// WaitingSince records when each gate first suspended, keyed by signal name.
	WaitingSince map[string]time.Time `json:"waiting_since,omitempty" msgpack:"waiting_since,omitempty"`

	// TimedOut lists gates whose max wait elapsed before a signal arrived.
	TimedOut []string `json:"timed_out,omitempty" msgpack:"timed_out,omitempty"`
}

// IsTimedOut reports whether the gate for signal has exceeded its max wait.
func (p *PhaseProgress) IsTimedOut(signal string) bool {
	for _, s := range p.TimedOut {
		if s == signal {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of p.
func (p *PhaseProgress) Clone() *PhaseProgress {
	if p == nil {
		return nil
	}
	out := &PhaseProgress{
		StartedAt: p.StartedAt,
		NextStep:  p.NextStep,
		Outputs:   p.Outputs.Clone(),
	}
	if p.Consumed != nil {
		out.Consumed = make(map[string]SignalPayload, len(p.Consumed))
		for k, v := range p.Consumed {
			out.Consumed[k] = v.Clone()
		}
	}
	if p.WaitingSince != nil {
		out.WaitingSince = make(map[string]time.Time, len(p.WaitingSince))
		for k, v := range p.WaitingSince {
			out.WaitingSince[k] = v
		}
	}
	if p.TimedOut != nil {
		out.TimedOut = append([]string(nil), p.TimedOut...)
	}
	return out
}

// WorkflowInstance is the durable record of one report's pipeline execution.
// It is owned by its controller; everything else reads clones.
type WorkflowInstance struct {
	ID         string `json:"id" msgpack:"id"`
	Key        string `json:"key" msgpack:"key"`
	Generation int    `json:"generation" msgpack:"generation"`

	// RunID identifies the current execution of the instance. A new RunID
	// is assigned every time the instance is launched or recovered.
	RunID string `json:"run_id" msgpack:"run_id"`

	Pipeline        string `json:"pipeline" msgpack:"pipeline"`
	PipelineVersion string `json:"pipeline_version" msgpack:"pipeline_version"`

	CycleID    int64    `json:"cycle_id" msgpack:"cycle_id"`
	ReportID   int64    `json:"report_id" msgpack:"report_id"`
	UserID     int64    `json:"user_id" msgpack:"user_id"`
	SkipPhases []string `json:"skip_phases,omitempty" msgpack:"skip_phases,omitempty"`

	Status       Status   `json:"status" msgpack:"status"`
	CurrentPhase string   `json:"current_phase" msgpack:"current_phase"`
	ActivePhases []string `json:"active_phases,omitempty" msgpack:"active_phases,omitempty"`

	PhaseResults PhaseResults              `json:"phase_results" msgpack:"phase_results"`
	Progress     map[string]*PhaseProgress `json:"progress,omitempty" msgpack:"progress,omitempty"`
	Pending      map[string]Signal         `json:"pending,omitempty" msgpack:"pending,omitempty"`

	FailedPhase string `json:"failed_phase,omitempty" msgpack:"failed_phase,omitempty"`
	Error       string `json:"error,omitempty" msgpack:"error,omitempty"`

	StartTime time.Time  `json:"start_time" msgpack:"start_time"`
	CloseTime *time.Time `json:"close_time,omitempty" msgpack:"close_time,omitempty"`
}

// IsSkipped reports whether phase was excluded when the instance started.
func (w *WorkflowInstance) IsSkipped(phase string) bool {
	for _, s := range w.SkipPhases {
		if s == phase {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of w.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	if w == nil {
		return nil
	}
	out := *w
	out.SkipPhases = append([]string(nil), w.SkipPhases...)
	out.ActivePhases = append([]string(nil), w.ActivePhases...)
	out.PhaseResults = w.PhaseResults.Clone()
	if w.Progress != nil {
		out.Progress = make(map[string]*PhaseProgress, len(w.Progress))
		for k, v := range w.Progress {
			out.Progress[k] = v.Clone()
		}
	}
	if w.Pending != nil {
		out.Pending = make(map[string]Signal, len(w.Pending))
		for k, v := range w.Pending {
			v.Payload = v.Payload.Clone()
			out.Pending[k] = v
		}
	}
	if w.CloseTime != nil {
		t := *w.CloseTime
		out.CloseTime = &t
	}
	return &out
}

// InstanceKey derives the deterministic dispatch key for a report in a cycle.
func InstanceKey(cycleID, reportID int64) string {
	return fmt.Sprintf("%d-%d", cycleID, reportID)
}

// InstanceID returns the instance id for the given generation of key.
// The first generation uses the bare key.
func InstanceID(key string, generation int) string {
	if generation <= 1 {
		return key
	}
	return fmt.Sprintf("%s-%d", key, generation)
}

// InstanceRef is the small, immutable identity handed to observers.
type InstanceRef struct {
	ID       string
	Key      string
	RunID    string
	Pipeline string
}

// Ref returns the observer-facing identity of w.
func (w *WorkflowInstance) Ref() InstanceRef {
	return InstanceRef{ID: w.ID, Key: w.Key, RunID: w.RunID, Pipeline: w.Pipeline}
}
