package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatus_Terminal(t *testing.T) {
	require.False(t, StatusInProgress.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
}

func TestInstanceKeyAndID(t *testing.T) {
	key := InstanceKey(9, 156)
	require.Equal(t, "9-156", key)
	require.Equal(t, "9-156", InstanceID(key, 1))
	require.Equal(t, "9-156", InstanceID(key, 0))
	require.Equal(t, "9-156-2", InstanceID(key, 2))
}

func TestPhaseResults_JSONPreservesCompletionOrder(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	results := PhaseResults{
		{Phase: "Scoping", Status: PhaseCompleted, CompletedAt: at, Result: Data{"n": 1.0}},
		{Phase: "Data Owner Identification", Status: PhaseCompleted, CompletedAt: at},
		{Phase: "Sample Selection", Status: PhaseCompleted, CompletedAt: at},
	}

	raw, err := json.Marshal(results)
	require.NoError(t, err)
	require.Regexp(t, `^\{"Scoping":.*"Data Owner Identification":.*"Sample Selection":`, string(raw))

	var decoded PhaseResults
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, []string{"Scoping", "Data Owner Identification", "Sample Selection"}, decoded.Names())
	require.Equal(t, results, decoded)
}

func TestPhaseResults_UnmarshalRejectsArrays(t *testing.T) {
	var decoded PhaseResults
	require.Error(t, json.Unmarshal([]byte(`[1,2]`), &decoded))
	require.NoError(t, json.Unmarshal([]byte(`null`), &decoded))
	require.Nil(t, decoded)
}

func TestPhaseResults_Lookup(t *testing.T) {
	results := PhaseResults{{Phase: "Planning"}, {Phase: "Scoping"}}
	require.True(t, results.Has("Planning"))
	require.False(t, results.Has("Testing"))

	m := results.Map()
	require.Len(t, m, 2)
	require.Equal(t, "Scoping", m["Scoping"].Phase)
}

func TestWorkflowInstance_CloneIsDeep(t *testing.T) {
	closed := time.Now()
	inst := &WorkflowInstance{
		ID:           "9-156",
		SkipPhases:   []string{"Data Profiling"},
		PhaseResults: PhaseResults{{Phase: "Planning", Result: Data{"a": 1}}},
		Progress: map[string]*PhaseProgress{
			"Scoping": {NextStep: 1, Outputs: Data{"x": 1}, Consumed: map[string]SignalPayload{"s": {UserID: 1}}},
		},
		Pending:   map[string]Signal{"sig": {Name: "sig", Payload: SignalPayload{Data: Data{"k": "v"}}}},
		CloseTime: &closed,
	}

	cp := inst.Clone()
	require.Equal(t, inst, cp)

	cp.SkipPhases[0] = "other"
	cp.PhaseResults[0].Result["a"] = 2
	cp.Progress["Scoping"].Outputs["x"] = 2
	cp.Progress["Scoping"].NextStep = 5
	cp.Pending["sig"].Payload.Data["k"] = "changed"
	*cp.CloseTime = closed.Add(time.Hour)

	require.Equal(t, "Data Profiling", inst.SkipPhases[0])
	require.Equal(t, 1, inst.PhaseResults[0].Result["a"])
	require.Equal(t, 1, inst.Progress["Scoping"].Outputs["x"])
	require.Equal(t, 1, inst.Progress["Scoping"].NextStep)
	require.Equal(t, "v", inst.Pending["sig"].Payload.Data["k"])
	require.Equal(t, closed, *inst.CloseTime)
}

func TestWorkflowInstance_IsSkipped(t *testing.T) {
	inst := &WorkflowInstance{SkipPhases: []string{"Data Profiling"}}
	require.True(t, inst.IsSkipped("Data Profiling"))
	require.False(t, inst.IsSkipped("Planning"))
}
