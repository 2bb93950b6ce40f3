package reporttesting

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/reportflow/pkg/api"
)

func TestPipeline_Structure(t *testing.T) {
	def := Pipeline()
	require.NoError(t, def.Validate())
	require.Equal(t, PipelineName, def.Name)

	names := make([]string, len(def.Phases))
	for i, p := range def.Phases {
		names[i] = p.Name
	}
	require.Equal(t, Phases, names)

	stages := def.Stages()
	require.Len(t, stages, 8)
	require.Len(t, stages[3], 2)
	require.Equal(t, PhaseSampleSelection, stages[3][0].Name)
	require.Equal(t, PhaseDataOwnerIdentification, stages[3][1].Name)
}

func TestPipeline_PlanningGateOrder(t *testing.T) {
	planning, ok := Pipeline().Phase(PhasePlanning)
	require.True(t, ok)

	gates := planning.Gates()
	require.Len(t, gates, 2)
	require.Equal(t, SignalPlanningDocuments, gates[0].Signal)
	require.Equal(t, "upload_planning_documents", gates[0].Action)
	require.Equal(t, SignalPlanningAttributes, gates[1].Signal)
	require.Equal(t, "create_planning_attributes", gates[1].Action)
	for _, g := range gates {
		require.Positive(t, g.MaxWait)
		require.Equal(t, api.TimeoutKeepWaiting, g.OnTimeout)
	}
}

func TestPipeline_Policies(t *testing.T) {
	def := Pipeline()
	require.Equal(t, 5, def.Policies.For(ActivityExecuteTestCases).MaxAttempts)
	require.Equal(t, HeavyPolicy, def.Policies.For(ActivityGenerateTestReport))
	require.Equal(t, DefaultPolicy, def.Policies.For("start_planning_phase"))
	require.Equal(t, 3, DefaultPolicy.MaxAttempts)
}

func TestStubActivities_CoverPipeline(t *testing.T) {
	reg := StubActivities(nil)
	for _, name := range Pipeline().Activities() {
		require.True(t, reg.Has(name), name)
	}
}

func TestSchemas_AcceptExamplePayloads(t *testing.T) {
	schemas := Schemas()
	require.Len(t, schemas, len(allSignals))

	for _, signal := range allSignals {
		p, ok := ExamplePayload(signal, 3)
		require.True(t, ok, signal)
		require.NoError(t, schemas[signal].Check(signal, p), signal)
	}

	_, ok := ExamplePayload("unknown", 3)
	require.False(t, ok)
}

func TestSchemas_RejectMalformedPayloads(t *testing.T) {
	schemas := Schemas()

	cases := []struct {
		name   string
		signal string
		p      api.SignalPayload
		field  string
	}{
		{
			name:   "wrong input type",
			signal: SignalPlanningDocuments,
			p:      api.SignalPayload{InputType: InputAttributes, Data: api.Data{"documents": []any{map[string]any{"name": "a"}}}},
			field:  "input_type",
		},
		{
			name:   "empty documents",
			signal: SignalPlanningDocuments,
			p:      api.SignalPayload{InputType: InputDocuments, Data: api.Data{"documents": []any{}}},
			field:  "data",
		},
		{
			name:   "unnamed document",
			signal: SignalPlanningDocuments,
			p:      api.SignalPayload{InputType: InputDocuments, Data: api.Data{"documents": []any{map[string]any{"type": "plan"}}}},
			field:  "data",
		},
		{
			name:   "unknown field",
			signal: SignalScopingApproval,
			p:      api.SignalPayload{InputType: InputApproval, Data: api.Data{"approved": true, "extra": 1}},
			field:  "data",
		},
		{
			name:   "owner missing",
			signal: SignalDataOwnerAssignments,
			p:      api.SignalPayload{InputType: InputDataOwnerAssignments, Data: api.Data{"assignments": []any{map[string]any{"attribute_id": 1}}}},
			field:  "data",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := schemas[tc.signal].Check(tc.signal, tc.p)
			var v *api.ValidationError
			require.ErrorAs(t, err, &v)
			require.Equal(t, tc.field, v.Field)
		})
	}
}
