package reporttesting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/reportflow"
	"github.com/petrijr/reportflow/pkg/api"
)

var allSignals = []string{
	SignalPlanningDocuments,
	SignalPlanningAttributes,
	SignalProfilingRuleDecisions,
	SignalScopingDecisions,
	SignalScopingApproval,
	SignalSampleDecisions,
	SignalDataOwnerAssignments,
	SignalEvidence,
	SignalTestReviews,
	SignalObservationDecisions,
	SignalReportApproval,
}

// fastPipeline keeps the phase graph but retries within milliseconds.
func fastPipeline() api.PipelineDefinition {
	def := Pipeline()
	def.Policies = api.PolicyTable{Default: api.RetryPolicy{
		MaxAttempts:         3,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          5 * time.Millisecond,
		StartToCloseTimeout: time.Second,
	}}
	return def
}

// setGate applies fn to the gate consuming signal.
func setGate(def *api.PipelineDefinition, signal string, fn func(*api.StepDefinition)) {
	for i := range def.Phases {
		for j := range def.Phases[i].Steps {
			if def.Phases[i].Steps[j].Signal == signal {
				fn(&def.Phases[i].Steps[j])
			}
		}
	}
}

// invoker runs the stub activities unless a test overrides one, and counts
// calls per activity.
type invoker struct {
	base *api.ActivityRegistry

	mu        sync.Mutex
	overrides map[string]api.ActivityFunc
	calls     map[string]int
}

func newInvoker() *invoker {
	return &invoker{
		base:      StubActivities(nil),
		overrides: make(map[string]api.ActivityFunc),
		calls:     make(map[string]int),
	}
}

func (i *invoker) override(name string, fn api.ActivityFunc) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.overrides[name] = fn
}

func (i *invoker) count(name string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls[name]
}

func (i *invoker) Has(name string) bool {
	return i.base.Has(name)
}

func (i *invoker) Invoke(ctx context.Context, name string, in api.ActivityInput) (api.Data, error) {
	i.mu.Lock()
	i.calls[name]++
	fn, ok := i.overrides[name]
	i.mu.Unlock()
	if ok {
		return fn(ctx, in)
	}
	return i.base.Invoke(ctx, name, in)
}

func newClient(t *testing.T, def api.PipelineDefinition, acts api.ActivityInvoker, opts ...reportflow.Option) reportflow.Client {
	t.Helper()
	c, err := reportflow.NewInMemory(def, acts, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c reportflow.Client, id, signal string) {
	t.Helper()
	p, ok := ExamplePayload(signal, 3)
	require.True(t, ok, "no example payload for %s", signal)
	require.NoError(t, c.Signal(context.Background(), id, signal, p))
}

func sendAll(t *testing.T, c reportflow.Client, id string, signals ...string) {
	t.Helper()
	for _, s := range signals {
		send(t, c, id, s)
	}
}

func awaitAction(t *testing.T, c reportflow.Client, id, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := c.GetAwaitingAction(context.Background(), id)
		return err == nil && got == want
	}, 2*time.Second, 5*time.Millisecond, "awaiting action never became %q", want)
}

func wait(t *testing.T, c reportflow.Client, id string) *api.RunResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Wait(ctx, id)
	require.NoError(t, err)
	return res
}

func historyTypes(t *testing.T, c reportflow.Client, id string) []api.EventType {
	t.Helper()
	events, err := c.History(context.Background(), id)
	require.NoError(t, err)
	out := make([]api.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func countType(types []api.EventType, want api.EventType) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}
