package engine

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/reportflow/internal/persistence"
	"github.com/petrijr/reportflow/pkg/api"
)

// testPipeline has a gated first phase, a fork/join pair with one gated
// branch, and an automated closing phase.
func testPipeline() api.PipelineDefinition {
	return api.PipelineDefinition{
		Name:    "test",
		Version: "v1",
		Phases: []api.PhaseDefinition{
			{Name: "Intake", Steps: []api.StepDefinition{
				{Name: "prepare", Kind: api.StepAutomated, Activity: "prepare"},
				{Name: "review", Kind: api.StepHumanGate, Signal: "approve", Action: "approve_intake", Completion: "record_approval"},
			}},
			{Name: "Left", Parallel: true, Steps: []api.StepDefinition{
				{Name: "work", Kind: api.StepAutomated, Activity: "left_work"},
			}},
			{Name: "Right", Parallel: true, Steps: []api.StepDefinition{
				{Name: "confirm", Kind: api.StepHumanGate, Signal: "right_ok", Action: "confirm_right", Completion: "right_done"},
			}},
			{Name: "Close", Steps: []api.StepDefinition{
				{Name: "finish", Kind: api.StepAutomated, Activity: "finish"},
			}},
		},
		Policies: api.PolicyTable{
			Default: api.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		},
	}
}

// activityCalls counts invocations per activity name.
type activityCalls struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *activityCalls) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[string]int)
	}
	c.n[name]++
}

func (c *activityCalls) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

// testActivities registers every activity of testPipeline. Entries in
// overrides replace the default, which returns the signal data for gate
// completions and {"ok": true} otherwise.
func testActivities(t *testing.T, calls *activityCalls, overrides map[string]api.ActivityFunc) *api.ActivityRegistry {
	t.Helper()
	reg := api.NewActivityRegistry()
	for _, name := range testPipeline().Activities() {
		fn := overrides[name]
		if fn == nil {
			fn = func(ctx context.Context, in api.ActivityInput) (api.Data, error) {
				if in.Signal != nil {
					return in.Signal.Data.Clone(), nil
				}
				return api.Data{"ok": true}, nil
			}
		}
		reg.MustRegister(name, func(ctx context.Context, in api.ActivityInput) (api.Data, error) {
			if calls != nil {
				calls.inc(name)
			}
			return fn(ctx, in)
		})
	}
	return reg
}

type storeFactory func(t *testing.T) persistence.Persistence

func inMemoryStores(t *testing.T) persistence.Persistence {
	t.Helper()
	return persistence.NewInMemory()
}

func sqliteStores(t *testing.T) persistence.Persistence {
	t.Helper()
	return sqlitePersistence(t, openSQLite(t))
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sqlitePersistence(t *testing.T, db *sql.DB) persistence.Persistence {
	t.Helper()
	p, err := persistence.NewSQLite(db)
	require.NoError(t, err)
	return p
}

var factories = map[string]storeFactory{
	"in-memory": inMemoryStores,
	"sqlite":    sqliteStores,
}

func newDispatcher(t *testing.T, p persistence.Persistence, def api.PipelineDefinition, acts api.ActivityInvoker) *Dispatcher {
	t.Helper()
	return newDispatcherWith(t, Config{Persistence: p, Pipeline: def, Activities: acts})
}

func newDispatcherWith(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	d, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// testClock is a settable clock shared by dispatchers in one test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func startInput() api.StartInput {
	return api.StartInput{CycleID: 1, ReportID: 2, UserID: 3}
}

func payload(data api.Data) api.SignalPayload {
	return api.SignalPayload{InputType: "approval", Data: data, UserID: 3}
}

func waitDone(t *testing.T, d *Dispatcher, id string) *api.RunResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := d.Wait(ctx, id)
	require.NoError(t, err)
	return res
}

func awaitAction(t *testing.T, d *Dispatcher, id, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := d.GetAwaitingAction(context.Background(), id)
		return err == nil && got == want
	}, 2*time.Second, 5*time.Millisecond, "awaiting action never became %q", want)
}

func eventTypes(t *testing.T, d *Dispatcher, id string) []api.EventType {
	t.Helper()
	events, err := d.History(context.Background(), id)
	require.NoError(t, err)
	out := make([]api.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func count(types []api.EventType, want api.EventType) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}

// awaitParked waits until the gate for signal is suspended on its waiter.
func awaitParked(t *testing.T, d *Dispatcher, id, signal string) {
	t.Helper()
	require.Eventually(t, func() bool {
		run := d.liveRun(id)
		if run == nil {
			return false
		}
		run.mu.Lock()
		defer run.mu.Unlock()
		_, ok := run.waiters[signal]
		return ok
	}, 2*time.Second, 5*time.Millisecond, "gate %s never parked", signal)
}
