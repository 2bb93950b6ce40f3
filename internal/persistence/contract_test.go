package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/reportflow/pkg/api"
)

var contractStart = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

func contractInstance(key string, gen int) *api.WorkflowInstance {
	return &api.WorkflowInstance{
		ID:           api.InstanceID(key, gen),
		Key:          key,
		Generation:   gen,
		RunID:        "run-" + api.InstanceID(key, gen),
		Pipeline:     "report-testing",
		CycleID:      9,
		ReportID:     156,
		UserID:       3,
		Status:       api.StatusInProgress,
		CurrentPhase: "Planning",
		ActivePhases: []string{"Planning"},
		Progress: map[string]*api.PhaseProgress{
			"Planning": {StartedAt: contractStart, NextStep: 1, Outputs: api.Data{"start_planning_phase": "ok"}},
		},
		StartTime: contractStart,
	}
}

// testInstanceStoreContract exercises the behavior every InstanceStore
// backend must share.
func testInstanceStoreContract(t *testing.T, store InstanceStore) {
	t.Helper()
	ctx := context.Background()

	inst := contractInstance("9-156", 1)
	require.NoError(t, store.SaveInstance(ctx, inst))
	require.ErrorIs(t, store.SaveInstance(ctx, inst), ErrInstanceExists)

	got, err := store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, inst.ID, got.ID)
	require.Equal(t, inst.Key, got.Key)
	require.Equal(t, 1, got.Generation)
	require.Equal(t, api.StatusInProgress, got.Status)
	require.Equal(t, "Planning", got.CurrentPhase)
	require.Equal(t, int64(156), got.ReportID)
	require.True(t, contractStart.Equal(got.StartTime))
	require.Equal(t, 1, got.Progress["Planning"].NextStep)
	require.Equal(t, "ok", got.Progress["Planning"].Outputs["start_planning_phase"])

	// Mutating the returned copy must not leak back into the store.
	got.Status = api.StatusFailed
	again, err := store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, api.StatusInProgress, again.Status)

	closed := contractStart.Add(time.Hour)
	inst.Status = api.StatusCompleted
	inst.CurrentPhase = "Finalize Test Report"
	inst.ActivePhases = nil
	inst.Progress = nil
	inst.PhaseResults = api.PhaseResults{
		{Phase: "Planning", Status: api.PhaseCompleted, CompletedAt: contractStart, Result: api.Data{"documents": "3"}},
		{Phase: "Scoping", Status: api.PhaseCompleted, CompletedAt: closed},
	}
	inst.CloseTime = &closed
	require.NoError(t, store.UpdateInstance(ctx, inst))

	got, err = store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, got.Status)
	require.Equal(t, []string{"Planning", "Scoping"}, got.PhaseResults.Names())
	require.Equal(t, "3", got.PhaseResults[0].Result["documents"])
	require.NotNil(t, got.CloseTime)
	require.True(t, closed.Equal(*got.CloseTime))

	_, err = store.GetInstance(ctx, "missing")
	require.ErrorIs(t, err, ErrInstanceNotFound)
	require.ErrorIs(t, store.UpdateInstance(ctx, contractInstance("missing", 1)), ErrInstanceNotFound)

	second := contractInstance("9-156", 2)
	other := contractInstance("9-157", 1)
	require.NoError(t, store.SaveInstance(ctx, second))
	require.NoError(t, store.SaveInstance(ctx, other))

	all, err := store.ListInstances(ctx, InstanceFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"9-156", "9-156-2", "9-157"}, ids(all))

	byKey, err := store.ListInstances(ctx, InstanceFilter{Key: "9-156"})
	require.NoError(t, err)
	require.Equal(t, []string{"9-156", "9-156-2"}, ids(byKey))

	running, err := store.ListInstances(ctx, InstanceFilter{Status: api.StatusInProgress})
	require.NoError(t, err)
	require.Equal(t, []string{"9-156-2", "9-157"}, ids(running))

	done, err := store.ListInstances(ctx, InstanceFilter{Key: "9-156", Status: api.StatusCompleted})
	require.NoError(t, err)
	require.Equal(t, []string{"9-156"}, ids(done))
}

func testEventStoreContract(t *testing.T, events EventStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, events.AppendEvent(ctx, api.WorkflowEvent{InstanceID: "a", At: contractStart, Type: api.EventInstanceStarted}))
	require.NoError(t, events.AppendEvent(ctx, api.WorkflowEvent{InstanceID: "b", Type: api.EventInstanceStarted}))
	require.NoError(t, events.AppendEvent(ctx, api.WorkflowEvent{
		InstanceID: "a",
		Type:       api.EventSignalReceived,
		Phase:      "Planning",
		Step:       "await_planning_documents",
		Detail:     "submit_planning_documents",
	}))

	list, err := events.ListEvents(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, api.EventInstanceStarted, list[0].Type)
	require.True(t, contractStart.Equal(list[0].At))
	require.Equal(t, api.EventSignalReceived, list[1].Type)
	require.Equal(t, "Planning", list[1].Phase)
	require.Equal(t, "await_planning_documents", list[1].Step)
	require.Equal(t, "submit_planning_documents", list[1].Detail)
	require.False(t, list[1].At.IsZero())

	empty, err := events.ListEvents(ctx, "none")
	require.NoError(t, err)
	require.Empty(t, empty)
}

// testLeaseContract checks ownership leases: exclusive while live,
// re-entrant for the owner, released on demand and reclaimable on expiry.
func testLeaseContract(t *testing.T, store InstanceStore) {
	t.Helper()
	ctx := context.Background()
	ttl := time.Second

	ok, err := store.TryAcquireLease(ctx, "9-156", "owner-1", ttl)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.TryAcquireLease(ctx, "9-156", "owner-1", ttl)
	require.NoError(t, err)
	require.True(t, ok, "same owner re-acquires")

	ok, err = store.TryAcquireLease(ctx, "9-156", "owner-2", ttl)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.RenewLease(ctx, "9-156", "owner-1", ttl))
	require.ErrorIs(t, store.RenewLease(ctx, "9-156", "owner-2", ttl), ErrLeaseNotHeld)

	// Releasing someone else's lease is a no-op.
	require.NoError(t, store.ReleaseLease(ctx, "9-156", "owner-2"))
	ok, err = store.TryAcquireLease(ctx, "9-156", "owner-2", ttl)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.ReleaseLease(ctx, "9-156", "owner-1"))
	require.NoError(t, store.ReleaseLease(ctx, "9-156", "owner-1"))
	require.ErrorIs(t, store.RenewLease(ctx, "9-156", "owner-1", ttl), ErrLeaseNotHeld)

	ok, err = store.TryAcquireLease(ctx, "9-156", "owner-2", ttl)
	require.NoError(t, err)
	require.True(t, ok)

	// An expired lease can be taken over and no longer renewed.
	ok, err = store.TryAcquireLease(ctx, "9-157", "owner-1", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(80 * time.Millisecond)
	require.ErrorIs(t, store.RenewLease(ctx, "9-157", "owner-1", ttl), ErrLeaseNotHeld)
	ok, err = store.TryAcquireLease(ctx, "9-157", "owner-2", ttl)
	require.NoError(t, err)
	require.True(t, ok)

	var wg sync.WaitGroup
	var won atomic.Int32
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TryAcquireLease(ctx, "9-158", "racer-"+string(rune('a'+i)), ttl)
			if err == nil && ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), won.Load())
}

func ids(list []*api.WorkflowInstance) []string {
	out := make([]string, len(list))
	for i, inst := range list {
		out[i] = inst.ID
	}
	return out
}
