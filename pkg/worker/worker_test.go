package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/reportflow/internal/taskqueue"
	"github.com/petrijr/reportflow/pkg/api"
)

type call struct {
	op         string
	instanceID string
	name       string
	start      api.StartInput
	payload    api.SignalPayload
	reason     string
}

// fakeClient records calls and fails the first failures calls with err.
type fakeClient struct {
	api.Client

	mu       sync.Mutex
	calls    []call
	failures int
	err      error
}

func (f *fakeClient) record(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return nil
}

func (f *fakeClient) Start(ctx context.Context, in api.StartInput) (string, error) {
	if err := f.record(call{op: "start", start: in}); err != nil {
		return "", err
	}
	return api.InstanceKey(in.CycleID, in.ReportID), nil
}

func (f *fakeClient) Signal(ctx context.Context, instanceID, name string, p api.SignalPayload) error {
	return f.record(call{op: "signal", instanceID: instanceID, name: name, payload: p})
}

func (f *fakeClient) Cancel(ctx context.Context, instanceID, reason string) error {
	return f.record(call{op: "cancel", instanceID: instanceID, reason: reason})
}

func (f *fakeClient) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestWorker_DispatchesEachTaskType(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	w := New(client, taskqueue.NewInMemoryQueue(10))

	require.NoError(t, w.EnqueueStart(ctx, api.StartInput{CycleID: 9, ReportID: 156, UserID: 3}))
	require.NoError(t, w.EnqueueSignal(ctx, "9-156", "approval", api.SignalPayload{
		InputType: "approval",
		Data:      api.Data{"approved": true},
		UserID:    3,
	}))
	require.NoError(t, w.EnqueueCancel(ctx, "9-156", "report withdrawn"))

	for i := 0; i < 3; i++ {
		processed, err := w.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	calls := client.snapshot()
	require.Len(t, calls, 3)

	require.Equal(t, "start", calls[0].op)
	require.Equal(t, int64(156), calls[0].start.ReportID)

	require.Equal(t, "signal", calls[1].op)
	require.Equal(t, "approval", calls[1].name)
	require.Equal(t, "9-156", calls[1].instanceID)
	require.Equal(t, true, calls[1].payload.Data["approved"])

	require.Equal(t, "cancel", calls[2].op)
	require.Equal(t, "report withdrawn", calls[2].reason)
}

func TestWorker_RedeliversTransientFailures(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	queue, err := taskqueue.NewSQLiteQueue(db)
	require.NoError(t, err)

	ctx := context.Background()
	client := &fakeClient{failures: 1, err: errors.New("store unavailable")}
	backoff := 30 * time.Millisecond
	w := NewWithConfig(client, queue, Config{MaxAttempts: 3, Backoff: backoff})

	require.NoError(t, w.EnqueueCancel(ctx, "9-156", "stop"))

	start := time.Now()
	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err, "failure should be scheduled for redelivery")
	require.True(t, processed)
	require.Equal(t, 1, queue.Len())

	processed, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.GreaterOrEqual(t, time.Since(start), backoff)
	require.Len(t, client.snapshot(), 2)
	require.Equal(t, 0, queue.Len())
}

func TestWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("store unavailable")
	client := &fakeClient{failures: 10, err: boom}
	queue := taskqueue.NewInMemoryQueue(10)
	w := NewWithConfig(client, queue, Config{MaxAttempts: 2})

	require.NoError(t, w.EnqueueStart(ctx, api.StartInput{CycleID: 1, ReportID: 2, UserID: 3}))

	_, err := w.ProcessOne(ctx)
	require.NoError(t, err)

	_, err = w.ProcessOne(ctx)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, queue.Len())
	require.Len(t, client.snapshot(), 2)
}

func TestWorker_DoesNotRedeliverRejections(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{failures: 1, err: api.ErrSignalAlreadyConsumed}
	queue := taskqueue.NewInMemoryQueue(10)
	w := NewWithConfig(client, queue, Config{MaxAttempts: 5})

	require.NoError(t, w.EnqueueSignal(ctx, "9-156", "approval", api.SignalPayload{InputType: "approval", UserID: 1}))

	processed, err := w.ProcessOne(ctx)
	require.True(t, processed)
	require.ErrorIs(t, err, api.ErrSignalAlreadyConsumed)
	require.Equal(t, 0, queue.Len())
}

func TestWorker_RedeliversSignalsForLeasedInstances(t *testing.T) {
	ctx := context.Background()
	leased := fmt.Errorf("instance 9-156: %w", api.ErrInstanceLeased)
	client := &fakeClient{failures: 1, err: leased}
	queue := taskqueue.NewInMemoryQueue(10)
	w := NewWithConfig(client, queue, Config{MaxAttempts: 3})

	require.NoError(t, w.EnqueueSignal(ctx, "9-156", "approval", api.SignalPayload{InputType: "approval", UserID: 1}))

	processed, err := w.ProcessOne(ctx)
	require.True(t, processed)
	require.NoError(t, err)
	require.Equal(t, 1, queue.Len())

	processed, err = w.ProcessOne(ctx)
	require.True(t, processed)
	require.NoError(t, err)
	require.Len(t, client.snapshot(), 2)
}

func TestWorker_RejectsUnknownAndMalformedTasks(t *testing.T) {
	ctx := context.Background()
	queue := taskqueue.NewInMemoryQueue(10)
	w := NewWithConfig(&fakeClient{}, queue, Config{MaxAttempts: 3})

	require.NoError(t, queue.Enqueue(ctx, taskqueue.Task{Type: "bogus"}))
	processed, err := w.ProcessOne(ctx)
	require.True(t, processed)
	require.ErrorContains(t, err, "unknown task type")

	require.NoError(t, queue.Enqueue(ctx, taskqueue.Task{Type: taskqueue.TaskTypeStart, Payload: []byte("{")}))
	_, err = w.ProcessOne(ctx)
	require.True(t, api.IsValidationError(err))
	require.Equal(t, 0, queue.Len())
}

func TestWorker_ProcessOneHonorsContext(t *testing.T) {
	w := New(&fakeClient{}, taskqueue.NewInMemoryQueue(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	processed, err := w.ProcessOne(ctx)
	require.False(t, processed)
	require.ErrorIs(t, err, context.Canceled)
}
