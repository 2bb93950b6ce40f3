package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/reportflow/internal/testutil"
)

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	addr := testutil.GetRedisAddress(t)

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	q := NewRedisQueue(client, "reportflow:queue-test:")
	require.NoError(t, client.Del(context.Background(), q.key, q.seqKey).Err())
	q.pollInterval = 5 * time.Millisecond
	return q
}

func TestRedisQueue_EnqueueDequeue(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	// Identical tasks must not collapse into one member.
	task := Task{Type: TaskTypeSignal, InstanceID: "9-156", SignalName: "approval"}
	require.NoError(t, q.Enqueue(ctx, task))
	require.NoError(t, q.Enqueue(ctx, task))
	require.Equal(t, 2, q.Len())

	for i := 0; i < 2; i++ {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, "approval", got.SignalName)
		require.NotEmpty(t, got.ID)
	}
	require.Equal(t, 0, q.Len())
}

func TestRedisQueue_DelayedTaskIsNotDueEarly(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{Type: TaskTypeStart, NotBefore: time.Now().Add(80 * time.Millisecond)}))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, TaskTypeStart, got.Type)
}

func TestRedisQueue_EqualDueTimesDequeueInOrder(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	due := time.Now().Add(-time.Second)
	names := []string{"approval", "rejection", "final_approval", "version_received", "submission"}
	for _, name := range names {
		require.NoError(t, q.Enqueue(ctx, Task{Type: TaskTypeSignal, InstanceID: "9-156", SignalName: name, NotBefore: due}))
	}

	for _, want := range names {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got.SignalName)
	}
	require.Equal(t, 0, q.Len())
}

func TestRedisQueue_MemberEncoding(t *testing.T) {
	require.Less(t, seqMember(9, []byte("{}")), seqMember(10, []byte("{}")))

	task, err := decodeMember(seqMember(42, []byte(`{"type":"cancel","instance_id":"9-156"}`)))
	require.NoError(t, err)
	require.Equal(t, TaskTypeCancel, task.Type)

	_, err = decodeMember(`{"type":"cancel"}`)
	require.Error(t, err)
}
