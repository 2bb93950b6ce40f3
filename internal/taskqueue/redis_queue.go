package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Queue backed by a Redis sorted set scored by NotBefore.
// Several processes may dequeue concurrently: a task belongs to whichever
// caller removes its member first.
//
// Members carry a zero-padded sequence prefix taken from an INCR counter.
// Redis orders equal scores by member bytes, so tasks due at the same
// millisecond dequeue in enqueue order.
type RedisQueue struct {
	client       *redis.Client
	key          string
	seqKey       string
	pollInterval time.Duration
}

// NewRedisQueue returns a queue stored under prefix+"tasks", with its
// sequence counter under prefix+"tasks:seq".
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	return &RedisQueue{
		client:       client,
		key:          prefix + "tasks",
		seqKey:       prefix + "tasks:seq",
		pollInterval: 20 * time.Millisecond,
	}
}

const seqSeparator = '|'

func seqMember(seq int64, data []byte) string {
	return fmt.Sprintf("%020d%c%s", seq, seqSeparator, data)
}

func decodeMember(member string) (*Task, error) {
	i := strings.IndexByte(member, seqSeparator)
	if i < 0 {
		return nil, fmt.Errorf("taskqueue: malformed queue member %q", member)
	}
	return DecodeTask([]byte(member[i+1:]))
}

var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	if t.NotBefore.IsZero() {
		t.NotBefore = t.EnqueuedAt
	}
	// Members must be unique even for otherwise identical tasks.
	if t.ID == "" {
		t.ID = uuid.Must(uuid.NewV4()).String()
	}
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	seq, err := q.client.Incr(ctx, q.seqKey).Result()
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(t.NotBefore.UnixMilli()),
		Member: seqMember(seq, data),
	}).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		task, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context) (*Task, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		Count: 1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	removed, err := q.client.ZRem(ctx, q.key, members[0]).Result()
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		// Another consumer won the race.
		return nil, nil
	}
	return decodeMember(members[0])
}

func (q *RedisQueue) Len() int {
	n, err := q.client.ZCard(context.Background(), q.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
