package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/reportflow/pkg/api"
)

var redisStatuses = []api.Status{api.StatusInProgress, api.StatusCompleted, api.StatusFailed}

// RedisInstanceStore is an InstanceStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>inst:<id>             => msgpack-encoded api.WorkflowInstance
//	<prefix>idx:all               => SET of all instance IDs
//	<prefix>idx:key:<key>         => SET of instance IDs for a dispatch key
//	<prefix>idx:status:<status>   => SET of instance IDs for a given status
//	<prefix>lease:<id>            => owner, expiring after the lease TTL
//
// The status index is moved atomically with the payload, so ListInstances
// can filter with set operations.
type RedisInstanceStore struct {
	client *redis.Client
	prefix string
	codec  Codec
}

var _ InstanceStore = (*RedisInstanceStore)(nil)

// NewRedisInstanceStore creates a RedisInstanceStore.
// prefix is optional but recommended (e.g. "reportflow:").
func NewRedisInstanceStore(client *redis.Client, prefix string) *RedisInstanceStore {
	if prefix == "" {
		prefix = "reportflow:"
	}
	return &RedisInstanceStore{
		client: client,
		prefix: prefix,
		codec:  MsgpackCodec{},
	}
}

func (s *RedisInstanceStore) keyInstance(id string) string {
	return s.prefix + "inst:" + id
}

func (s *RedisInstanceStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisInstanceStore) keyDispatch(key string) string {
	return s.prefix + "idx:key:" + key
}

func (s *RedisInstanceStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

func (s *RedisInstanceStore) keyLease(id string) string {
	return s.prefix + "lease:" + id
}

func (s *RedisInstanceStore) index(ctx context.Context, pipe redis.Pipeliner, inst *api.WorkflowInstance) {
	pipe.SAdd(ctx, s.keyAll(), inst.ID)
	pipe.SAdd(ctx, s.keyDispatch(inst.Key), inst.ID)
	for _, st := range redisStatuses {
		if st != inst.Status {
			pipe.SRem(ctx, s.keyStatus(st), inst.ID)
		}
	}
	pipe.SAdd(ctx, s.keyStatus(inst.Status), inst.ID)
}

func (s *RedisInstanceStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	data, err := encodeInstance(s.codec, inst)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.keyInstance(inst.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrInstanceExists
	}

	pipe := s.client.TxPipeline()
	s.index(ctx, pipe, inst)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisInstanceStore) UpdateInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	data, err := encodeInstance(s.codec, inst)
	if err != nil {
		return err
	}

	// XX: only overwrite an existing payload.
	ok, err := s.client.SetXX(ctx, s.keyInstance(inst.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrInstanceNotFound
	}

	pipe := s.client.TxPipeline()
	s.index(ctx, pipe, inst)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	data, err := s.client.Get(ctx, s.keyInstance(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return decodeInstance(s.codec, data)
}

func (s *RedisInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	var ids []string
	var err error

	switch {
	case filter.Key != "" && filter.Status != "":
		ids, err = s.client.SInter(ctx,
			s.keyDispatch(filter.Key),
			s.keyStatus(filter.Status),
		).Result()
	case filter.Key != "":
		ids, err = s.client.SMembers(ctx, s.keyDispatch(filter.Key)).Result()
	case filter.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(filter.Status)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.WorkflowInstance{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.WorkflowInstance{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyInstance(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var instances []*api.WorkflowInstance
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		inst, err := decodeInstance(s.codec, data)
		if err != nil {
			return nil, err
		}
		// The payload is authoritative if an index entry is stale.
		if filter.match(inst) {
			instances = append(instances, inst)
		}
	}
	sortInstances(instances)
	return instances, nil
}

var (
	// Returns 1 if acquired or refreshed by the same owner, 0 otherwise.
	redisLeaseAcquire = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur or cur == ARGV[1] then
	redis.call('PSETEX', KEYS[1], ARGV[2], ARGV[1])
	return 1
end
return 0
`)

	// Returns 1 if renewed, 0 if the key is gone or owned by someone else.
	redisLeaseRenew = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

	redisLeaseRelease = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
)

func (s *RedisInstanceStore) TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	n, err := redisLeaseAcquire.Run(ctx, s.client, []string{s.keyLease(instanceID)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisInstanceStore) RenewLease(ctx context.Context, instanceID, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be > 0")
	}
	n, err := redisLeaseRenew.Run(ctx, s.client, []string{s.keyLease(instanceID)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrLeaseNotHeld
	}
	return nil
}

func (s *RedisInstanceStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	return redisLeaseRelease.Run(ctx, s.client, []string{s.keyLease(instanceID)}, owner).Err()
}

// RedisEventStore keeps each instance's history in a Redis list:
//
//	<prefix>events:<id> => LIST of msgpack-encoded api.WorkflowEvent
type RedisEventStore struct {
	client *redis.Client
	prefix string
	codec  Codec
}

var _ EventStore = (*RedisEventStore)(nil)

func NewRedisEventStore(client *redis.Client, prefix string) *RedisEventStore {
	if prefix == "" {
		prefix = "reportflow:"
	}
	return &RedisEventStore{client: client, prefix: prefix, codec: MsgpackCodec{}}
}

func (s *RedisEventStore) keyEvents(id string) string {
	return s.prefix + "events:" + id
}

func (s *RedisEventStore) AppendEvent(ctx context.Context, ev api.WorkflowEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := s.codec.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.keyEvents(ev.InstanceID), data).Err()
}

func (s *RedisEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.WorkflowEvent, error) {
	items, err := s.client.LRange(ctx, s.keyEvents(instanceID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]api.WorkflowEvent, 0, len(items))
	for _, item := range items {
		var ev api.WorkflowEvent
		if err := s.codec.Unmarshal([]byte(item), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
