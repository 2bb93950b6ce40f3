package persistence

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
)

// Persistence bundles the store interfaces so the engine
// can depend on a single abstraction.
type Persistence struct {
	Instances InstanceStore
	Events    EventStore
}

// NewInMemory returns a Persistence that keeps everything in process memory.
func NewInMemory() Persistence {
	return Persistence{
		Instances: NewInMemoryStore(),
		Events:    NewInMemoryEventStore(),
	}
}

// NewSQLite initializes the instance and event schemas in db.
func NewSQLite(db *sql.DB) (Persistence, error) {
	instances, err := NewSQLiteInstanceStore(db)
	if err != nil {
		return Persistence{}, err
	}
	events, err := NewSQLiteEventStore(db)
	if err != nil {
		return Persistence{}, err
	}
	return Persistence{Instances: instances, Events: events}, nil
}

// NewPostgres initializes the instance and event schemas in db.
func NewPostgres(db *sql.DB) (Persistence, error) {
	instances, err := NewPostgresInstanceStore(db)
	if err != nil {
		return Persistence{}, err
	}
	events, err := NewPostgresEventStore(db)
	if err != nil {
		return Persistence{}, err
	}
	return Persistence{Instances: instances, Events: events}, nil
}

// NewRedis stores instances and events under prefix in Redis.
func NewRedis(client *redis.Client, prefix string) Persistence {
	return Persistence{
		Instances: NewRedisInstanceStore(client, prefix),
		Events:    NewRedisEventStore(client, prefix),
	}
}
