package persistence

import (
	"database/sql"
)

var postgresDialect = sqlDialect{name: "postgres", numbered: true}

// PostgresInstanceStore is an InstanceStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresInstanceStore struct {
	sqlInstanceStore
}

// Ensure PostgresInstanceStore implements InstanceStore.
var _ InstanceStore = (*PostgresInstanceStore)(nil)

// NewPostgresInstanceStore initializes the required schema in the given
// database and returns a new PostgresInstanceStore.
func NewPostgresInstanceStore(db *sql.DB) (*PostgresInstanceStore, error) {
	s := &PostgresInstanceStore{sqlInstanceStore{db: db, dialect: postgresDialect, codec: JSONCodec{}}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			instance_key TEXT NOT NULL,
			generation INTEGER NOT NULL,
			status TEXT NOT NULL,
			current_phase TEXT NOT NULL DEFAULT '',
			state BYTEA NOT NULL,
			start_time BIGINT NOT NULL,
			close_time BIGINT
		);
		CREATE INDEX IF NOT EXISTS idx_instances_key ON instances(instance_key, generation);
		CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);
		CREATE TABLE IF NOT EXISTS instance_leases (
			instance_id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at BIGINT NOT NULL
		);
	`)
	return err
}

// PostgresEventStore stores instance events in PostgreSQL.
type PostgresEventStore struct {
	sqlEventStore
}

var _ EventStore = (*PostgresEventStore)(nil)

func NewPostgresEventStore(db *sql.DB) (*PostgresEventStore, error) {
	s := &PostgresEventStore{sqlEventStore{db: db, dialect: postgresDialect}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instance_events (
			id BIGSERIAL PRIMARY KEY,
			instance_id TEXT NOT NULL,
			at BIGINT NOT NULL,
			type TEXT NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			step TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_instance_events_instance_id ON instance_events(instance_id, id);
	`)
	return err
}
