package persistence

import (
	"database/sql"
)

var sqliteDialect = sqlDialect{name: "sqlite"}

// SQLiteInstanceStore is an InstanceStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteInstanceStore struct {
	sqlInstanceStore
}

// Ensure SQLiteInstanceStore implements InstanceStore.
var _ InstanceStore = (*SQLiteInstanceStore)(nil)

// NewSQLiteInstanceStore initializes the required schema in the given
// database and returns a new SQLiteInstanceStore.
func NewSQLiteInstanceStore(db *sql.DB) (*SQLiteInstanceStore, error) {
	s := &SQLiteInstanceStore{sqlInstanceStore{db: db, dialect: sqliteDialect, codec: JSONCodec{}}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			instance_key TEXT NOT NULL,
			generation INTEGER NOT NULL,
			status TEXT NOT NULL,
			current_phase TEXT NOT NULL DEFAULT '',
			state BLOB NOT NULL,
			start_time INTEGER NOT NULL,
			close_time INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_instances_key ON instances(instance_key, generation);
		CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);
		CREATE TABLE IF NOT EXISTS instance_leases (
			instance_id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);
	`)
	return err
}

// SQLiteEventStore stores instance events in SQLite.
type SQLiteEventStore struct {
	sqlEventStore
}

var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{sqlEventStore{db: db, dialect: sqliteDialect}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instance_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			step TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_instance_events_instance_id ON instance_events(instance_id, id);
	`)
	return err
}
