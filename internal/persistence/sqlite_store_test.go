package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/reportflow/pkg/api"
)

func newTestSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every pooled connection would otherwise get its own empty database.
	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestSQLiteInstanceStore_Contract(t *testing.T) {
	store, err := NewSQLiteInstanceStore(newTestSQLiteDB(t))
	require.NoError(t, err)
	testInstanceStoreContract(t, store)
}

func TestSQLiteInstanceStore_Leases(t *testing.T) {
	store, err := NewSQLiteInstanceStore(newTestSQLiteDB(t))
	require.NoError(t, err)
	testLeaseContract(t, store)
}

func TestSQLiteEventStore_Contract(t *testing.T) {
	events, err := NewSQLiteEventStore(newTestSQLiteDB(t))
	require.NoError(t, err)
	testEventStoreContract(t, events)
}

func TestSQLite_SchemaIsIdempotent(t *testing.T) {
	db := newTestSQLiteDB(t)

	p, err := NewSQLite(db)
	require.NoError(t, err)
	require.NoError(t, p.Instances.SaveInstance(context.Background(), contractInstance("1-2", 1)))

	// Reopening the stores on the same database keeps existing rows.
	p, err = NewSQLite(db)
	require.NoError(t, err)
	got, err := p.Instances.GetInstance(context.Background(), "1-2")
	require.NoError(t, err)
	require.Equal(t, api.StatusInProgress, got.Status)
}

func TestSQLiteInstanceStore_StateIsJSON(t *testing.T) {
	db := newTestSQLiteDB(t)
	store, err := NewSQLiteInstanceStore(db)
	require.NoError(t, err)

	inst := contractInstance("4-5", 1)
	inst.PhaseResults = api.PhaseResults{{Phase: "Planning", Status: api.PhaseCompleted}}
	require.NoError(t, store.SaveInstance(context.Background(), inst))

	var state string
	require.NoError(t, db.QueryRow(`SELECT state FROM instances WHERE id = ?`, "4-5").Scan(&state))
	require.Contains(t, state, `"phase_results":{"Planning":`)
}

func TestSQLDialect_Rebind(t *testing.T) {
	q := "UPDATE t SET a = ?, b = ? WHERE id = ?"
	require.Equal(t, q, sqliteDialect.rebind(q))
	require.Equal(t, "UPDATE t SET a = $1, b = $2 WHERE id = $3", postgresDialect.rebind(q))
}
