package persistence

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/reportflow/internal/testutil"
)

type PostgresStoreTestSuite struct {
	suite.Suite
	db *sql.DB
	p  Persistence
}

func TestPostgresTestSuite(t *testing.T) {
	dsn := testutil.GetPostgresDSN(t)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := &PostgresStoreTestSuite{db: db}
	suite.Run(t, s)
}

func (s *PostgresStoreTestSuite) SetupTest() {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS instances, instance_events, instance_leases`)
	s.Require().NoError(err)

	p, err := NewPostgres(s.db)
	s.Require().NoError(err)
	s.p = p
}

func (s *PostgresStoreTestSuite) TestInstanceStoreContract() {
	testInstanceStoreContract(s.T(), s.p.Instances)
}

func (s *PostgresStoreTestSuite) TestLeaseContract() {
	testLeaseContract(s.T(), s.p.Instances)
}

func (s *PostgresStoreTestSuite) TestEventStoreContract() {
	testEventStoreContract(s.T(), s.p.Events)
}
