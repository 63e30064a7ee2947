package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/questflow/internal/storage"
	"github.com/petrijr/questflow/internal/storage/storagetest"
	"github.com/petrijr/questflow/internal/testutil"
)

type PostgresStorageTestSuite struct {
	suite.Suite
	db  *sql.DB
	seq atomic.Int64
}

func TestPostgresStorageTestSuite(t *testing.T) {
	ts := new(PostgresStorageTestSuite)
	dsn := testutil.GetPostgresEndpoint(t)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ts.db = db

	suite.Run(t, ts)
}

// newStorage gives every caller its own table.
func (p *PostgresStorageTestSuite) newStorage() *Storage {
	s, err := NewStorage(p.db, fmt.Sprintf("kv_test_%d", p.seq.Add(1)))
	p.Require().NoError(err)
	return s
}

func (p *PostgresStorageTestSuite) TestContract() {
	storagetest.Run(p.T(), func(t *testing.T) storage.Storage {
		return p.newStorage()
	})
}

func (p *PostgresStorageTestSuite) TestSchemaIsIdempotent() {
	s := p.newStorage()
	again, err := NewStorage(p.db, s.table)
	p.Require().NoError(err)

	ctx := context.Background()
	p.Require().NoError(s.Set(ctx, "k", "v"))
	got, err := again.Get(ctx, "k")
	p.Require().NoError(err)
	p.Equal("v", got)
}

func TestNewStorage_RejectsBadTableName(t *testing.T) {
	t.Parallel()
	_, err := NewStorage(nil, "kv; DROP TABLE x")
	require.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	require.NoError(t, classifyError(nil))
	require.True(t, storage.IsQuotaExceeded(classifyError(&pgconn.PgError{Code: codeDiskFull})))
	require.True(t, storage.IsQuotaExceeded(classifyError(fmt.Errorf("exec: %w", &pgconn.PgError{Code: codeProgramLimitExceeded}))))
	require.True(t, storage.IsTransient(classifyError(&pgconn.PgError{Code: codeDeadlockDetected})))

	unique := &pgconn.PgError{Code: "23505"}
	require.False(t, storage.IsQuotaExceeded(classifyError(unique)))
	require.False(t, storage.IsTransient(classifyError(unique)))
}
