// Package postgres provides a questflow storage backend on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/petrijr/questflow/internal/storage"
)

// Storage is a storage.Storage backed by a single PostgreSQL table.
//
// It expects an *sql.DB that uses the pgx driver. The caller is responsible
// for importing the driver for its side effects, e.g.:
//
//	_ "github.com/jackc/pgx/v5/stdlib"
//
// and providing a DSN via sql.Open("pgx", dsn).
type Storage struct {
	db    *sql.DB
	table string
}

// Ensure Storage implements storage.Storage.
var _ storage.Storage = (*Storage)(nil)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewStorage initializes the required schema in the given database and
// returns a new Storage. table defaults to "questflow_kv".
func NewStorage(db *sql.DB, table string) (*Storage, error) {
	if table == "" {
		table = "questflow_kv"
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", table)
	}
	s := &Storage{db: db, table: table}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		);
	`)
	return err
}

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM `+s.table+` WHERE key = $1`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", classifyError(err)
	}
	return value, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+s.table+` (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	return classifyError(err)
}

func (s *Storage) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE key = $1`, key)
	return classifyError(err)
}

func (s *Storage) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM `+s.table+` WHERE left(key, char_length($1)) = $1`, prefix,
	)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SQLSTATE codes that map onto storage errors.
const (
	codeDiskFull             = "53100"
	codeOutOfMemory          = "53200"
	codeProgramLimitExceeded = "54000"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeDiskFull, codeOutOfMemory, codeProgramLimitExceeded:
		return storage.QuotaError(err)
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return storage.Transient(err)
	default:
		return err
	}
}
