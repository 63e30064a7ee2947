package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SQLiteStorage is a Storage backed by a single SQLite table.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStorage struct {
	db         *sql.DB
	table      string
	quotaBytes int64
}

// SQLiteOptions configures NewSQLiteStorage.
type SQLiteOptions struct {
	// Table defaults to "kv_entries".
	Table string

	// QuotaBytes bounds the summed length of all keys and values.
	// Zero means unbounded (the database file itself may still fill up).
	QuotaBytes int64
}

// Ensure SQLiteStorage implements Storage.
var _ Storage = (*SQLiteStorage)(nil)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewSQLiteStorage initializes the required schema in the given database
// and returns a new SQLiteStorage.
func NewSQLiteStorage(db *sql.DB, opts SQLiteOptions) (*SQLiteStorage, error) {
	if opts.Table == "" {
		opts.Table = "kv_entries"
	}
	if !tableNameRe.MatchString(opts.Table) {
		return nil, fmt.Errorf("storage: invalid table name %q", opts.Table)
	}
	s := &SQLiteStorage{db: db, table: opts.Table, quotaBytes: opts.QuotaBytes}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM `+s.table+` WHERE key = ?`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", classifySQLiteError(err)
	}
	return value, nil
}

func (s *SQLiteStorage) Set(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLiteError(err)
	}
	defer func() { _ = tx.Rollback() }()

	// Quota is counted in bytes on both sides of the comparison.
	if s.quotaBytes > 0 {
		var used int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))), 0) FROM `+s.table+` WHERE key <> ?`, key,
		).Scan(&used)
		if err != nil {
			return classifySQLiteError(err)
		}
		if used+int64(len(key)+len(value)) > s.quotaBytes {
			return ErrQuotaExceeded
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO `+s.table+` (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return classifySQLiteError(err)
	}
	return classifySQLiteError(tx.Commit())
}

func (s *SQLiteStorage) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE key = ?`, key)
	return classifySQLiteError(err)
}

func (s *SQLiteStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM `+s.table+` WHERE substr(key, 1, length(?)) = ?`, prefix, prefix,
	)
	if err != nil {
		return nil, classifySQLiteError(err)
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

// classifySQLiteError maps driver errors onto ErrQuotaExceeded and
// transient (busy/locked) errors. Other errors pass through unchanged.
func classifySQLiteError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "SQLITE_FULL"),
		strings.Contains(msg, "database or disk is full"):
		return QuotaError(err)
	case strings.Contains(msg, "SQLITE_BUSY"),
		strings.Contains(msg, "database is locked"):
		return Transient(err)
	default:
		return err
	}
}
