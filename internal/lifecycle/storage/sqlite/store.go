package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/quotaflow/lifecycle/internal/platform/storage/sqlitemigrate"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/quotaflow/lifecycle/internal/lifecycle/storage/sqlite/migrations"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// toNullMillis maps optional domain times to sql.NullInt64 for nullable columns.
func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

// fromNullMillis maps nullable SQL timestamps back into optional domain times.
func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// dbtx abstracts *sql.DB and *sql.Tx so store methods run in either scope.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite-backed journal and projection store. It implements the
// storage interfaces; a transaction-scoped clone is handed to projection
// handlers so all mutations for one event commit together.
type Store struct {
	sqlDB         *sql.DB
	tx            *sql.Tx
	outboxEnabled bool
}

func (s *Store) h() dbtx {
	if s.tx != nil {
		return s.tx
	}
	return s.sqlDB
}

func (s *Store) withTx(tx *sql.Tx) *Store {
	if s == nil || tx == nil {
		return s
	}
	cloned := *s
	cloned.tx = tx
	return &cloned
}

// Option configures store behavior.
type Option func(*Store)

// WithOutboxEnabled toggles enqueueing projection-apply work on append.
// Enabled by default.
func WithOutboxEnabled(enabled bool) Option {
	return func(s *Store) {
		s.outboxEnabled = enabled
	}
}

// Open opens the lifecycle SQLite store at the provided path and applies
// embedded migrations before the store is handed to higher layers.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{
		sqlDB:         sqlDB,
		outboxEnabled: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.LifecycleFS, "lifecycle"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the underlying SQLite database.
//
// Close is intentionally nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
