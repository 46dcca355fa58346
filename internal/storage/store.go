package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	applog "moneta/internal/log"

	_ "modernc.org/sqlite"
)

// DBTX is the subset of *sql.DB and *sql.Tx the repositories need, so the same
// repository code runs standalone or inside Store.InTx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the process-wide database handle. It is opened once at startup
// and passed to every repository constructor.
type Store struct {
	db   *sql.DB
	path string
	log  *applog.Logger
}

// Option customises Open.
type Option func(*Store)

// WithLogger sets the logger used for storage diagnostics.
func WithLogger(l *applog.Logger) Option {
	return func(s *Store) {
		s.log = l.WithComponent(applog.ComponentStorage)
	}
}

// Open opens (creating if needed) the SQLite database at dbPath and brings its
// schema up to date. A schema failure closes the handle and is returned: the
// caller must not continue against a partially migrated database.
func Open(ctx context.Context, dbPath string, opts ...Option) (*Store, error) {
	if dbPath == "" || strings.HasPrefix(dbPath, ":memory:") {
		return nil, fmt.Errorf("open store: a file path is required, got %q", dbPath)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Single writer: one connection serialises every statement.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
		log:  applog.ForComponent(applog.ComponentStorage),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

func dsn(path string) string {
	return path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)"
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for callers that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// InTx runs fn inside a single SQL transaction. Any error from fn, or from
// commit, rolls the transaction back and is returned unchanged so callers see
// the original fault.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail(ctx, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.ErrorContext(ctx, "Rollback failed", applog.FieldError, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.fail(ctx, "commit transaction", err)
	}
	return nil
}

// atomic runs fn in db when db is already a transaction, otherwise in a new
// one, so repository methods bound by WithTx join the caller's transaction.
func (s *Store) atomic(ctx context.Context, db DBTX, fn func(DBTX) error) error {
	if tx, ok := db.(*sql.Tx); ok {
		return fn(tx)
	}
	return s.InTx(ctx, func(tx *sql.Tx) error { return fn(tx) })
}

// fail logs a storage fault with context and returns it wrapped. Every
// repository error goes through here so callers never see an unlogged fault.
func (s *Store) fail(ctx context.Context, op string, err error, args ...any) error {
	s.log.ErrorContext(ctx, "Storage operation failed",
		append([]any{applog.FieldOperation, op, applog.FieldError, err}, args...)...)
	return fmt.Errorf("%s: %w", op, err)
}
