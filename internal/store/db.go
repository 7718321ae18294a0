package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver, registered as "pgx"
	_ "modernc.org/sqlite"             // pure-Go sqlite driver, registered as "sqlite"
)

// DBTX abstracts the database access layer. It is implemented by *sql.DB,
// *sql.Tx and *sql.Conn, allowing query code to run against a pooled
// connection, an open transaction, or a single pinned connection.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Session is the application-facing data-access handle. Reads and writes go
// through the embedded DBTX; multi-statement writes go through Transact so
// that the provider controls commit semantics: a pooled session commits to
// the database, a sandboxed session releases a savepoint.
type Session interface {
	DBTX

	// Transact runs fn atomically. If fn returns an error the work is rolled
	// back and the error is returned unchanged.
	Transact(ctx context.Context, fn func(tx DBTX) error) error

	// Close releases any per-session resources. Closing a session never
	// closes the underlying connection or pool.
	Close() error
}

// SessionProvider constructs a Session. Production wiring supplies a pooled
// provider; tests supply a fixed-session provider.
type SessionProvider func(ctx context.Context) (Session, error)

// Open opens a database handle for the given connection URL. Supported
// schemes: postgres:// and postgresql:// (pgx), sqlite:// (modernc).
func Open(rawURL string) (*sql.DB, error) {
	driver, dsn, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", driver, err)
	}

	if driver == "sqlite" {
		// In-memory sqlite databases live only as long as a connection is
		// open; keep idle connections around so they survive the pool's
		// churn between uses.
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	return db, nil
}

// ParseURL maps a connection URL to a registered driver name and DSN.
func ParseURL(rawURL string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return "pgx", rawURL, nil
	case strings.HasPrefix(rawURL, "sqlite://"):
		return "sqlite", strings.TrimPrefix(rawURL, "sqlite://"), nil
	default:
		return "", "", fmt.Errorf("unsupported database URL %q", rawURL)
	}
}

// Dialect reports the SQL dialect name for a connection URL, in the form
// migration tooling expects ("postgres" or "sqlite3").
func Dialect(rawURL string) (string, error) {
	driver, _, err := ParseURL(rawURL)
	if err != nil {
		return "", err
	}
	if driver == "pgx" {
		return "postgres", nil
	}
	return "sqlite3", nil
}

// NewPoolProvider returns the production SessionProvider: each call yields a
// session backed by the shared *sql.DB pool.
func NewPoolProvider(db *sql.DB) SessionProvider {
	return func(ctx context.Context) (Session, error) {
		if db == nil {
			return nil, fmt.Errorf("pool provider: nil database handle")
		}
		return &poolSession{db: db}, nil
	}
}

// poolSession is the production Session implementation. It delegates reads
// and writes to the pool and runs Transact in a real database transaction.
type poolSession struct {
	db *sql.DB
}

func (s *poolSession) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *poolSession) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return s.db.PrepareContext(ctx, query)
}

func (s *poolSession) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *poolSession) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Transact executes fn within a database transaction, committing on success
// and rolling back on error or panic.
func (s *poolSession) Transact(ctx context.Context, fn func(tx DBTX) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *poolSession) Close() error {
	// The pool owns the connections.
	return nil
}
