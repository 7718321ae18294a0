package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/forgeutils/chanterelle/internal/store"
)

// Mode is the isolation strategy a Sandbox settled on at open time.
type Mode int

const (
	// ModeSavepoint wraps the test in one outer transaction; application
	// commits become savepoint releases, invisible outside the sandbox.
	ModeSavepoint Mode = iota

	// ModeRecreate is the fallback for engines without savepoint support:
	// no outer transaction, and teardown drops every provisioned object.
	ModeRecreate
)

// Sandbox owns one physical connection and the externally-opened transaction
// wrapped around it for the duration of one test. Every session it yields is
// bound to that same transaction; Close rolls everything back
// unconditionally.
//
// Known limitation, inherited from the isolation strategy itself: if code
// under test issues a rollback of the outer transaction directly (bypassing
// Session.Transact), isolation breaks. Nested rollbacks observed through
// Transact are counted and logged as a warning.
type Sandbox struct {
	conn   *sql.Conn
	logger *slog.Logger
	mode   Mode

	closed          atomic.Bool
	spSeq           atomic.Int64
	nestedRollbacks atomic.Int64
}

// Open claims one connection from db, probes savepoint support, and opens
// the outer transaction. It must run before any schema provisioning or
// application logic touches the connection.
func Open(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Sandbox, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim connection: %w", err)
	}

	sb := &Sandbox{conn: conn, logger: logger}

	if _, err := conn.ExecContext(ctx, "BEGIN"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open outer transaction: %w", err)
	}

	// Savepoint support is engine-dependent; probe rather than assume.
	if _, err := conn.ExecContext(ctx, "SAVEPOINT chanterelle_probe"); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("abandon probe transaction: %w", rbErr)
		}
		sb.mode = ModeRecreate
		logger.Warn("falling back to schema-recreate isolation",
			"reason", errors.Join(ErrSavepointsUnsupported, err).Error())
		return sb, nil
	}
	if _, err := conn.ExecContext(ctx, "RELEASE SAVEPOINT chanterelle_probe"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("release probe savepoint: %w", err)
	}
	sb.mode = ModeSavepoint
	return sb, nil
}

// Mode reports the isolation strategy in effect.
func (sb *Sandbox) Mode() Mode {
	return sb.mode
}

// Conn exposes the sandboxed connection for schema provisioning. It must not
// be used concurrently with sessions.
func (sb *Sandbox) Conn() store.DBTX {
	return sb.conn
}

// NestedRollbacks reports how many nested rollbacks application code issued
// through sandboxed sessions during this test.
func (sb *Sandbox) NestedRollbacks() int64 {
	return sb.nestedRollbacks.Load()
}

// NewSession yields a session bound to the sandbox transaction. Many may be
// created and closed within one test; none outlives the sandbox.
func (sb *Sandbox) NewSession() store.Session {
	return &sandboxSession{sb: sb}
}

// Close unconditionally rolls back the outer transaction (or, in recreate
// mode, drops the provisioned schema) and releases the connection. It is
// idempotent and safe to call after the test body failed.
func (sb *Sandbox) Close(ctx context.Context) error {
	if !sb.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	switch sb.mode {
	case ModeSavepoint:
		if _, err := sb.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
			errs = append(errs, fmt.Errorf("rollback outer transaction: %w", err))
		}
	case ModeRecreate:
		if err := store.DropAll(ctx, sb.conn); err != nil {
			errs = append(errs, fmt.Errorf("drop provisioned schema: %w", err))
		}
	}
	if err := sb.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	return errors.Join(errs...)
}

// sandboxSession is the store.Session implementation bound to a sandbox.
// Reads and writes hit the pinned connection inside the outer transaction;
// Transact nests work under a savepoint so the application's own commit
// semantics are a no-op from the outside world's perspective.
type sandboxSession struct {
	sb     *Sandbox
	closed atomic.Bool
}

func (s *sandboxSession) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.sb.conn.ExecContext(ctx, query, args...)
}

func (s *sandboxSession) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return s.sb.conn.PrepareContext(ctx, query)
}

func (s *sandboxSession) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.sb.conn.QueryContext(ctx, query, args...)
}

func (s *sandboxSession) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.sb.conn.QueryRowContext(ctx, query, args...)
}

// Transact runs fn under a fresh savepoint. A successful return releases the
// savepoint (the "commit" visible to application code); an error or panic
// rolls back to it, which the sandbox records as a nested rollback.
func (s *sandboxSession) Transact(ctx context.Context, fn func(tx store.DBTX) error) error {
	if s.closed.Load() {
		return fmt.Errorf("session is closed")
	}
	if s.sb.closed.Load() {
		return fmt.Errorf("sandbox is closed")
	}

	if s.sb.mode == ModeRecreate {
		// No savepoints available: run flat on the connection. Weaker
		// atomicity, documented alongside the recreate fallback.
		return fn(s.sb.conn)
	}

	name := fmt.Sprintf("chanterelle_sp_%d", s.sb.spSeq.Add(1))
	if _, err := s.sb.conn.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("open savepoint: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			s.rollbackTo(ctx, name)
			panic(p)
		}
	}()

	if err := fn(s.sb.conn); err != nil {
		s.rollbackTo(ctx, name)
		return err
	}

	if _, err := s.sb.conn.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func (s *sandboxSession) rollbackTo(ctx context.Context, name string) {
	n := s.sb.nestedRollbacks.Add(1)
	s.sb.logger.Warn("nested rollback inside sandbox transaction",
		"savepoint", name, "total", n)
	if _, err := s.sb.conn.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		s.sb.logger.Error("rollback to savepoint failed", "savepoint", name, "error", err)
		return
	}
	if _, err := s.sb.conn.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		s.sb.logger.Error("release after rollback failed", "savepoint", name, "error", err)
	}
}

// Close marks the session unusable for further transactions. It never
// touches the shared connection; the sandbox owns that.
func (s *sandboxSession) Close() error {
	s.closed.Store(true)
	return nil
}
