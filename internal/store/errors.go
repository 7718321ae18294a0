package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Common store errors used across all data-access code.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would violate a uniqueness
	// constraint (e.g. a channel with an existing name).
	ErrDuplicate = errors.New("entity already exists")

	// Entity-specific variants, all matching errors.Is against the generic
	// sentinel above.
	ErrUserNotFound    = fmt.Errorf("%w: user", ErrNotFound)
	ErrChannelNotFound = fmt.Errorf("%w: channel", ErrNotFound)
	ErrChannelExists   = fmt.Errorf("%w: channel name", ErrDuplicate)
	ErrPackageExists   = fmt.Errorf("%w: package version", ErrDuplicate)
)

// uniqueViolationCode is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolationCode = "23505"

// mapError normalizes driver-level unique-constraint violations to store
// sentinels. The pgx driver surfaces a typed *pgconn.PgError carrying the
// SQLSTATE code; the sqlite driver only exposes the violation through its
// error text.
func mapError(err error, sentinel error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return err
}
