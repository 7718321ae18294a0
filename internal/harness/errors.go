package harness

import "errors"

// Harness failure taxonomy. None of these are recoverable by the harness;
// they all propagate to the test runner as a failed test.
var (
	// ErrConfigWrite reports that the scratch directory or the synthesized
	// configuration file could not be created.
	ErrConfigWrite = errors.New("config write failed")

	// ErrSchemaCreation reports that direct model-based schema creation
	// failed.
	ErrSchemaCreation = errors.New("schema creation failed")

	// ErrMigration reports that a migration step raised. The wrapped error
	// names the failing script and carries the underlying cause.
	ErrMigration = errors.New("migration failed")

	// ErrFixtureGraph reports a missing or cyclic fixture dependency. It is
	// raised during graph validation, before any side effect occurs.
	ErrFixtureGraph = errors.New("invalid fixture graph")

	// ErrOverrideLeak reports that an application override survived teardown.
	// This is a programming error in the harness itself.
	ErrOverrideLeak = errors.New("override leaked past teardown")

	// ErrSavepointsUnsupported reports that the storage engine rejected the
	// savepoint probe at sandbox open; the sandbox falls back to recreating
	// the schema per test.
	ErrSavepointsUnsupported = errors.New("savepoints unsupported by storage engine")
)
