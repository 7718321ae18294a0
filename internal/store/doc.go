// Package store defines the data-access layer for chanterelle: the DBTX and
// Session abstractions, the Dao query facade, the declarative model set, and
// the embedded migration scripts. Application code obtains a Session through
// a SessionProvider so that tests can substitute a sandboxed session without
// touching production wiring.
package store
