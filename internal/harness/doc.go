// Package harness provisions fully isolated, repeatable environments for
// integration-testing chanterelle against a relational database.
//
// For every test it synthesizes an ephemeral configuration, provisions the
// schema (direct model creation or migration replay), wraps one physical
// connection in an externally-opened transaction, and splices a sandboxed
// session into a live application instance in place of production wiring.
// Nothing a test writes, committed or not, is visible to any other test or
// to the database at large: the outer transaction is rolled back
// unconditionally at teardown.
//
// Typical use:
//
//	func TestUpload(t *testing.T) {
//	    h := harness.New(t)
//	    _, err := h.Dao.CreateChannel(ctx, "conda-forge", "", false, "")
//	    require.NoError(t, err)
//
//	    resp, err := h.Client.Get("/api/channels")
//	    ...
//	}
//
// Setup/teardown units are fixture graph nodes (see Registry); the default
// graph mirrors the chain database_url -> config -> engine -> sandbox ->
// session -> app -> client, and tears down strictly in reverse.
//
// One documented constraint on code under test: sessions nest application
// commits under savepoints, so an explicit rollback of the outer transaction
// issued outside Session.Transact breaks isolation. The sandbox counts and
// logs nested rollbacks it can observe; it cannot repair an outer rollback.
// Tests must not run concurrently against one physical database: each test
// claims exclusive use of one connection and one outer transaction.
package harness
