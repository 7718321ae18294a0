// Package app wires the chanterelle HTTP application: a chi router over the
// store's Dao facade, authenticated by signed session cookies.
//
// All data access flows through named extension points. Request handlers ask
// for a session via ExtRequestSession, which consults the application's
// override map before falling back to production pool wiring; background
// code uses ExtBackgroundSession, an injectable provider swapped wholesale.
// The integration-test harness relies on both to splice a sandboxed session
// into a live application instance.
package app
