package harness

import (
	"context"
	"fmt"
	"testing"

	"github.com/forgeutils/chanterelle/internal/app"
	"github.com/forgeutils/chanterelle/internal/config"
	"github.com/forgeutils/chanterelle/internal/platform/logger"
	"github.com/forgeutils/chanterelle/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bridgeFixtures builds a live app instance plus a sandboxed session against
// the same database, the two halves the bridge connects.
func bridgeFixtures(t *testing.T) (*app.App, *Sandbox, store.Session) {
	t.Helper()
	ctx := context.Background()

	url := fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", t.Name())
	db, err := store.Open(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sb, err := Open(ctx, db, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sb.Close(ctx) })
	require.NoError(t, NewProvisioner(logger.Discard()).Provision(ctx, sb.Conn(), ProvisionOptions{}))

	cfg := &config.Config{}
	cfg.Database.URL = url
	cfg.Session.Secret = "eWrkA6xpa7LTSSYUwZEEVoOU62501Ucf9lmLcgzTj1I="

	return app.New(cfg, db, logger.Discard()), sb, sb.NewSession()
}

func TestInstallRedirectsBothExtensionPoints(t *testing.T) {
	ctx := context.Background()
	a, _, session := bridgeFixtures(t)

	bridge, err := InstallOverrides(a, session)
	require.NoError(t, err)
	defer bridge.Revert()

	for _, ep := range []app.ExtensionPoint{app.ExtRequestSession, app.ExtBackgroundSession} {
		got, owned, err := a.SessionFor(ctx, ep)
		require.NoError(t, err)
		assert.Same(t, session, got, "extension point %s must yield the sandboxed session", ep)
		assert.False(t, owned, "overridden sessions belong to the bridge, not the caller")
	}
}

func TestRevertRestoresProductionWiring(t *testing.T) {
	ctx := context.Background()
	a, _, session := bridgeFixtures(t)

	bridge, err := InstallOverrides(a, session)
	require.NoError(t, err)
	require.NoError(t, bridge.Revert())

	assert.Empty(t, a.ActiveOverrides())
	require.NoError(t, CheckOverrideLeak(a))

	got, owned, err := a.SessionFor(ctx, app.ExtRequestSession)
	require.NoError(t, err)
	defer got.Close()
	assert.True(t, owned, "production sessions are owned by the caller")
	assert.NotSame(t, session, got)
}

func TestRevertIsIdempotent(t *testing.T) {
	a, _, session := bridgeFixtures(t)

	bridge, err := InstallOverrides(a, session)
	require.NoError(t, err)
	require.NoError(t, bridge.Revert())
	require.NoError(t, bridge.Revert())
	assert.Empty(t, a.ActiveOverrides())
}

func TestInstallOverActiveOverrideFails(t *testing.T) {
	a, _, session := bridgeFixtures(t)

	first, err := InstallOverrides(a, session)
	require.NoError(t, err)
	defer first.Revert()

	_, err = InstallOverrides(a, session)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already overridden")
}

func TestCheckOverrideLeakNamesLeakedPoint(t *testing.T) {
	a, _, session := bridgeFixtures(t)

	_, err := InstallOverrides(a, session)
	require.NoError(t, err)

	err = CheckOverrideLeak(a)
	require.ErrorIs(t, err, ErrOverrideLeak)
	assert.Contains(t, err.Error(), string(app.ExtRequestSession))
}

func TestBackgroundJobRunsInsideSandbox(t *testing.T) {
	ctx := context.Background()
	a, _, session := bridgeFixtures(t)

	bridge, err := InstallOverrides(a, session)
	require.NoError(t, err)
	defer bridge.Revert()

	dao := store.NewDao(session)
	_, err = dao.CreateChannel(ctx, "forge", "", false, "")
	require.NoError(t, err)
	_, err = dao.CreatePackage(ctx, "forge", "zstd", "1.5.6", "linux-64")
	require.NoError(t, err)

	require.NoError(t, a.RefreshChannelCounts(ctx))

	ch, err := dao.GetChannel(ctx, "forge")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ch.PackageCount,
		"the job must see and mutate sandboxed state through the overridden point")
}
