package app

import (
	"context"
	"strings"
	"testing"

	"github.com/forgeutils/chanterelle/internal/config"
	"github.com/forgeutils/chanterelle/internal/platform/logger"
	"github.com/forgeutils/chanterelle/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.URL = "sqlite://file:app_test?mode=memory&cache=shared"
	cfg.Session.Secret = "eWrkA6xpa7LTSSYUwZEEVoOU62501Ucf9lmLcgzTj1I="

	db, err := store.Open(cfg.Database.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(cfg, db, logger.Discard())
}

type stubSession struct {
	store.Session
}

func stubProvider(sess store.Session) store.SessionProvider {
	return func(ctx context.Context) (store.Session, error) {
		return sess, nil
	}
}

func TestSessionForUnknownExtensionPoint(t *testing.T) {
	a := newTestApp(t)

	_, _, err := a.SessionFor(context.Background(), ExtensionPoint("bogus"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown extension point")
}

func TestSessionForPrefersOverride(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	stub := &stubSession{}

	require.NoError(t, a.SetOverride(ExtRequestSession, stubProvider(stub)))
	t.Cleanup(func() { a.ClearOverride(ExtRequestSession) })

	sess, owned, err := a.SessionFor(ctx, ExtRequestSession)
	require.NoError(t, err)
	assert.Same(t, stub, sess)
	assert.False(t, owned)

	// The other point is untouched and still yields an owned session.
	sess, owned, err = a.SessionFor(ctx, ExtBackgroundSession)
	require.NoError(t, err)
	defer sess.Close()
	assert.True(t, owned)
}

func TestSetOverrideRejectsSecondInstall(t *testing.T) {
	a := newTestApp(t)
	stub := &stubSession{}

	require.NoError(t, a.SetOverride(ExtRequestSession, stubProvider(stub)))
	err := a.SetOverride(ExtRequestSession, stubProvider(stub))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already overridden")

	assert.Equal(t, []ExtensionPoint{ExtRequestSession}, a.ActiveOverrides())
	a.ClearOverride(ExtRequestSession)
	assert.Empty(t, a.ActiveOverrides())

	// Clearing an absent override is a no-op, not an error.
	a.ClearOverride(ExtRequestSession)
}

func TestSwapBackgroundProviderReturnsPrevious(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	stub := &stubSession{}

	prev := a.SwapBackgroundProvider(stubProvider(stub))
	require.NotNil(t, prev)

	sess, owned, err := a.SessionFor(ctx, ExtBackgroundSession)
	require.NoError(t, err)
	assert.Same(t, stub, sess)
	assert.False(t, owned, "swapped background sessions are not caller-owned")

	a.SwapBackgroundProvider(prev)
	sess, owned, err = a.SessionFor(ctx, ExtBackgroundSession)
	require.NoError(t, err)
	defer sess.Close()
	assert.True(t, owned)
}

func TestSessionTokenRoundTrip(t *testing.T) {
	a := newTestApp(t)

	token, err := a.SignSessionToken("user-123")
	require.NoError(t, err)

	userID, err := a.parseSessionToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestSessionTokenRejectsTampering(t *testing.T) {
	a := newTestApp(t)

	token, err := a.SignSessionToken("user-123")
	require.NoError(t, err)

	tampered := token[:strings.LastIndex(token, ".")] + ".AAAA"
	_, err = a.parseSessionToken(tampered)
	require.Error(t, err)
}

func TestSessionTokenRejectsForeignSecret(t *testing.T) {
	issuer := newTestApp(t)
	verifier := newTestApp(t)
	verifier.cfg.Session.Secret = "a-completely-different-signing-secret!!"

	token, err := issuer.SignSessionToken("user-123")
	require.NoError(t, err)

	_, err = verifier.parseSessionToken(token)
	require.Error(t, err)
}
