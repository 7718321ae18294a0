package harness

import (
	"context"
	"fmt"

	"github.com/forgeutils/chanterelle/internal/app"
	"github.com/forgeutils/chanterelle/internal/store"
)

// Bridge redirects a live application instance's data-access entry points to
// one sandboxed session for the lifetime of a test, and puts production
// wiring back at teardown.
type Bridge struct {
	app            *app.App
	installed      bool
	prevBackground store.SessionProvider
}

// InstallOverrides registers the sandboxed session on both extension points:
// the request-scoped point goes through the application's override map, the
// non-request accessor is swapped directly. Exactly one override per point
// may be active; installing over an existing override is an error.
func InstallOverrides(a *app.App, session store.Session) (*Bridge, error) {
	fixed := func(ctx context.Context) (store.Session, error) {
		return session, nil
	}

	if err := a.SetOverride(app.ExtRequestSession, fixed); err != nil {
		return nil, fmt.Errorf("install request-session override: %w", err)
	}

	b := &Bridge{
		app:            a,
		installed:      true,
		prevBackground: a.SwapBackgroundProvider(fixed),
	}
	return b, nil
}

// Revert removes the request-session override and restores the previous
// background provider. Idempotent: install once, use many times, revert once.
func (b *Bridge) Revert() error {
	if !b.installed {
		return nil
	}
	b.installed = false
	b.app.ClearOverride(app.ExtRequestSession)
	b.app.SwapBackgroundProvider(b.prevBackground)
	return nil
}

// CheckOverrideLeak verifies that no override survived teardown. A non-nil
// result is a programming error in the harness itself.
func CheckOverrideLeak(a *app.App) error {
	if active := a.ActiveOverrides(); len(active) > 0 {
		return fmt.Errorf("%w: still active: %v", ErrOverrideLeak, active)
	}
	return nil
}
