package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/forgeutils/chanterelle/internal/config"
	"github.com/forgeutils/chanterelle/internal/store"
)

// ExtensionPoint identifies a data-access entry point that tests may
// override with a substitute session provider.
type ExtensionPoint string

const (
	// ExtRequestSession is the request-scoped session source. Every request
	// handler obtains its session through this point.
	ExtRequestSession ExtensionPoint = "session.request"

	// ExtBackgroundSession is the session source for non-request code paths
	// (background upkeep jobs).
	ExtBackgroundSession ExtensionPoint = "session.background"
)

// App is one application instance: configuration, production data-access
// wiring, and the per-instance override map.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu         sync.RWMutex
	provider   store.SessionProvider
	background store.SessionProvider
	overrides  map[ExtensionPoint]store.SessionProvider
}

// New builds an application instance whose production wiring draws sessions
// from db.
func New(cfg *config.Config, db *sql.DB, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	pooled := store.NewPoolProvider(db)
	a := &App{
		cfg:        cfg,
		logger:     logger,
		provider:   pooled,
		background: pooled,
		overrides:  make(map[ExtensionPoint]store.SessionProvider),
	}
	if n := len(cfg.Plugins.Enabled); n > 0 {
		logger.Info("plugins enabled", "count", n, "plugins", cfg.Plugins.Enabled)
	}
	return a
}

// Config returns the application's resolved configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// SessionFor resolves a session for the given extension point. owned reports
// whether the caller is responsible for closing the session: sessions from
// production wiring are owned by the caller, overridden sessions belong to
// whoever installed the override.
func (a *App) SessionFor(ctx context.Context, ep ExtensionPoint) (sess store.Session, owned bool, err error) {
	a.mu.RLock()
	override, ok := a.overrides[ep]
	background := a.background
	provider := a.provider
	a.mu.RUnlock()

	if ok {
		sess, err = override(ctx)
		return sess, false, err
	}

	switch ep {
	case ExtRequestSession:
		sess, err = provider(ctx)
	case ExtBackgroundSession:
		sess, err = background(ctx)
	default:
		return nil, false, fmt.Errorf("unknown extension point %q", ep)
	}
	return sess, true, err
}

// SetOverride installs a substitute provider for an extension point. At most
// one override may be active per point; installing a second is an error.
func (a *App) SetOverride(ep ExtensionPoint, p store.SessionProvider) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.overrides[ep]; exists {
		return fmt.Errorf("extension point %q already overridden", ep)
	}
	a.overrides[ep] = p
	return nil
}

// ClearOverride removes the override for an extension point, restoring
// production wiring. Clearing an absent override is a no-op.
func (a *App) ClearOverride(ep ExtensionPoint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.overrides, ep)
}

// ActiveOverrides returns the extension points that currently have an
// override installed.
func (a *App) ActiveOverrides() []ExtensionPoint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ExtensionPoint, 0, len(a.overrides))
	for ep := range a.overrides {
		out = append(out, ep)
	}
	return out
}

// SwapBackgroundProvider replaces the non-request session provider, returning
// the previous one so the caller can restore it.
func (a *App) SwapBackgroundProvider(p store.SessionProvider) store.SessionProvider {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.background
	a.background = p
	return prev
}

// RefreshChannelCounts is the background upkeep job: it recomputes the cached
// package_count column on every channel. It acquires its session through
// ExtBackgroundSession, never through request wiring.
func (a *App) RefreshChannelCounts(ctx context.Context) error {
	sess, owned, err := a.SessionFor(ctx, ExtBackgroundSession)
	if err != nil {
		return fmt.Errorf("acquire background session: %w", err)
	}
	if owned {
		defer func() {
			if cerr := sess.Close(); cerr != nil {
				a.logger.Warn("closing background session", "error", cerr)
			}
		}()
	}
	if err := store.NewDao(sess).RefreshPackageCounts(ctx); err != nil {
		return fmt.Errorf("refresh channel counts: %w", err)
	}
	return nil
}

type ctxKey int

const sessionKey ctxKey = 0

// withSession is middleware that resolves a request-scoped session through
// ExtRequestSession and stores it in the request context. Sessions owned by
// the app are closed when the request completes.
func (a *App) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, owned, err := a.SessionFor(r.Context(), ExtRequestSession)
		if err != nil {
			a.logger.Error("acquiring request session", "error", err)
			respondError(w, http.StatusInternalServerError, "database unavailable")
			return
		}
		if owned {
			defer func() {
				if cerr := sess.Close(); cerr != nil {
					a.logger.Warn("closing request session", "error", cerr)
				}
			}()
		}
		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFromContext returns the request-scoped session installed by
// withSession, or nil outside a request.
func SessionFromContext(ctx context.Context) store.Session {
	sess, _ := ctx.Value(sessionKey).(store.Session)
	return sess
}

func daoFromContext(ctx context.Context) *store.Dao {
	return store.NewDao(SessionFromContext(ctx))
}
