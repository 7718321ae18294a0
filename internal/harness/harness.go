package harness

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"

	"github.com/forgeutils/chanterelle/internal/app"
	"github.com/forgeutils/chanterelle/internal/config"
	"github.com/forgeutils/chanterelle/internal/platform/logger"
	"github.com/forgeutils/chanterelle/internal/store"
)

// EnvTestDatabase names the environment variable that points tests at an
// external database. When unset, tests run against a process-local shared
// in-memory sqlite database.
const EnvTestDatabase = "CHANTERELLE_TEST_DATABASE"

const defaultDatabaseURL = "sqlite://file:chanterelle?mode=memory&cache=shared"

// DefaultDatabaseURL resolves the connection URL for tests.
func DefaultDatabaseURL() string {
	if url := os.Getenv(EnvTestDatabase); url != "" {
		return url
	}
	return defaultDatabaseURL
}

// Options configures one harness instance.
type Options struct {
	UseMigrations   bool
	MigrationTarget string
	DatabaseURL     string
	Plugins         []string
	ConfigFragments []string
	DataDir         string
	Logger          *slog.Logger
}

// Option mutates harness Options.
type Option func(*Options)

// WithMigrations provisions the schema by replaying the migration chain to
// head instead of creating tables from model metadata.
func WithMigrations() Option {
	return func(o *Options) { o.UseMigrations = true }
}

// WithMigrationTarget replays migrations only up to the named revision.
// Implies WithMigrations.
func WithMigrationTarget(revision string) Option {
	return func(o *Options) {
		o.UseMigrations = true
		o.MigrationTarget = revision
	}
}

// WithDatabaseURL pins the database connection URL, bypassing environment
// resolution.
func WithDatabaseURL(url string) Option {
	return func(o *Options) { o.DatabaseURL = url }
}

// WithPlugins enables the given plugin identifiers in the synthesized
// configuration.
func WithPlugins(plugins ...string) Option {
	return func(o *Options) { o.Plugins = plugins }
}

// WithConfigExtra appends a TOML fragment merged over the config template.
func WithConfigExtra(fragment string) Option {
	return func(o *Options) { o.ConfigFragments = append(o.ConfigFragments, fragment) }
}

// WithDataDir copies the regular files in dir into the scratch directory,
// next to the synthesized config.
func WithDataDir(dir string) Option {
	return func(o *Options) { o.DataDir = dir }
}

// WithLogger routes harness logging somewhere visible. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Fixture names in the default graph.
const (
	FixtureDatabaseURL = "database_url"
	FixtureConfigEnv   = "config_env"
	FixtureConfig      = "config"
	FixtureEngine      = "engine"
	FixtureSandbox     = "sandbox"
	FixtureSession     = "db"
	FixtureDao         = "dao"
	FixtureApp         = "app"
	FixtureClient      = "client"
)

// defaultRunCache backs run-scoped fixtures of the default graph for the
// lifetime of the test process.
var defaultRunCache = make(map[string]any)

// DefaultRegistry builds the standard fixture graph:
//
//	database_url -> config_env -> config -> engine -> sandbox -> db -> dao -> client
//	                                                              \-> app --/
func DefaultRegistry(o Options) *Registry {
	r := NewRegistry()
	r.runCache = defaultRunCache

	urlNode := Node{
		Name:  FixtureDatabaseURL,
		Scope: ScopeRun,
		Build: func(c *Context) (any, Teardown, error) {
			return DefaultDatabaseURL(), nil, nil
		},
	}
	if o.DatabaseURL != "" {
		url := o.DatabaseURL
		urlNode.Scope = ScopeTest
		urlNode.Build = func(c *Context) (any, Teardown, error) {
			return url, nil, nil
		}
	}
	r.MustRegister(urlNode)

	r.MustRegister(Node{
		Name: FixtureConfigEnv,
		Deps: []string{FixtureDatabaseURL},
		Build: func(c *Context) (any, Teardown, error) {
			env, err := SynthesizeConfig(ConfigSpec{
				Template:  DefaultTemplate(Get[string](c, FixtureDatabaseURL), o.Plugins),
				Fragments: o.ConfigFragments,
				DataDir:   o.DataDir,
			})
			if err != nil {
				return nil, nil, err
			}
			return env, env.Restore, nil
		},
	})

	r.MustRegister(Node{
		Name: FixtureConfig,
		Deps: []string{FixtureConfigEnv},
		Build: func(c *Context) (any, Teardown, error) {
			cfg, err := config.Load()
			return cfg, nil, err
		},
	})

	r.MustRegister(Node{
		Name: FixtureEngine,
		Deps: []string{FixtureConfig},
		Build: func(c *Context) (any, Teardown, error) {
			db, err := store.Open(Get[*config.Config](c, FixtureConfig).Database.URL)
			if err != nil {
				return nil, nil, err
			}
			return db, db.Close, nil
		},
	})

	r.MustRegister(Node{
		Name: FixtureSandbox,
		Deps: []string{FixtureEngine},
		Build: func(c *Context) (any, Teardown, error) {
			sb, err := Open(c.Ctx, Get[*sql.DB](c, FixtureEngine), c.Logger)
			if err != nil {
				return nil, nil, err
			}
			opts := ProvisionOptions{UseMigrations: o.UseMigrations, Migrations: DefaultMigrationConfig()}
			if o.MigrationTarget != "" {
				opts.Migrations.Target = o.MigrationTarget
			}
			if err := NewProvisioner(c.Logger).Provision(c.Ctx, sb.Conn(), opts); err != nil {
				_ = sb.Close(c.Ctx)
				return nil, nil, err
			}
			return sb, func() error { return sb.Close(c.Ctx) }, nil
		},
	})

	r.MustRegister(Node{
		Name: FixtureSession,
		Deps: []string{FixtureSandbox},
		Build: func(c *Context) (any, Teardown, error) {
			sess := Get[*Sandbox](c, FixtureSandbox).NewSession()
			return sess, sess.Close, nil
		},
	})

	r.MustRegister(Node{
		Name: FixtureDao,
		Deps: []string{FixtureSession},
		Build: func(c *Context) (any, Teardown, error) {
			return store.NewDao(Get[store.Session](c, FixtureSession)), nil, nil
		},
	})

	r.MustRegister(Node{
		Name: FixtureApp,
		Deps: []string{FixtureConfig, FixtureEngine, FixtureSession},
		Build: func(c *Context) (any, Teardown, error) {
			a := app.New(
				Get[*config.Config](c, FixtureConfig),
				Get[*sql.DB](c, FixtureEngine),
				c.Logger,
			)
			bridge, err := InstallOverrides(a, Get[store.Session](c, FixtureSession))
			if err != nil {
				return nil, nil, err
			}
			return a, bridge.Revert, nil
		},
	})

	// The client is the graph's leaf; depending on the dao as well keeps the
	// whole harness surface in the resolved ancestor set.
	r.MustRegister(Node{
		Name: FixtureClient,
		Deps: []string{FixtureApp, FixtureDao},
		Build: func(c *Context) (any, Teardown, error) {
			client, err := NewClient(Get[*app.App](c, FixtureApp).Router())
			if err != nil {
				return nil, nil, err
			}
			return client, func() error { client.Close(); return nil }, nil
		},
	})

	return r
}

// Harness is the ready-to-use test surface: a sandboxed session, a Dao over
// it, and an HTTP client bound to an application instance whose data access
// is spliced into the sandbox. Teardown is registered on tb and runs in
// reverse construction order on every exit path.
type Harness struct {
	Cfg     *config.Config
	Env     *EnvContext
	Engine  *sql.DB
	Sandbox *Sandbox
	Session store.Session
	Dao     *store.Dao
	App     *app.App
	Client  *Client

	fx *Context
}

// New resolves the default fixture graph for tb and returns the harness.
// Setup failure fails the test immediately.
func New(tb testing.TB, opts ...Option) *Harness {
	tb.Helper()

	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.Logger
	if log == nil {
		log = logger.Discard()
	}

	fx, err := DefaultRegistry(o).Resolve(context.Background(), FixtureClient, log)
	if err != nil {
		tb.Fatalf("harness setup: %v", err)
	}

	h := &Harness{
		Cfg:     Get[*config.Config](fx, FixtureConfig),
		Env:     Get[*EnvContext](fx, FixtureConfigEnv),
		Engine:  Get[*sql.DB](fx, FixtureEngine),
		Sandbox: Get[*Sandbox](fx, FixtureSandbox),
		Session: Get[store.Session](fx, FixtureSession),
		Dao:     Get[*store.Dao](fx, FixtureDao),
		App:     Get[*app.App](fx, FixtureApp),
		Client:  Get[*Client](fx, FixtureClient),
		fx:      fx,
	}

	tb.Cleanup(func() {
		if err := h.fx.Close(); err != nil {
			tb.Errorf("harness teardown: %v", err)
		}
		if err := CheckOverrideLeak(h.App); err != nil {
			tb.Errorf("harness teardown: %v", err)
		}
	})
	return h
}

// Fixtures exposes the underlying fixture context for tests that need a
// value outside the standard surface.
func (h *Harness) Fixtures() *Context {
	return h.fx
}
