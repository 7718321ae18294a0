package harness

import (
	"context"
	"fmt"
	"testing"
	"testing/fstest"
	"time"

	"github.com/forgeutils/chanterelle/internal/platform/logger"
	"github.com/forgeutils/chanterelle/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func provisionedSandbox(t *testing.T, opts ProvisionOptions) *Sandbox {
	t.Helper()
	ctx := context.Background()
	url := fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", t.Name())
	db, err := store.Open(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sb, err := Open(ctx, db, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sb.Close(ctx) })

	require.NoError(t, NewProvisioner(logger.Discard()).Provision(ctx, sb.Conn(), opts))
	return sb
}

// exerciseSchema runs the representative insert/query set both provisioning
// paths must support identically.
func exerciseSchema(t *testing.T, dao *store.Dao) {
	t.Helper()
	ctx := context.Background()

	user, err := dao.CreateUser(ctx, "wolfv", "Wolf V.")
	require.NoError(t, err)

	ch, err := dao.CreateChannel(ctx, "bioconda", "bioinformatics packages", true, user.ID)
	require.NoError(t, err)
	assert.True(t, ch.Private)

	_, err = dao.CreatePackage(ctx, "bioconda", "samtools", "1.19", "linux-64")
	require.NoError(t, err)
	_, err = dao.CreatePackage(ctx, "bioconda", "samtools", "1.19", "osx-arm64")
	require.NoError(t, err)

	require.NoError(t, dao.RefreshPackageCounts(ctx))

	got, err := dao.GetChannel(ctx, "bioconda")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.PackageCount)
	assert.Equal(t, user.ID, got.OwnerID)

	pkgs, err := dao.ListPackages(ctx, "bioconda")
	require.NoError(t, err)
	assert.Len(t, pkgs, 2)
}

func TestDirectAndMigratedSchemasBehaveIdentically(t *testing.T) {
	tests := []struct {
		name string
		opts ProvisionOptions
	}{
		{name: "direct model creation", opts: ProvisionOptions{}},
		{name: "migration replay to head", opts: ProvisionOptions{UseMigrations: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			url := fmt.Sprintf("sqlite://file:parity_%d?mode=memory&cache=shared", time.Now().UnixNano())
			db, err := store.Open(url)
			require.NoError(t, err)
			defer db.Close()

			sb, err := Open(ctx, db, logger.Discard())
			require.NoError(t, err)
			defer sb.Close(ctx)

			require.NoError(t, NewProvisioner(logger.Discard()).Provision(ctx, sb.Conn(), tc.opts))
			exerciseSchema(t, store.NewDao(sb.NewSession()))
		})
	}
}

func TestReplayNeverAppliesAStepTwice(t *testing.T) {
	ctx := context.Background()
	sb := provisionedSandbox(t, ProvisionOptions{UseMigrations: true})

	// A second replay over the same connection sees the recorded versions
	// and does nothing; re-running DDL would fail loudly.
	err := NewProvisioner(logger.Discard()).Provision(ctx, sb.Conn(), ProvisionOptions{UseMigrations: true})
	require.NoError(t, err)

	sess := sb.NewSession()
	var applied int
	require.NoError(t, sess.
		QueryRowContext(ctx, `SELECT COUNT(*) FROM goose_db_version WHERE is_applied = $1`, true).
		Scan(&applied))
	assert.Equal(t, 4, applied)
	assert.Contains(t, columnNames(t, sess, "channels"), "package_count",
		"head replay includes revision 4")
}

func TestReplayStopsAtTargetRevision(t *testing.T) {
	ctx := context.Background()
	opts := ProvisionOptions{
		UseMigrations: true,
		Migrations: MigrationConfig{
			FS:     store.MigrationsFS,
			Dir:    store.MigrationsDir,
			Target: "3",
		},
	}
	sb := provisionedSandbox(t, opts)
	sess := sb.NewSession()

	// Tables from revisions 1-3 exist...
	var n int
	require.NoError(t, sess.QueryRowContext(ctx, `SELECT COUNT(*) FROM packages`).Scan(&n))
	assert.Zero(t, n)

	// ...but revision 4's column does not.
	cols := columnNames(t, sess, "channels")
	assert.Contains(t, cols, "name")
	assert.NotContains(t, cols, "package_count", "replay must stop before revision 4")
}

// columnNames lists a table's columns through sqlite's schema pragma.
func columnNames(t *testing.T, sess store.Session, table string) []string {
	t.Helper()
	rows, err := sess.QueryContext(context.Background(), fmt.Sprintf("PRAGMA table_info(%s)", table))
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             any
		)
		require.NoError(t, rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestReplayFailsFastWithFailingScriptNamed(t *testing.T) {
	ctx := context.Background()
	broken := fstest.MapFS{
		"migrations/0001_ok.sql": &fstest.MapFile{Data: []byte(
			"-- +goose Up\nCREATE TABLE fine (id TEXT PRIMARY KEY);\n")},
		"migrations/0002_broken.sql": &fstest.MapFile{Data: []byte(
			"-- +goose Up\nCREATE BROKEN SYNTAX;\n")},
		"migrations/0003_never_reached.sql": &fstest.MapFile{Data: []byte(
			"-- +goose Up\nCREATE TABLE unreachable (id TEXT PRIMARY KEY);\n")},
	}

	url := fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", t.Name())
	db, err := store.Open(url)
	require.NoError(t, err)
	defer db.Close()

	sb, err := Open(ctx, db, logger.Discard())
	require.NoError(t, err)
	defer sb.Close(ctx)

	err = NewProvisioner(logger.Discard()).Provision(ctx, sb.Conn(), ProvisionOptions{
		UseMigrations: true,
		Migrations:    MigrationConfig{FS: broken, Dir: "migrations", Target: MigrationTarget},
	})
	require.ErrorIs(t, err, ErrMigration)
	assert.Contains(t, err.Error(), "0002_broken.sql", "failing revision must be identified")

	// Fail fast: the step after the failure never ran.
	var n int
	scanErr := sb.NewSession().QueryRowContext(ctx, `SELECT COUNT(*) FROM unreachable`).Scan(&n)
	require.Error(t, scanErr)
}

func TestReplayRejectsUnknownTarget(t *testing.T) {
	ctx := context.Background()
	url := fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", t.Name())
	db, err := store.Open(url)
	require.NoError(t, err)
	defer db.Close()

	sb, err := Open(ctx, db, logger.Discard())
	require.NoError(t, err)
	defer sb.Close(ctx)

	err = NewProvisioner(logger.Discard()).Provision(ctx, sb.Conn(), ProvisionOptions{
		UseMigrations: true,
		Migrations: MigrationConfig{
			FS:     store.MigrationsFS,
			Dir:    store.MigrationsDir,
			Target: "99",
		},
	})
	require.ErrorIs(t, err, ErrMigration)
	assert.Contains(t, err.Error(), `"99"`)
}

func TestParseUpStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   int
	}{
		{
			name:   "single statement",
			script: "-- +goose Up\nCREATE TABLE a (id TEXT);\n-- +goose Down\nDROP TABLE a;\n",
			want:   1,
		},
		{
			name:   "multiple statements with comments",
			script: "-- +goose Up\n-- creates both tables\nCREATE TABLE a (id TEXT);\n\nCREATE TABLE b (id TEXT);\n",
			want:   2,
		},
		{
			name: "statement block taken whole",
			script: "-- +goose Up\n-- +goose StatementBegin\nCREATE TRIGGER trg BEGIN\n" +
				"SELECT 1;\nEND;\n-- +goose StatementEnd\n",
			want: 1,
		},
		{
			name:   "down section ignored",
			script: "-- +goose Up\nCREATE TABLE a (id TEXT);\n-- +goose Down\nDROP TABLE a;\nDROP TABLE b;\n",
			want:   1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stmts, err := parseUpStatements(tc.script)
			require.NoError(t, err)
			assert.Len(t, stmts, tc.want)
		})
	}
}
