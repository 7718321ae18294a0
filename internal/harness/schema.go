package harness

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/forgeutils/chanterelle/internal/store"
)

// MigrationTarget names the newest revision in the migration chain.
const MigrationTarget = "head"

// MigrationConfig binds the migration replay to an execution context: the
// script location and the target revision. The connection it runs against is
// supplied by the caller, already inside the sandbox transaction, so the
// replayed migrations roll back with the test.
type MigrationConfig struct {
	FS     fs.FS
	Dir    string
	Target string
}

// DefaultMigrationConfig replays the application's embedded migration chain
// to head.
func DefaultMigrationConfig() MigrationConfig {
	return MigrationConfig{
		FS:     store.MigrationsFS,
		Dir:    store.MigrationsDir,
		Target: MigrationTarget,
	}
}

// ProvisionOptions selects which schema path a test exercises: what the
// models currently declare, or what migrations actually produce.
type ProvisionOptions struct {
	UseMigrations bool
	Migrations    MigrationConfig
}

// Provisioner brings a connection's schema to a known-good state.
type Provisioner struct {
	logger *slog.Logger
}

// NewProvisioner returns a schema provisioner logging through logger.
func NewProvisioner(logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{logger: logger}
}

// Provision creates the schema on db. With migrations disabled it creates
// every declared model table directly; otherwise it replays the migration
// chain in strict version order up to the configured target.
func (p *Provisioner) Provision(ctx context.Context, db store.DBTX, opts ProvisionOptions) error {
	if !opts.UseMigrations {
		if err := store.CreateAll(ctx, db); err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaCreation, err)
		}
		p.logger.Debug("schema created from model metadata")
		return nil
	}

	cfg := opts.Migrations
	if cfg.FS == nil {
		cfg = DefaultMigrationConfig()
	}
	if cfg.Target == "" {
		cfg.Target = MigrationTarget
	}
	return p.replay(ctx, db, cfg)
}

// replay applies pending migration scripts on db, recording each applied
// version so no step ever runs twice.
func (p *Provisioner) replay(ctx context.Context, db store.DBTX, cfg MigrationConfig) error {
	scripts, err := scanMigrations(cfg.FS, cfg.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigration, err)
	}
	if len(scripts) == 0 {
		return fmt.Errorf("%w: no migration scripts in %s", ErrMigration, cfg.Dir)
	}

	target, err := resolveTarget(cfg.Target, scripts)
	if err != nil {
		return err
	}

	if err := ensureVersionTable(ctx, db); err != nil {
		return fmt.Errorf("%w: version table: %v", ErrMigration, err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("%w: read applied versions: %v", ErrMigration, err)
	}

	for _, script := range scripts {
		if script.version > target {
			break
		}
		if applied[script.version] {
			continue
		}
		for _, stmt := range script.up {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrMigration, script.name, err)
			}
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO goose_db_version (version_id, is_applied, tstamp) VALUES ($1, $2, $3)`,
			script.version, true, time.Now().UTC()); err != nil {
			return fmt.Errorf("%w: record %s: %w", ErrMigration, script.name, err)
		}
		p.logger.Debug("applied migration", "script", script.name)
	}
	return nil
}

func resolveTarget(target string, scripts []migrationScript) (int64, error) {
	if target == MigrationTarget {
		return scripts[len(scripts)-1].version, nil
	}
	v, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad target revision %q", ErrMigration, target)
	}
	for _, s := range scripts {
		if s.version == v {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: target revision %q not in migration chain", ErrMigration, target)
}

// ensureVersionTable creates migration bookkeeping compatible with the
// production migration tool, so an already-migrated database is respected.
func ensureVersionTable(ctx context.Context, db store.DBTX) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS goose_db_version (
		version_id BIGINT NOT NULL,
		is_applied BOOLEAN NOT NULL,
		tstamp TIMESTAMP
	)`)
	return err
}

func appliedVersions(ctx context.Context, db store.DBTX) (map[int64]bool, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT version_id FROM goose_db_version WHERE is_applied = $1`, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

type migrationScript struct {
	version int64
	name    string
	up      []string
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_[a-zA-Z0-9_-]+\.sql$`)

// scanMigrations reads goose-format scripts from fsys/dir and returns them
// sorted ascending by version. Duplicate versions are an error.
func scanMigrations(fsys fs.FS, dir string) ([]migrationScript, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migration directory %s: %w", dir, err)
	}

	seen := make(map[int64]string)
	var scripts []migrationScript
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		m := migrationFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, fmt.Errorf("migration %s does not match {version}_{name}.sql", entry.Name())
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version: %w", entry.Name(), err)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d (%s and %s)", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		raw, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		up, err := parseUpStatements(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parse migration %s: %w", entry.Name(), err)
		}
		scripts = append(scripts, migrationScript{version: version, name: entry.Name(), up: up})
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })
	return scripts, nil
}

// parseUpStatements extracts the statements of a script's "-- +goose Up"
// section. Statements end at a line-terminating semicolon, except inside a
// StatementBegin/StatementEnd block, which is taken whole.
func parseUpStatements(script string) ([]string, error) {
	var (
		statements []string
		buf        strings.Builder
		inUp       bool
		inBlock    bool
	)

	flush := func() {
		stmt := strings.TrimSpace(buf.String())
		buf.Reset()
		if stmt != "" {
			statements = append(statements, strings.TrimSuffix(stmt, ";"))
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(script))
	scanner.Buffer(make([]byte, 1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "-- +goose ") {
			switch strings.TrimPrefix(trimmed, "-- +goose ") {
			case "Up":
				inUp = true
			case "Down":
				if inBlock {
					return nil, fmt.Errorf("unterminated StatementBegin block")
				}
				inUp = false
			case "StatementBegin":
				inBlock = true
			case "StatementEnd":
				inBlock = false
				if inUp {
					flush()
				}
			}
			continue
		}
		if !inUp || (trimmed == "" && buf.Len() == 0) || strings.HasPrefix(trimmed, "--") {
			continue
		}

		buf.WriteString(line)
		buf.WriteString("\n")
		if !inBlock && strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if inBlock {
		return nil, fmt.Errorf("unterminated StatementBegin block")
	}
	flush()
	return statements, nil
}
