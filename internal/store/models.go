package store

import (
	"context"
	"fmt"
	"time"
)

// Model describes one declaratively-defined table: its name and the DDL that
// materializes it. The DDL is portable across the supported dialects
// (sqlite and postgres), so direct creation and migration replay converge to
// the same schema.
type Model struct {
	Name string
	DDL  string
}

// Models returns the full declarative model set in creation order
// (referenced tables first).
func Models() []Model {
	return []Model{
		{
			Name: "users",
			DDL: `CREATE TABLE users (
				id TEXT PRIMARY KEY,
				github_login TEXT NOT NULL UNIQUE,
				display_name TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL
			)`,
		},
		{
			Name: "channels",
			DDL: `CREATE TABLE channels (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				private BOOLEAN NOT NULL DEFAULT FALSE,
				package_count BIGINT NOT NULL DEFAULT 0,
				owner_id TEXT REFERENCES users(id),
				created_at TIMESTAMP NOT NULL
			)`,
		},
		{
			Name: "packages",
			DDL: `CREATE TABLE packages (
				id TEXT PRIMARY KEY,
				channel_id TEXT NOT NULL REFERENCES channels(id),
				name TEXT NOT NULL,
				version TEXT NOT NULL,
				platform TEXT NOT NULL DEFAULT 'noarch',
				uploaded_at TIMESTAMP NOT NULL,
				UNIQUE (channel_id, name, version, platform)
			)`,
		},
	}
}

// CreateAll creates every declared table directly against db. It succeeds
// regardless of whether any migration history exists.
func CreateAll(ctx context.Context, db DBTX) error {
	for _, m := range Models() {
		if _, err := db.ExecContext(ctx, m.DDL); err != nil {
			return fmt.Errorf("create table %s: %w", m.Name, err)
		}
	}
	return nil
}

// DropAll removes every declared table plus the migration bookkeeping table,
// in reverse creation order so foreign keys do not get in the way.
func DropAll(ctx context.Context, db DBTX) error {
	models := Models()
	for i := len(models) - 1; i >= 0; i-- {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+models[i].Name); err != nil {
			return fmt.Errorf("drop table %s: %w", models[i].Name, err)
		}
	}
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS goose_db_version"); err != nil {
		return fmt.Errorf("drop migration history: %w", err)
	}
	return nil
}

// User is a registered account, identified by its GitHub login.
type User struct {
	ID          string
	GitHubLogin string
	DisplayName string
	CreatedAt   time.Time
}

// Channel is a named package channel.
type Channel struct {
	ID           string
	Name         string
	Description  string
	Private      bool
	PackageCount int64
	OwnerID      string
	CreatedAt    time.Time
}

// Package is one uploaded package version within a channel.
type Package struct {
	ID         string
	ChannelID  string
	Name       string
	Version    string
	Platform   string
	UploadedAt time.Time
}
