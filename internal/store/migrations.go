package store

import "embed"

// MigrationsFS embeds the goose migration scripts. The production path
// (cmd/server) replays them with goose against a pooled connection; the test
// harness replays the same scripts inside its sandbox transaction.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

// MigrationsDir is the directory inside MigrationsFS holding the scripts.
const MigrationsDir = "migrations"
