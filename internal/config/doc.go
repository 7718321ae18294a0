// Package config defines the chanterelle configuration schema and loads it
// from the TOML file named by the CHANTERELLE_CONFIG_FILE environment
// variable. Sections mirror the on-disk format: github, database, session,
// plugins and server. Unknown sections are ignored by the loader so that
// plugins and tests can extend the file without breaking startup.
package config
