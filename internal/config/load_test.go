package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTOML = `
[github]
client_id = "aaa"
client_secret = "bbb"

[database]
database_url = "sqlite://file:test?mode=memory&cache=shared"

[session]
secret = "eWrkA6xpa7LTSSYUwZEEVoOU62501Ucf9lmLcgzTj1I="
https_only = false

[plugins]
enabled = ["quota"]
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, validTOML))
	require.NoError(t, err)

	assert.Equal(t, "aaa", cfg.GitHub.ClientID)
	assert.Equal(t, "sqlite://file:test?mode=memory&cache=shared", cfg.Database.URL)
	assert.False(t, cfg.Session.HTTPSOnly)
	assert.Equal(t, []string{"quota"}, cfg.Plugins.Enabled)
}

func TestLoadFileAppliesServerDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, validTOML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
}

func TestLoadFileExplicitServerSection(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, validTOML+"\n[server]\nport = 9000\nlog_level = \"debug\"\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoadFileRejectsMissingDatabaseURL(t *testing.T) {
	const toml = `
[database]
database_url = ""

[session]
secret = "eWrkA6xpa7LTSSYUwZEEVoOU62501Ucf9lmLcgzTj1I="
`
	_, err := LoadFile(writeConfig(t, toml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoadFileRejectsShortSessionSecret(t *testing.T) {
	const toml = `
[database]
database_url = "sqlite://file:test?mode=memory"

[session]
secret = "too-short"
`
	_, err := LoadFile(writeConfig(t, toml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoadFileMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadHonorsEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, validTOML)
	t.Setenv(EnvConfigFile, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "aaa", cfg.GitHub.ClientID)
}

func TestLoadFallsBackToWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(validTOML), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv(EnvConfigFile, "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "aaa", cfg.GitHub.ClientID)
}
