package config

// EnvConfigFile is the process-wide environment variable naming the absolute
// path of the configuration file. The application reads it at startup; the
// test harness points it at a synthesized per-test config.
const EnvConfigFile = "CHANTERELLE_CONFIG_FILE"

// Config holds all application configuration, grouped by file section.
type Config struct {
	GitHub   GitHubConfig   `mapstructure:"github"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Session  SessionConfig  `mapstructure:"session" validate:"required"`
	Plugins  PluginsConfig  `mapstructure:"plugins"`
	Server   ServerConfig   `mapstructure:"server"`
}

// GitHubConfig holds the OAuth application credentials.
type GitHubConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// DatabaseConfig holds the database connection settings.
type DatabaseConfig struct {
	URL string `mapstructure:"database_url" validate:"required"`
}

// SessionConfig holds the session-cookie settings.
type SessionConfig struct {
	Secret    string `mapstructure:"secret" validate:"required,min=32"`
	HTTPSOnly bool   `mapstructure:"https_only"`
}

// PluginsConfig lists the enabled plugin identifiers, in order.
type PluginsConfig struct {
	Enabled []string `mapstructure:"enabled"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}
