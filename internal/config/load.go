package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads the configuration file named by the CHANTERELLE_CONFIG_FILE
// environment variable, falling back to ./config.toml in the current working
// directory. Returns a validated Config or an error describing what failed.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		path = "config.toml"
	}
	return LoadFile(path)
}

// LoadFile reads and validates the configuration file at path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}
