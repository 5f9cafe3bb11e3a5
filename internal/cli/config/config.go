// Package config loads CLI settings from prepared.yml, the environment and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config represents the CLI configuration
type Config struct {
	Manifest string         `mapstructure:"manifest"`
	LogLevel string         `mapstructure:"log_level"`
	NoColor  bool           `mapstructure:"no_color"`
	Database DatabaseConfig `mapstructure:"database"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// Drivers lists the database/sql driver names the CLI can open
var Drivers = []string{"pgx", "sqlite3"}

// flagKeys maps flag names to configuration keys
var flagKeys = map[string]string{
	"manifest":     "manifest",
	"log-level":    "log_level",
	"no-color":     "no_color",
	"driver":       "database.driver",
	"database-url": "database.url",
}

// Load reads prepared.yml from dir when it exists, applies PREPARED_*
// environment variables and then any flag in flags that was set.
// DATABASE_URL is honoured when PREPARED_DATABASE_URL is unset.
func Load(dir string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("manifest", "manifest.yml")
	v.SetDefault("log_level", "warn")
	v.SetDefault("no_color", false)
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.url", "")

	v.SetConfigName("prepared")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("PREPARED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database.url", "PREPARED_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Level returns the configured log level
func (c *Config) Level() zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return zapcore.WarnLevel
	}
	return lvl
}

func validateConfig(cfg *Config) error {
	if cfg.Manifest == "" {
		return fmt.Errorf("manifest path must not be empty")
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	for _, d := range Drivers {
		if cfg.Database.Driver == d {
			return nil
		}
	}
	return fmt.Errorf("database.driver must be one of %s, got: %s", strings.Join(Drivers, ", "), cfg.Database.Driver)
}
