// Package config loads relmap configuration from an optional YAML file and
// environment variables. Environment variables override YAML values.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration.
type Config struct {
	Env      string `yaml:"env" env:"APP_ENV" env-default:"development"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	Database DatabaseConfig `yaml:"database"`
	Metadata MetadataConfig `yaml:"metadata"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL              string        `yaml:"url" env:"DATABASE_URL" env-default:""`
	MaxConns         int32         `yaml:"max_conns" env:"DATABASE_MAX_CONNS" env-default:"25"`
	MinConns         int32         `yaml:"min_conns" env:"DATABASE_MIN_CONNS" env-default:"2"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime" env:"DATABASE_MAX_CONN_LIFETIME" env-default:"1h"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"DATABASE_STATEMENT_TIMEOUT" env-default:"30s"`
}

// MetadataConfig controls the foreign-key metadata cache.
type MetadataConfig struct {
	// CacheDir holds the on-disk cache files. Empty keeps the cache in memory only.
	CacheDir string `yaml:"cache_dir" env:"RELMAP_METADATA_CACHE_DIR" env-default:""`

	// NoCache recomputes foreign-key metadata on every lookup.
	NoCache bool `yaml:"no_cache" env:"RELMAP_NO_CACHE" env-default:"false"`

	// InvalidationChannel is the NOTIFY channel that resets the cache.
	InvalidationChannel string `yaml:"invalidation_channel" env:"RELMAP_INVALIDATION_CHANNEL" env-default:"relmap_schema_changed"`
}

// IsDevelopment reports whether the development profile is active.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Load reads path (if non-empty) and then the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return &cfg, nil
}
