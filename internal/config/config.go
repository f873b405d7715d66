// Package config loads the daemon configuration from a yaml file with
// environment overrides for the settings that differ per deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crosspost-dev/crosspost/internal/store"
)

// PlatformConfig declares one configured destination. Type selects the
// adapter implementation; Settings carry its endpoint and credentials.
type PlatformConfig struct {
	ID       string            `yaml:"id"`
	Type     string            `yaml:"type"`
	Settings map[string]string `yaml:"settings"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string            `yaml:"backend"`
	Redis   store.RedisConfig `yaml:"redis"`
}

// PostgresConfig configures the optional sync-history archive. An empty
// DSN disables it.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// SyncConfig tunes the dispatch orchestrator.
type SyncConfig struct {
	WindowSize     int           `yaml:"window_size"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// Config is the daemon configuration.
type Config struct {
	// Listen is the HTTP bind address for /ws, /healthz and /metrics.
	Listen string `yaml:"listen"`

	// Token authenticates control-channel requests. The control channel
	// fails closed: while the token is empty every request is rejected.
	Token string `yaml:"token"`

	LogLevel  string           `yaml:"log_level"`
	Store     StoreConfig      `yaml:"store"`
	Postgres  PostgresConfig   `yaml:"postgres"`
	Sync      SyncConfig       `yaml:"sync"`
	Platforms []PlatformConfig `yaml:"platforms"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Listen:   ":8090",
		LogLevel: "info",
		Store:    StoreConfig{Backend: "memory"},
	}
}

// Load reads the configuration from path, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CROSSPOST_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("CROSSPOST_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("CROSSPOST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CROSSPOST_REDIS_ADDR"); v != "" {
		cfg.Store.Backend = "redis"
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("CROSSPOST_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store backend redis requires an address")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	seen := make(map[string]bool, len(c.Platforms))
	for _, p := range c.Platforms {
		if p.ID == "" {
			return fmt.Errorf("platform with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate platform id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Type == "" {
			return fmt.Errorf("platform %s: type is required", p.ID)
		}
	}
	return nil
}
