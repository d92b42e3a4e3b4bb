// Package ubiqconfig loads the client's deployment configuration: which
// environment it's running in, logging/metrics knobs, and the cache/session
// defaults that aren't part of per-call credentials.
package ubiqconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level deployment configuration.
type Config struct {
	Environment string        `yaml:"environment"`
	Logging     LoggingConfig `yaml:"logging"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Session     SessionConfig `yaml:"session"`
}

// LoggingConfig controls the internal/logging.JSONLogger's verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig controls whether/where the Prometheus registry is served.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// SessionConfig carries session defaults read from the config file.
// session.Create and the decrypt package's unwrap cache do not read it:
// Create takes its uses count as an argument, and the unwrap-cache TTL is a
// constant in the decrypt package.
type SessionConfig struct {
	DefaultUses      int           `yaml:"default_uses"`
	UnwrapCacheTTL   time.Duration `yaml:"unwrap_cache_ttl"`
}

// defaults fills in anything the file left zero-valued.
func defaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Session.DefaultUses == 0 {
		cfg.Session.DefaultUses = 1
	}
	if cfg.Session.UnwrapCacheTTL == 0 {
		cfg.Session.UnwrapCacheTTL = time.Hour
	}
}

// LoadFromFile reads and parses a YAML config file, applying defaults and
// ${VAR}-style environment substitution (see env.go).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	substituteEnvVars(cfg)
	defaults(cfg)
	return cfg, nil
}
