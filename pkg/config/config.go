// Package config loads journal settings from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings of the journal command.
type Config struct {
	// StoreURL selects the backend: memory:, sqlite:..., postgres://... or redis://...
	StoreURL       string `env:"JOURNAL_STORE_URL"        envDefault:"memory:"`
	PersistenceID  string `env:"JOURNAL_PERSISTENCE_ID"   envDefault:"sample-id-1"`
	SnapshotEvery  int    `env:"JOURNAL_SNAPSHOT_EVERY"   envDefault:"0"`
	ReplayPageSize int    `env:"JOURNAL_REPLAY_PAGE_SIZE" envDefault:"256"`
	RedisPrefix    string `env:"JOURNAL_REDIS_PREFIX"     envDefault:"journal"`
	LogLevel       string `env:"JOURNAL_LOG_LEVEL"        envDefault:"info"`
	LogFormat      string `env:"JOURNAL_LOG_FORMAT"       envDefault:"text"`
	TraceStdout    bool   `env:"JOURNAL_TRACE_STDOUT"     envDefault:"false"`
	Version        string `env:"JOURNAL_VERSION"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses Config and checks its values.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.PersistenceID == "" {
		return Config{}, fmt.Errorf("JOURNAL_PERSISTENCE_ID is empty")
	}
	if cfg.SnapshotEvery < 0 {
		return Config{}, fmt.Errorf("JOURNAL_SNAPSHOT_EVERY must not be negative: %d", cfg.SnapshotEvery)
	}
	if cfg.ReplayPageSize <= 0 {
		return Config{}, fmt.Errorf("JOURNAL_REPLAY_PAGE_SIZE must be positive: %d", cfg.ReplayPageSize)
	}
	return cfg, nil
}
