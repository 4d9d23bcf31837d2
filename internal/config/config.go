package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.formly/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	BackendURL     string `toml:"backend_url"`
	StreamURL      string `toml:"stream_url"`
	SyncIntervalMS int    `toml:"sync_interval_ms"`
	RetentionDays  int    `toml:"retention_days"`
	CleanupHours   int    `toml:"cleanup_hours"`
}

// Defaults fills zero values with sane defaults. Called after Load so a
// partial config file keeps working.
func (c *Config) Defaults() {
	if c.BackendURL == "" {
		c.BackendURL = "https://api.formly.app"
	}
	if c.StreamURL == "" {
		c.StreamURL = "wss://api.formly.app/changes"
	}
	if c.SyncIntervalMS <= 0 {
		c.SyncIntervalMS = 2000
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	if c.CleanupHours <= 0 {
		c.CleanupHours = 12
	}
}

// SyncInterval returns the pending-flush/pull cycle period.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMS) * time.Millisecond
}

// Retention returns the age past which cached messages and media are evicted.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// CleanupInterval returns the period of the storage cleanup loop.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupHours) * time.Hour
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.Defaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
