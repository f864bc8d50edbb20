// Package config provides typed configuration for the FieldSync engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Listen    string          `yaml:"listen"`
	LogLevel  string          `yaml:"log_level"`
	Remote    RemoteConfig    `yaml:"remote"`
	Capture   CaptureConfig   `yaml:"capture"`
	Retention RetentionConfig `yaml:"retention"`
	Sync      SyncConfig      `yaml:"sync"`
}

// RemoteConfig describes the remote API boundary. The engine is agnostic to
// the API's shape beyond the base URL upload items are addressed against.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
}

// CaptureConfig holds capture-path tuning.
type CaptureConfig struct {
	PhotoTargetKB     int `yaml:"photo_target_kb"`     // target compressed photo size
	SignatureTargetKB int `yaml:"signature_target_kb"` // target compressed signature size
	DebounceMS        int `yaml:"debounce_ms"`         // snapshot auto-save coalescing window
}

// RetentionConfig holds housekeeping policy.
type RetentionConfig struct {
	SnapshotDays int `yaml:"snapshot_days"` // purge snapshots older than this at init
}

// SyncConfig holds drain scheduling cadence per connection quality.
type SyncConfig struct {
	ExcellentIntervalSec int `yaml:"excellent_interval_sec"`
	GoodIntervalSec      int `yaml:"good_interval_sec"`
	PoorIntervalSec      int `yaml:"poor_interval_sec"`
	PoorPauseMS          int `yaml:"poor_pause_ms"` // pause between batches on a poor link
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir:  "./data",
		Listen:   "127.0.0.1:8787",
		LogLevel: "info",
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8080/api",
		},
		Capture: CaptureConfig{
			PhotoTargetKB:     500,
			SignatureTargetKB: 50,
			DebounceMS:        2000,
		},
		Retention: RetentionConfig{
			SnapshotDays: 30,
		},
		Sync: SyncConfig{
			ExcellentIntervalSec: 15,
			GoodIntervalSec:      30,
			PoorIntervalSec:      60,
			PoorPauseMS:          2000,
		},
	}
}

// Load reads a YAML config file, layering it over the defaults. A missing
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Capture.DebounceMS < 0 {
		return fmt.Errorf("capture.debounce_ms must not be negative")
	}
	if c.Retention.SnapshotDays <= 0 {
		return fmt.Errorf("retention.snapshot_days must be positive")
	}
	if c.Sync.ExcellentIntervalSec <= 0 || c.Sync.GoodIntervalSec <= 0 || c.Sync.PoorIntervalSec <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	return nil
}

// DebounceWindow returns the snapshot coalescing window as a duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Capture.DebounceMS) * time.Millisecond
}

// SnapshotRetentionWindow returns the snapshot purge cutoff as a duration.
func (c *Config) SnapshotRetentionWindow() time.Duration {
	return time.Duration(c.Retention.SnapshotDays) * 24 * time.Hour
}
