// Package config loads the runtime's yaml configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
)

// maxConfigSize limits config file size (1MB).
const maxConfigSize = 1 * 1024 * 1024

// Config is the runtime configuration.
type Config struct {
	// SearchPaths are directories scanned for plugin and bundle manifests.
	SearchPaths []string `yaml:"searchPaths,omitempty"`

	// DefaultLimits applies to plugins whose manifest declares no limits.
	DefaultLimits plugin.ResourceLimits `yaml:"defaultLimits,omitempty"`

	// Sandbox toggles limit enforcement around plugin execution.
	Sandbox bool `yaml:"sandbox"`

	// MonitorIntervalMs is the resource-monitor sweep interval.
	MonitorIntervalMs int `yaml:"monitorIntervalMs,omitempty"`

	// EventBufferSize is the per-subscriber event channel depth.
	EventBufferSize int `yaml:"eventBufferSize,omitempty"`

	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`
	// JSON switches output from text to JSON lines.
	JSON bool `yaml:"json,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DefaultLimits:     plugin.DefaultLimits(),
		Sandbox:           true,
		MonitorIntervalMs: 5000,
		EventBufferSize:   64,
		Logging:           LoggingConfig{Level: "info"},
	}
}

// MonitorInterval returns the sweep interval as a duration.
func (c *Config) MonitorInterval() time.Duration {
	if c.MonitorIntervalMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.MonitorIntervalMs) * time.Millisecond
}

// Load reads a config file, filling unset fields from defaults. A
// missing file yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file %s exceeds size limit of %d bytes", path, maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.DefaultLimits == (plugin.ResourceLimits{}) {
		cfg.DefaultLimits = plugin.DefaultLimits()
	}
	if cfg.MonitorIntervalMs <= 0 {
		cfg.MonitorIntervalMs = 5000
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 64
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return cfg, nil
}

// Validate checks field values that config consumers rely on.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	for _, p := range c.SearchPaths {
		if p == "" {
			return fmt.Errorf("search paths must not be empty strings")
		}
	}
	return nil
}
