// Package config loads the service configuration from YAML with environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultReadTimeoutSeconds is the default read timeout in seconds
	DefaultReadTimeoutSeconds = 10
	// DefaultWriteTimeoutSeconds is the default write timeout in seconds.
	// Text exports stream, so this bounds a whole export.
	DefaultWriteTimeoutSeconds = 120
	// DefaultShutdownTimeoutSeconds is the default shutdown timeout in seconds
	DefaultShutdownTimeoutSeconds = 30
)

type Config struct {
	Debug  bool         `yaml:"debug"` // Application debug mode (controls log level and format)
	Server ServerConfig `yaml:"server"`
	Hub    HubConfig    `yaml:"hub"`
	Cache  CacheConfig  `yaml:"cache"`
	Gate   GateConfig   `yaml:"gate"`
	Export ExportConfig `yaml:"export"`
}

type ServerConfig struct {
	Address      string        `yaml:"address"`       // e.g., ":8070"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"` // Default: 120s
}

type HubConfig struct {
	URL      string `yaml:"url"`       // Hub API base URL (e.g., "https://hub.example.com")
	PageSize int    `yaml:"page_size"` // Records requested per page (default: 100)
}

type CacheConfig struct {
	MaxEntries  int           `yaml:"max_entries"`  // Item-count ceiling (default: 512)
	MaxBytes    int64         `yaml:"max_bytes"`    // Total-payload ceiling (default: 32 MiB)
	StaleWindow time.Duration `yaml:"stale_window"` // Stale-while-revalidate window (default: 5m)
	BundleTTL   time.Duration `yaml:"bundle_ttl"`   // Assembled-bundle freshness (default: 2m)
	ResolveTTL  time.Duration `yaml:"resolve_ttl"`  // Handle-resolution freshness (default: 15m)
}

type GateConfig struct {
	Workers          int           `yaml:"workers"`           // Concurrent upstream calls (default: 3)
	RequestTimeout   time.Duration `yaml:"request_timeout"`   // Absolute per-call timeout (default: 10s)
	MaxRetries       int           `yaml:"max_retries"`       // Transient-failure retries (default: 3)
	FailureThreshold int           `yaml:"failure_threshold"` // Circuit-open threshold (default: 5)
	ResetTimeout     time.Duration `yaml:"reset_timeout"`     // Open-to-half-open delay (default: 30s)
}

type ExportConfig struct {
	StreamDelay time.Duration `yaml:"stream_delay"` // Optional pacing between streamed posts
	BatchWindow time.Duration `yaml:"batch_window"` // Request-coalescing window (default: 50ms)
	MaxBatch    int           `yaml:"max_batch"`    // Coalescing early-flush size (default: 100)
}

// Validate checks if the server configuration is valid and sets defaults.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		c.Address = ":8070" // Default port
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeoutSeconds * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeoutSeconds * time.Second
	}
	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Hub.URL == "" {
		return errors.New("hub.url is required")
	}
	if c.Hub.PageSize < 0 {
		return fmt.Errorf("hub.page_size must not be negative, got %d", c.Hub.PageSize)
	}
	if c.Gate.Workers < 0 {
		return fmt.Errorf("gate.workers must not be negative, got %d", c.Gate.Workers)
	}
	if c.Cache.MaxBytes < 0 {
		return fmt.Errorf("cache.max_bytes must not be negative, got %d", c.Cache.MaxBytes)
	}
	return nil
}

// overrideWithEnvVars overrides configuration with environment variables
func overrideWithEnvVars(cfg *Config) {
	if hubURL := os.Getenv("HUB_URL"); hubURL != "" {
		cfg.Hub.URL = hubURL
	}
	if appDebug := os.Getenv("APP_DEBUG"); appDebug != "" {
		cfg.Debug = parseBool(appDebug)
	}
	if port := os.Getenv("CASTFLOW_PORT"); port != "" {
		cfg.Server.Address = ":" + port
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Server.Validate(); err != nil {
		return nil, fmt.Errorf("server config validation: %w", err)
	}

	// Override with environment variables if present
	overrideWithEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// parseBool parses a string value as a boolean.
// Returns true for "true", "1", "yes" (case-insensitive), false otherwise.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
