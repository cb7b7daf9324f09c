// Package config loads the YAML configuration shared by the cascade
// commands and applies CASCADE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunorijsman/qkd-cascade/internal/constants"
	"github.com/brunorijsman/qkd-cascade/pkg/cascade"
	"github.com/brunorijsman/qkd-cascade/pkg/channel"
	"github.com/brunorijsman/qkd-cascade/pkg/metrics"
)

// Config represents the complete configuration
type Config struct {
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ReconcileConfig selects the Cascade variation
type ReconcileConfig struct {
	Algorithm string `yaml:"algorithm"`
	// Passes overrides the preset's pass count when positive
	Passes int `yaml:"passes"`
	// SubBlockReuse overrides the preset when set
	SubBlockReuse      *bool   `yaml:"sub_block_reuse,omitempty"`
	EstimatedErrorRate float64 `yaml:"estimated_error_rate"`
}

// ServerConfig contains classical channel settings for both ends
type ServerConfig struct {
	Address          string        `yaml:"address"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ShuffleCacheSize int           `yaml:"shuffle_cache_size"`
}

// RateLimitConfig controls Alice's limiters
type RateLimitConfig struct {
	MaxConnectionsPerIP int     `yaml:"max_connections_per_ip"`
	StartsPerSecond     float64 `yaml:"starts_per_second"`
	StartBurst          int     `yaml:"start_burst"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the observability endpoint
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Reconcile: ReconcileConfig{
			Algorithm:          constants.DefaultAlgorithm,
			EstimatedErrorRate: 0.01,
		},
		Server: ServerConfig{
			Address:          constants.DefaultServerAddr,
			ReadTimeout:      constants.DefaultTimeoutSeconds * time.Second,
			WriteTimeout:     constants.DefaultTimeoutSeconds * time.Second,
			ShuffleCacheSize: constants.DefaultShuffleCacheSize,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Address:   constants.DefaultMetricsAddr,
			Namespace: "cascade",
		},
	}
}

// Load reads configuration from a YAML file over the defaults and applies
// environment variable overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - config file path is provided by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	log := metrics.GetLogger().Named("config")

	if v := os.Getenv("CASCADE_ALGORITHM"); v != "" {
		cfg.Reconcile.Algorithm = v
	}
	if v := os.Getenv("CASCADE_PASSES"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			log.Warn("ignoring invalid CASCADE_PASSES", metrics.Fields{"value": v, "error": err})
		} else {
			cfg.Reconcile.Passes = n
		}
	}
	if v := os.Getenv("CASCADE_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err != nil {
			log.Warn("ignoring invalid CASCADE_ERROR_RATE", metrics.Fields{"value": v, "error": err})
		} else {
			cfg.Reconcile.EstimatedErrorRate = f
		}
	}

	if v := os.Getenv("CASCADE_SERVER_ADDR"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CASCADE_STARTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err != nil {
			log.Warn("ignoring invalid CASCADE_STARTS_PER_SECOND", metrics.Fields{"value": v, "error": err})
		} else {
			cfg.RateLimit.StartsPerSecond = f
		}
	}
	if v := os.Getenv("CASCADE_MAX_CONNECTIONS_PER_IP"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			log.Warn("ignoring invalid CASCADE_MAX_CONNECTIONS_PER_IP", metrics.Fields{"value": v, "error": err})
		} else {
			cfg.RateLimit.MaxConnectionsPerIP = n
		}
	}

	// Logging
	if v := os.Getenv("CASCADE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CASCADE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics
	if v := os.Getenv("CASCADE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Address = v
		cfg.Metrics.Enabled = true
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := c.Parameters(); err != nil {
		return err
	}
	if c.Reconcile.Passes < 0 {
		return fmt.Errorf("invalid passes: %d", c.Reconcile.Passes)
	}
	if r := c.Reconcile.EstimatedErrorRate; r < 0 || r >= 1 {
		return fmt.Errorf("invalid estimated_error_rate: %v (must be in [0, 1))", r)
	}

	if c.Server.Address == "" {
		return fmt.Errorf("server address must be specified")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	if c.Server.ShuffleCacheSize < 0 {
		return fmt.Errorf("invalid shuffle_cache_size: %d", c.Server.ShuffleCacheSize)
	}

	if c.RateLimit.MaxConnectionsPerIP < 0 || c.RateLimit.StartsPerSecond < 0 || c.RateLimit.StartBurst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "warning": true, "error": true, "silent": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, error, or silent)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}
	return nil
}

// Parameters returns the configured Cascade variation with overrides applied.
func (c *Config) Parameters() (cascade.Parameters, error) {
	p, err := cascade.ParametersByName(c.Reconcile.Algorithm)
	if err != nil {
		return cascade.Parameters{}, err
	}
	if c.Reconcile.Passes > 0 {
		p.Passes = c.Reconcile.Passes
	}
	if c.Reconcile.SubBlockReuse != nil {
		p.SubBlockReuse = *c.Reconcile.SubBlockReuse
	}
	return p, nil
}

// ChannelServerConfig returns the settings for Alice's server.
func (c *Config) ChannelServerConfig() channel.ServerConfig {
	return channel.ServerConfig{
		ReadTimeout:      c.Server.ReadTimeout,
		WriteTimeout:     c.Server.WriteTimeout,
		ShuffleCacheSize: c.Server.ShuffleCacheSize,
		RateLimit: channel.RateLimitConfig{
			MaxConnectionsPerIP: c.RateLimit.MaxConnectionsPerIP,
			StartsPerSecond:     c.RateLimit.StartsPerSecond,
			StartBurst:          c.RateLimit.StartBurst,
		},
	}
}

// ChannelClientConfig returns the settings for Bob's client.
func (c *Config) ChannelClientConfig() channel.ClientConfig {
	return channel.ClientConfig{
		ReadTimeout:  c.Server.ReadTimeout,
		WriteTimeout: c.Server.WriteTimeout,
	}
}

// Logger builds a logger from the logging section.
func (c *Config) Logger() *metrics.Logger {
	return metrics.ConfiguredLogger(os.Stderr, c.Logging.Level, c.Logging.Format)
}
