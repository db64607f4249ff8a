// Package config loads the YAML configuration for the veil pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Keys        KeysConfig        `yaml:"keys"`
	Channel     ChannelConfig     `yaml:"channel"`
	Nonce       NonceConfig       `yaml:"nonce"`
	Attestation AttestationConfig `yaml:"attestation"`
	Broadcast   BroadcastConfig   `yaml:"broadcast"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Log         LogConfig         `yaml:"log"`
}

// KeysConfig points at the directory holding intent.pk and intent.vk.
type KeysConfig struct {
	Dir string `yaml:"dir"`
}

type ChannelConfig struct {
	Capacity int           `yaml:"capacity"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NonceConfig selects the replay ledger: "memory" or "redis".
type NonceConfig struct {
	Driver   string `yaml:"driver"`
	RedisURL string `yaml:"redis_url"`
	Prefix   string `yaml:"prefix"`
}

// AttestationConfig selects the audit store: "memory", "sqlite" or "mysql".
type AttestationConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// BroadcastConfig selects the broadcaster: "memory" or "redis".
type BroadcastConfig struct {
	Driver   string `yaml:"driver"`
	RedisURL string `yaml:"redis_url"`
	Prefix   string `yaml:"prefix"`
	Peers    int    `yaml:"peers"`
}

type SchedulerConfig struct {
	MemoryLimitPages uint32        `yaml:"memory_limit_pages"`
	DefaultLimit     time.Duration `yaml:"default_limit"`
}

type LedgerConfig struct {
	BlockInterval time.Duration     `yaml:"block_interval"`
	Genesis       map[string]uint64 `yaml:"genesis"`
}

type GatewayConfig struct {
	HistorySize   int     `yaml:"history_size"`
	MinConfidence float64 `yaml:"min_confidence"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a fully in-process configuration rooted at baseDir.
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// Load parses the YAML file at path. Relative paths inside it resolve
// against the file's directory.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Keys.Dir == "" {
		c.Keys.Dir = "keys"
	}
	if !filepath.IsAbs(c.Keys.Dir) && baseDir != "" {
		c.Keys.Dir = filepath.Join(baseDir, c.Keys.Dir)
	}
	if c.Channel.Capacity <= 0 {
		c.Channel.Capacity = 256
	}
	if c.Channel.Timeout <= 0 {
		c.Channel.Timeout = 30 * time.Second
	}
	if c.Nonce.Driver == "" {
		c.Nonce.Driver = "memory"
	}
	if c.Nonce.Prefix == "" {
		c.Nonce.Prefix = "veil:"
	}
	if c.Attestation.Driver == "" {
		c.Attestation.Driver = "memory"
	}
	if c.Attestation.Driver == "sqlite" && c.Attestation.DSN == "" {
		c.Attestation.DSN = filepath.Join(baseDir, "attestations.db")
	}
	if c.Broadcast.Driver == "" {
		c.Broadcast.Driver = "memory"
	}
	if c.Broadcast.Prefix == "" {
		c.Broadcast.Prefix = "veil:topic:"
	}
	if c.Scheduler.MemoryLimitPages == 0 {
		c.Scheduler.MemoryLimitPages = 16
	}
	if c.Scheduler.DefaultLimit <= 0 {
		c.Scheduler.DefaultLimit = time.Second
	}
	if c.Ledger.BlockInterval <= 0 {
		c.Ledger.BlockInterval = 5 * time.Second
	}
	if c.Gateway.HistorySize <= 0 {
		c.Gateway.HistorySize = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate checks driver names and the settings each driver needs.
func (c *Config) Validate() error {
	switch c.Nonce.Driver {
	case "memory":
	case "redis":
		if c.Nonce.RedisURL == "" {
			return errors.New("nonce.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown nonce driver %q", c.Nonce.Driver)
	}
	switch c.Attestation.Driver {
	case "memory", "sqlite":
	case "mysql":
		if c.Attestation.DSN == "" {
			return errors.New("attestation.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unknown attestation driver %q", c.Attestation.Driver)
	}
	switch c.Broadcast.Driver {
	case "memory":
	case "redis":
		if c.Broadcast.RedisURL == "" {
			return errors.New("broadcast.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown broadcast driver %q", c.Broadcast.Driver)
	}
	if c.Gateway.MinConfidence < 0 || c.Gateway.MinConfidence > 1 {
		return fmt.Errorf("gateway.min_confidence must be within [0, 1]")
	}
	return nil
}
