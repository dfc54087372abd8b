// Package config loads dhtrack configuration from an optional YAML file
// with environment-variable overrides on top. Missing values fall back to
// defaults, so an empty environment still yields a runnable service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Download DownloadConfig `yaml:"download"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig controls the ingest endpoint.
type ListenConfig struct {
	// Port on loopback. 0 picks an ephemeral port.
	Port int `yaml:"port"`
	// Token required on every request. Empty means generate a random one
	// at startup.
	Token string `yaml:"token"`
	// MaxBodyBytes caps POST bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// DatabaseConfig locates the archive file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DownloadConfig tunes the media download engine.
type DownloadConfig struct {
	Workers   int           `yaml:"workers"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
}

func (c *Config) applyDefaults() {
	if c.Listen.MaxBodyBytes <= 0 {
		c.Listen.MaxBodyBytes = 32 << 20
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/archive.db"
	}
	if c.Download.Workers <= 0 {
		c.Download.Workers = 4
	}
	if c.Download.BatchSize <= 0 {
		c.Download.BatchSize = 16
	}
	if c.Download.Timeout <= 0 {
		c.Download.Timeout = 30 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load reads the YAML file at path (skipped when path is empty), layers env
// overrides, and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DHT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Listen.Port = n
		}
	}
	if v := os.Getenv("DHT_TOKEN"); v != "" {
		c.Listen.Token = v
	}
	if v := os.Getenv("DHT_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("DHT_DOWNLOAD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Download.Workers = n
		}
	}
	if v := os.Getenv("DHT_DOWNLOAD_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Download.MaxBytes = n
		}
	}
	if v := os.Getenv("DHT_DOWNLOAD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Download.Timeout = d
		}
	}
	if v := os.Getenv("DHT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
