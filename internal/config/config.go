// Package config loads and validates the quilt-1m configuration.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the statistics pipeline and, in serve
// mode, the HTTP/scheduler surface.
type Config struct {
	Root            string  `yaml:"root"`
	OutputPath      string  `yaml:"output_path"`
	BatchSize       int     `yaml:"batch_size"`
	Workers         int     `yaml:"workers"`
	Walkers         int     `yaml:"walkers"`
	MemoryEfficient bool    `yaml:"memory_efficient"`
	ReservoirSize   int     `yaml:"reservoir_size"`
	SampleRate      float64 `yaml:"sample_rate"` // 0 means unset (treated as 1.0)
	ProbeTimeoutSec int     `yaml:"probe_timeout_seconds"`
	Seed            uint64  `yaml:"seed"`

	// Serve mode only.
	DBPath   string `yaml:"db_path"`
	HTTPAddr string `yaml:"http_addr"`
	Schedule string `yaml:"schedule"`

	LogLevel string `yaml:"log_level"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.OutputPath == "" {
		c.OutputPath = "image_stats.json"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1000
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Walkers == 0 {
		c.Walkers = 4
	}
	if c.ReservoirSize == 0 {
		c.ReservoirSize = 10000
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.ProbeTimeoutSec == 0 {
		c.ProbeTimeoutSec = 30
	}
	if c.DBPath == "" {
		c.DBPath = "quilt.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load reads and parses the YAML config file at path. A missing file
// yields a default Config; note the default Root is empty, so Validate
// will still reject it until a root is configured.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Validate checks the configuration invariants that must hold before a run
// starts. A violation here is fatal: the run is never attempted.
func (c *Config) Validate() error {
	info, err := os.Stat(c.Root)
	if err != nil {
		return fmt.Errorf("root directory %q: %w", c.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %q is not a directory", c.Root)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.Walkers <= 0 {
		return fmt.Errorf("walkers must be positive, got %d", c.Walkers)
	}
	if c.ReservoirSize <= 0 {
		return fmt.Errorf("reservoir_size must be positive, got %d", c.ReservoirSize)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be in [0, 1], got %g", c.SampleRate)
	}
	return nil
}

// ProbeTimeout returns the per-file probe bound as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}
