// Package config provides YAML-based configuration loading for the
// model viewer backend.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, loaded from config.yaml.
type Config struct {
	Port     int            `yaml:"port"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
}

// DatabaseConfig holds connection settings for the metadata store.
// Driver "sqlite" uses Path; driver "mysql" uses Host/Port/Name.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Name   string `yaml:"name"`
	User   string `yaml:"user"`
}

// StorageConfig controls build storage, chunk staging and the reaper.
type StorageConfig struct {
	Root          string        `yaml:"root"`          // empty -> drive selection
	FallbackRoot  string        `yaml:"fallback_root"` // used when no candidate is writable
	MinimumFreeGB int           `yaml:"minimum_free_gb"`
	ExecutableExt string        `yaml:"executable_ext"`
	ChunkMaxBytes int64         `yaml:"chunk_max_bytes"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with all defaults applied and no overrides,
// used when no config file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 5000
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "modelviewer.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" {
		c.Database.Name = "modelviewer"
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Storage.FallbackRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		c.Storage.FallbackRoot = filepath.Join(cwd, "model_builds")
	}
	if c.Storage.MinimumFreeGB == 0 {
		c.Storage.MinimumFreeGB = 5
	}
	if c.Storage.ExecutableExt == "" {
		c.Storage.ExecutableExt = ".exe"
	}
	if c.Storage.ChunkMaxBytes == 0 {
		c.Storage.ChunkMaxBytes = 100 << 20
	}
	if c.Storage.Retention == 0 {
		c.Storage.Retention = time.Hour
	}
	if c.Storage.SweepInterval == 0 {
		c.Storage.SweepInterval = 30 * time.Minute
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port %d is out of range", c.Port))
	}
	if !strings.HasPrefix(c.Storage.ExecutableExt, ".") {
		errs = append(errs, fmt.Sprintf("storage.executable_ext %q must start with a dot", c.Storage.ExecutableExt))
	}
	if c.Storage.ChunkMaxBytes < 0 {
		errs = append(errs, "storage.chunk_max_bytes must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
