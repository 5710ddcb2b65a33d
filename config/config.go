// Package config provides configuration loading for the arbiter server
// and command line tool.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ezachrisen/arbiter"
	"gopkg.in/yaml.v3"
)

// Config is the complete arbiter configuration
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Catalog CatalogConfig `yaml:"catalog"`
	Store   StoreConfig   `yaml:"store"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
}

// EngineConfig sets the defaults of every evaluation
type EngineConfig struct {
	// MaxSteps is the step budget of an evaluation (0 = unlimited)
	MaxSteps int `yaml:"max_steps"`
	// MaxDepth is how deep rules may call each other
	MaxDepth int `yaml:"max_depth"`
	// StrictCycleCheck rejects rules that can reach themselves
	StrictCycleCheck bool `yaml:"strict_cycle_check"`
	// EnforceResultType fails evaluations returning a value of the wrong type
	EnforceResultType bool `yaml:"enforce_result_type"`
}

// CatalogConfig locates the catalog of rules, contexts and error codes
type CatalogConfig struct {
	// Path of the YAML catalog (empty = start with the store content only)
	Path string `yaml:"path"`
	// Watch rebuilds the engine when the catalog file changes
	Watch bool `yaml:"watch"`
	// Debounce is how long to wait for more changes before reloading
	Debounce time.Duration `yaml:"debounce"`
}

// StoreConfig configures the bbolt store
type StoreConfig struct {
	// Path of the database file (empty = no store)
	Path string `yaml:"path"`
	// Timeout waiting for the file lock
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig configures the HTTP RPC server
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	Basepath string `yaml:"basepath"`
	// Metrics exposes Prometheus metrics on /metrics
	Metrics bool `yaml:"metrics"`
	// MaxBodyBytes bounds the size of a request body
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// LogConfig configures the slog logger
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level"`
	// Format is text or json
	Format string `yaml:"format"`
}

// TracingConfig configures the OpenTelemetry exporter
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxSteps: 1_000_000,
			MaxDepth: 50,
		},
		Catalog: CatalogConfig{
			Debounce: 200 * time.Millisecond,
		},
		Store: StoreConfig{
			Timeout: time.Second,
		},
		Server: ServerConfig{
			Addr:     "localhost:8080",
			Basepath:     "/oto/",
			Metrics:      true,
			MaxBodyBytes: 1 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
			ServiceName: "arbiter",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.MaxSteps < 0 {
		return fmt.Errorf("engine.max_steps must not be negative")
	}
	if c.Engine.MaxDepth < 1 {
		return fmt.Errorf("engine.max_depth must be at least 1")
	}
	if c.Catalog.Watch && c.Catalog.Path == "" {
		return fmt.Errorf("catalog.watch needs catalog.path")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, not %q", c.Log.Format)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

// EngineOptions returns the engine options of the configuration.
func (c *Config) EngineOptions() []arbiter.EngineOption {
	return []arbiter.EngineOption{
		arbiter.MaxSteps(c.Engine.MaxSteps),
		arbiter.MaxDepth(c.Engine.MaxDepth),
		arbiter.StrictCycleCheck(c.Engine.StrictCycleCheck),
		arbiter.EnforceResultType(c.Engine.EnforceResultType),
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Engine
	if other.Engine.MaxSteps != 0 {
		c.Engine.MaxSteps = other.Engine.MaxSteps
	}
	if other.Engine.MaxDepth != 0 {
		c.Engine.MaxDepth = other.Engine.MaxDepth
	}
	if other.Engine.StrictCycleCheck {
		c.Engine.StrictCycleCheck = true
	}
	if other.Engine.EnforceResultType {
		c.Engine.EnforceResultType = true
	}

	// Catalog
	if other.Catalog.Path != "" {
		c.Catalog.Path = other.Catalog.Path
	}
	if other.Catalog.Watch {
		c.Catalog.Watch = true
	}
	if other.Catalog.Debounce != 0 {
		c.Catalog.Debounce = other.Catalog.Debounce
	}

	// Store
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.Timeout != 0 {
		c.Store.Timeout = other.Store.Timeout
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.Basepath != "" {
		c.Server.Basepath = other.Server.Basepath
	}
	if other.Server.MaxBodyBytes != 0 {
		c.Server.MaxBodyBytes = other.Server.MaxBodyBytes
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}

	// Tracing
	if other.Tracing.Enabled {
		c.Tracing.Enabled = true
	}
	if other.Tracing.Endpoint != "" {
		c.Tracing.Endpoint = other.Tracing.Endpoint
	}
	if other.Tracing.Insecure {
		c.Tracing.Insecure = true
	}
	if other.Tracing.SampleRatio != 0 {
		c.Tracing.SampleRatio = other.Tracing.SampleRatio
	}
	if other.Tracing.ServiceName != "" {
		c.Tracing.ServiceName = other.Tracing.ServiceName
	}
}
