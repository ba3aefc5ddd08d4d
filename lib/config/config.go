// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable [Load] reads the config path from.
const EnvVar = "SQLITELANE_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for long-running deployments.
	Production Environment = "production"
)

// Database access modes.
const (
	ModeQueue = "queue"
	ModePool  = "pool"
)

// Config is the master configuration for sqlitelane.
type Config struct {
	// Environment identifies the deployment type (development, production).
	Environment Environment `yaml:"environment"`

	// Database configures how the database is opened and shared.
	Database DatabaseConfig `yaml:"database"`

	// Logging configures the command logger.
	Logging LoggingConfig `yaml:"logging"`

	// Bench configures the bench subcommand's workload.
	Bench BenchConfig `yaml:"bench"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
// Only non-zero fields override.
type ConfigOverrides struct {
	Database *DatabaseOverrides `yaml:"database,omitempty"`
	Logging  *LoggingConfig     `yaml:"logging,omitempty"`
}

// DatabaseOverrides is DatabaseConfig with pointer fields where the zero
// value is meaningful.
type DatabaseOverrides struct {
	Path            string   `yaml:"path,omitempty"`
	VFS             string   `yaml:"vfs,omitempty"`
	Flags           []string `yaml:"flags,omitempty"`
	Mode            string   `yaml:"mode,omitempty"`
	MaxConnections  *int     `yaml:"max_connections,omitempty"`
	ReentrancyGuard *bool    `yaml:"reentrancy_guard,omitempty"`
	SlowThreshold   string   `yaml:"slow_threshold,omitempty"`
}

// DatabaseConfig configures the database and its coordinator.
type DatabaseConfig struct {
	// Path is the database file. ${VAR} and ${VAR:-default} are expanded.
	Path string `yaml:"path"`

	// VFS names a registered SQLite VFS. Empty selects the default.
	VFS string `yaml:"vfs"`

	// Flags lists open flags by name (read_only, create, wal, ...).
	// Empty means read-write, create, URI filenames.
	Flags []string `yaml:"flags"`

	// Mode selects the coordinator: "queue" (one connection, serial) or
	// "pool" (many connections).
	// Default: queue
	Mode string `yaml:"mode"`

	// MaxConnections caps the pool. Zero means unbounded. Ignored in
	// queue mode.
	// Default: 4
	MaxConnections int `yaml:"max_connections"`

	// ReentrancyGuard makes re-entrant calls fail instead of deadlocking.
	// Default: false (development), true (production)
	ReentrancyGuard bool `yaml:"reentrancy_guard"`

	// SlowThreshold is a Go duration; queue callbacks holding the lane
	// longer are logged. Empty or "0" disables the warning.
	// Default: 1s
	SlowThreshold string `yaml:"slow_threshold"`
}

// LoggingConfig configures the command logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	// Default: info
	Level string `yaml:"level"`

	// Format is "auto" (text on a terminal, JSON otherwise), "text", or
	// "json".
	// Default: auto (development), json (production)
	Format string `yaml:"format"`
}

// BenchConfig configures the bench workload.
type BenchConfig struct {
	// Workers is the number of concurrent goroutines.
	// Default: 8
	Workers int `yaml:"workers"`

	// Operations is the number of inserts each worker performs.
	// Default: 1000
	Operations int `yaml:"operations"`

	// Transaction is the wrapper around each insert: none, eager,
	// deferred, or savepoint.
	// Default: eager
	Transaction string `yaml:"transaction"`
}

// Default returns the default configuration. It is the base the config
// file is decoded onto, so every field has a usable value even when the
// file leaves it out.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment: Development,
		Database: DatabaseConfig{
			Path:           filepath.Join(homeDir, ".cache", "sqlitelane", "sqlitelane.db"),
			Mode:           ModeQueue,
			MaxConnections: 4,
			SlowThreshold:  "1s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Bench: BenchConfig{
			Workers:     8,
			Operations:  1000,
			Transaction: "eager",
		},
	}
}

// Load loads configuration from the file named by SQLITELANE_CONFIG.
// There is no fallback: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your sqlitelane.yaml config file, or use --config flag", EnvVar)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .json or .jsonc may contain comments and trailing commas; anything
// else is read as YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile decodes one configuration file onto the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so one decoder serves both once
		// comments are stripped.
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		// Production defaults: machine-readable logs, fail fast on misuse.
		if overrides == nil {
			guard := true
			overrides = &ConfigOverrides{
				Database: &DatabaseOverrides{ReentrancyGuard: &guard},
				Logging:  &LoggingConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if database := overrides.Database; database != nil {
		if database.Path != "" {
			c.Database.Path = database.Path
		}
		if database.VFS != "" {
			c.Database.VFS = database.VFS
		}
		if len(database.Flags) > 0 {
			c.Database.Flags = database.Flags
		}
		if database.Mode != "" {
			c.Database.Mode = database.Mode
		}
		if database.MaxConnections != nil {
			c.Database.MaxConnections = *database.MaxConnections
		}
		if database.ReentrancyGuard != nil {
			c.Database.ReentrancyGuard = *database.ReentrancyGuard
		}
		if database.SlowThreshold != "" {
			c.Database.SlowThreshold = database.SlowThreshold
		}
	}

	if logging := overrides.Logging; logging != nil {
		if logging.Level != "" {
			c.Logging.Level = logging.Level
		}
		if logging.Format != "" {
			c.Logging.Format = logging.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Database.Path = expandVars(c.Database.Path, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, consulting
// vars before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Database.Mode != ModeQueue && c.Database.Mode != ModePool {
		errs = append(errs, fmt.Errorf("database.mode must be one of: %v", []string{ModeQueue, ModePool}))
	}
	if c.Database.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("database.max_connections must not be negative"))
	}
	if _, err := c.SlowThreshold(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	formats := []string{"auto", "text", "json"}
	if !contains(formats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", formats))
	}

	if c.Bench.Workers <= 0 {
		errs = append(errs, fmt.Errorf("bench.workers must be positive"))
	}
	if c.Bench.Operations <= 0 {
		errs = append(errs, fmt.Errorf("bench.operations must be positive"))
	}
	transactions := []string{"none", "eager", "deferred", "savepoint"}
	if !contains(transactions, c.Bench.Transaction) {
		errs = append(errs, fmt.Errorf("bench.transaction must be one of: %v", transactions))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlowThreshold parses Database.SlowThreshold. Empty means zero.
func (c *Config) SlowThreshold() (time.Duration, error) {
	if c.Database.SlowThreshold == "" {
		return 0, nil
	}
	threshold, err := time.ParseDuration(c.Database.SlowThreshold)
	if err != nil {
		return 0, fmt.Errorf("database.slow_threshold: %w", err)
	}
	if threshold < 0 {
		return 0, fmt.Errorf("database.slow_threshold must not be negative")
	}
	return threshold, nil
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// EnsureDatabaseDir creates the directory holding Database.Path. Memory
// and temporary databases need none.
func (c *Config) EnsureDatabaseDir() error {
	path := c.Database.Path
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
