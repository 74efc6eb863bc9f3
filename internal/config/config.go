// Package config loads and validates the hook engine configuration.
//
// DESIGN: Configuration comes from a YAML file with ${VAR:-default}
// environment expansion, then a small set of environment overrides so
// hosts can redirect paths or sandbox command execution without editing
// config files. Validate() is fail-fast: a config that loads is a config
// the engine can run with.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the hook engine.
type Config struct {
	Hooks        HooksConfig        `yaml:"hooks"`        // Hook definition source
	Observations ObservationsConfig `yaml:"observations"` // Continuous-learning bus + log
	Sessions     SessionsConfig     `yaml:"sessions"`     // Session snapshot store
	Commands     CommandsConfig     `yaml:"commands"`     // External command execution
	Builtins     BuiltinsConfig     `yaml:"builtins"`     // Builtin handler knobs
	Monitoring   MonitoringConfig   `yaml:"monitoring"`   // Operator logging
}

// HooksConfig locates the hooks.json definition file.
type HooksConfig struct {
	Path string `yaml:"path"`
}

// ObservationsConfig controls the bus and the observation log.
type ObservationsConfig struct {
	LogPath       string        `yaml:"log_path"`       // JSONL destination
	FlushInterval time.Duration `yaml:"flush_interval"` // Max buffering before a flush
	BusBuffer     int           `yaml:"bus_buffer"`     // Per-subscriber buffer bound
}

// SessionsConfig controls snapshot retention and persistence.
type SessionsConfig struct {
	StoreType        string `yaml:"store_type"`        // "memory" or "sqlite"
	DBPath           string `yaml:"db_path"`           // sqlite file, when store_type is sqlite
	Retention        int    `yaml:"retention"`         // most-recent-N sessions kept
	CompactThreshold int    `yaml:"compact_threshold"` // tool calls before compaction is suggested
}

// CommandsConfig gates external command execution.
type CommandsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// BuiltinsConfig tunes builtin handlers.
type BuiltinsConfig struct {
	ScanPatterns       []string `yaml:"scan_patterns"`        // disallowed patterns for scan_file_patterns
	MinSessionMessages int      `yaml:"min_session_messages"` // evaluate_session floor
}

// MonitoringConfig contains operator logging settings.
type MonitoringConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console
	LogOutput string `yaml:"log_output"` // stdout, stderr, or file path
}

// expandEnvWithDefaults expands environment variables with support for
// default values. Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes, applying env
// expansion, env overrides, and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets the host redirect paths and sandbox command
// execution without modifying config files.
func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("HOOK_ENGINE_HOOKS"); p != "" {
		c.Hooks.Path = p
	}
	if p := os.Getenv("HOOK_ENGINE_OBSERVATION_LOG"); p != "" {
		c.Observations.LogPath = p
	}
	// Sandboxing knob: any non-empty value disables external commands.
	if os.Getenv("HOOK_ENGINE_DISABLE_COMMANDS") != "" {
		c.Commands.Enabled = false
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Hooks.Path == "" {
		return fmt.Errorf("hooks.path is required")
	}
	if c.Observations.LogPath == "" {
		return fmt.Errorf("observations.log_path is required")
	}
	if c.Observations.FlushInterval < 0 {
		return fmt.Errorf("observations.flush_interval must not be negative")
	}
	if c.Observations.BusBuffer < 0 {
		return fmt.Errorf("observations.bus_buffer must not be negative")
	}

	switch c.Sessions.StoreType {
	case "", "memory":
	case "sqlite":
		if c.Sessions.DBPath == "" {
			return fmt.Errorf("sessions.db_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown sessions.store_type %q (must be memory or sqlite)", c.Sessions.StoreType)
	}
	if c.Sessions.Retention < 0 {
		return fmt.Errorf("sessions.retention must not be negative")
	}
	if c.Sessions.CompactThreshold < 0 {
		return fmt.Errorf("sessions.compact_threshold must not be negative")
	}

	for _, p := range c.Builtins.ScanPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid builtins.scan_patterns entry %q: %w", p, err)
		}
	}

	return nil
}
