// Package config loads and validates the plugin host configuration.
//
// DESIGN: All configuration comes from a YAML file with ${VAR:-default}
// environment expansion. Required fields are validated at load time so a
// misconfigured host fails before it starts serving.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the plugin host.
type Config struct {
	Server   ServerConfig   `yaml:"server"`   // HTTP/WS listener settings
	Plugins  PluginsConfig  `yaml:"plugins"`  // Plugin directory and state
	Hooks    HooksConfig    `yaml:"hooks"`    // Dispatcher tuning
	Sessions SessionsConfig `yaml:"sessions"` // Session token store
	Logging  LoggingConfig  `yaml:"logging"`  // Structured logging
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`          // Listen address, e.g. ":8044"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Max time to read a request
	WriteTimeout time.Duration `yaml:"write_timeout"` // Max time to write a response
}

// PluginsConfig contains plugin manager settings.
type PluginsConfig struct {
	Dir     string `yaml:"dir"`      // Directory of <plugin-id>/plugin.yaml manifests
	StateDB string `yaml:"state_db"` // SQLite file persisting activation state
	Watch   bool   `yaml:"watch"`    // Reload plugins on manifest changes
}

// HooksConfig tunes the hook dispatcher.
type HooksConfig struct {
	ActionWorkers   int           `yaml:"action_workers"`    // Goroutines executing action handlers
	ActionQueueSize int           `yaml:"action_queue_size"` // Pending action task capacity
	StaticTimeout   time.Duration `yaml:"static_timeout"`    // Per-handler deadline for static hooks; 0 = none
}

// SessionsConfig contains session store settings.
type SessionsConfig struct {
	TTL time.Duration `yaml:"ttl"` // Session token lifetime
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // json|console|auto (auto = console on a TTY)
	Output string `yaml:"output"` // stdout|stderr|<file path>
}

// envPattern matches ${VAR:-default} or ${VAR}.
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// ExpandEnv expands environment variables with support for default values,
// both ${VAR} and ${VAR:-default}.
func ExpandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
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

// LoadFromBytes parses configuration from raw YAML bytes, expanding
// environment variables and validating the result.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Plugins.Dir == "" {
		return fmt.Errorf("plugins.dir is required")
	}
	if c.Hooks.ActionWorkers < 0 {
		return fmt.Errorf("hooks.action_workers must not be negative")
	}
	if c.Hooks.ActionQueueSize < 0 {
		return fmt.Errorf("hooks.action_queue_size must not be negative")
	}
	if c.Hooks.StaticTimeout < 0 {
		return fmt.Errorf("hooks.static_timeout must not be negative")
	}
	if c.Sessions.TTL < 0 {
		return fmt.Errorf("sessions.ttl must not be negative")
	}
	switch c.Logging.Format {
	case "", "json", "console", "auto":
	default:
		return fmt.Errorf("logging.format must be json, console or auto")
	}
	return nil
}
