// Package config loads and validates the session mirror configuration.
//
// DESIGN: Configuration comes from a YAML file with ${VAR:-default} expansion
// and a handful of environment overrides. Unlike a server, the bridge must run
// with no file at all, so every tunable has a default (see WithDefaults) and a
// missing relay URL is a legitimate "not configured" state, not an error.
//
// FILES:
//   - config.go:     Root Config struct, Load(), LoadFromBytes(), Validate()
//   - relay.go:      Relay endpoint, dial URL construction, Resolver
//   - bridge.go:     Bridge tunables (queue, heartbeat, backoff, in-flight store)
//   - monitoring.go: Logging and journal settings
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the session mirror.
type Config struct {
	Relay      RelayConfig      `yaml:"relay"`      // Remote relay endpoint and credentials
	Bridge     BridgeConfig     `yaml:"bridge"`     // Connection and buffering behaviour
	InFlight   InFlightConfig   `yaml:"inflight"`   // Dedup tracker storage
	Monitoring MonitoringConfig `yaml:"monitoring"` // Logging and journal
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands environment variables with support for default values.
// Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
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
// A missing file is not an error: the result is the default configuration
// with environment overrides applied.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromBytes(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LoadFromBytes(nil)
		}
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion, env overrides, defaults and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg = WithDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets hook scripts point the bridge at a relay
// without rewriting the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RELAY_URL"); v != "" {
		c.Relay.URL = v
	}
	if v := os.Getenv("RELAY_TOKEN"); v != "" {
		c.Relay.Token = v
	}
	if v := os.Getenv("RELAY_SESSION_KEY"); v != "" {
		c.Relay.SessionKey = v
	}
	if v := os.Getenv("SESSION_MIRROR_JOURNAL"); v != "" {
		c.Monitoring.JournalPath = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Relay.Validate(); err != nil {
		return err
	}
	if err := c.Bridge.Validate(); err != nil {
		return err
	}
	return c.InFlight.Validate()
}
