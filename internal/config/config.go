// Package config provides configuration for the bourse server. Defaults can
// be overridden by a YAML file and by command-line flags.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default capacities.
const (
	DefaultMaxAccounts = 4096
	DefaultMaxTraders  = 1024
	DefaultMaxClients  = 1024
)

// Config holds all server configuration.
type Config struct {
	// Port is the TCP port the server listens on.
	Port int `yaml:"port"`

	// MaxAccounts bounds the account store.
	MaxAccounts int `yaml:"max_accounts"`

	// MaxTraders bounds concurrently logged-in sessions.
	MaxTraders int `yaml:"max_traders"`

	// MaxClients bounds concurrently connected clients.
	MaxClients int `yaml:"max_clients"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration. The port has no default;
// it must be supplied by file or flag.
func DefaultConfig() *Config {
	return &Config{
		MaxAccounts: DefaultMaxAccounts,
		MaxTraders:  DefaultMaxTraders,
		MaxClients:  DefaultMaxClients,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for use by the server.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be in [1, 65535]", c.Port)
	}
	if c.MaxAccounts < 1 {
		return fmt.Errorf("max_accounts must be positive, got %d", c.MaxAccounts)
	}
	if c.MaxTraders < 1 {
		return fmt.Errorf("max_traders must be positive, got %d", c.MaxTraders)
	}
	if c.MaxClients < 1 {
		return fmt.Errorf("max_clients must be positive, got %d", c.MaxClients)
	}
	return nil
}
