package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Port != 0 {
		t.Errorf("expected no default port, got %d", cfg.Port)
	}
	if cfg.MaxAccounts != DefaultMaxAccounts {
		t.Errorf("expected MaxAccounts %d, got %d", DefaultMaxAccounts, cfg.MaxAccounts)
	}
	if cfg.MaxTraders != DefaultMaxTraders {
		t.Errorf("expected MaxTraders %d, got %d", DefaultMaxTraders, cfg.MaxTraders)
	}
	if cfg.MaxClients != DefaultMaxClients {
		t.Errorf("expected MaxClients %d, got %d", DefaultMaxClients, cfg.MaxClients)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) { c.Port = 8080 }, false},
		{"port low edge", func(c *Config) { c.Port = 1 }, false},
		{"port high edge", func(c *Config) { c.Port = 65535 }, false},
		{"missing port", func(c *Config) {}, true},
		{"negative port", func(c *Config) { c.Port = -1 }, true},
		{"port too large", func(c *Config) { c.Port = 65536 }, true},
		{"zero accounts", func(c *Config) { c.Port = 8080; c.MaxAccounts = 0 }, true},
		{"zero traders", func(c *Config) { c.Port = 8080; c.MaxTraders = 0 }, true},
		{"zero clients", func(c *Config) { c.Port = 8080; c.MaxClients = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("port: 9090\nmax_traders: 16\nlogging:\n  level: debug\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Port)
	}
	if cfg.MaxTraders != 16 {
		t.Errorf("max_traders = %d, want 16", cfg.MaxTraders)
	}
	// Unset fields keep their defaults.
	if cfg.MaxAccounts != DefaultMaxAccounts {
		t.Errorf("max_accounts = %d, want default %d", cfg.MaxAccounts, DefaultMaxAccounts)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s, want debug", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: [nope"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for malformed YAML")
	}
}
