package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %s, want 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 8888 {
		t.Errorf("Port = %d, want 8888", cfg.Port)
	}
	if cfg.BufferSize != 8192 {
		t.Errorf("BufferSize = %d, want 8192", cfg.BufferSize)
	}
	if cfg.TimeoutSeconds != 5 {
		t.Errorf("TimeoutSeconds = %d, want 5", cfg.TimeoutSeconds)
	}
	if !cfg.KeepAlive {
		t.Error("KeepAlive should default to true")
	}
	if cfg.CADir == "" {
		t.Error("CADir should have a default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `host: 0.0.0.0
port: 9999
buffer_size: 16384
timeout: 30
keep_alive: false
verbose: true
`
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configFile, CLIOptions{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %s, want 0.0.0.0", cfg.Host)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.BufferSize != 16384 {
		t.Errorf("BufferSize = %d, want 16384", cfg.BufferSize)
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("Timeout() = %v, want 30s", cfg.Timeout())
	}
	if cfg.KeepAlive {
		t.Error("KeepAlive should be false")
	}
	if !cfg.Verbose {
		t.Error("Verbose should be true")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("port: 9999\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configFile, CLIOptions{
		Host:    "10.0.0.1",
		Port:    7777,
		LogFile: "other.log",
		Verbose: true,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Host != "10.0.0.1" {
		t.Errorf("Host = %s, want 10.0.0.1", cfg.Host)
	}
	if cfg.Port != 7777 {
		t.Errorf("CLI port should win over file, got %d", cfg.Port)
	}
	if cfg.LogFile != "other.log" {
		t.Errorf("LogFile = %s, want other.log", cfg.LogFile)
	}
	if !cfg.Verbose {
		t.Error("Verbose should be true")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), CLIOptions{}); err == nil {
		t.Error("Load should fail for a missing config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("port: [not a port"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configFile, CLIOptions{}); err == nil {
		t.Error("Load should fail on malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"port too low", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"buffer too small", func(c *Config) { c.BufferSize = 100 }, true},
		{"zero timeout", func(c *Config) { c.TimeoutSeconds = 0 }, true},
		{"empty ca dir", func(c *Config) { c.CADir = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Port = 9001
	cfg.KeepAlive = false

	if err := cfg.Save(configFile); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(configFile, CLIOptions{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Port != 9001 {
		t.Errorf("Port = %d, want 9001", loaded.Port)
	}
	if loaded.KeepAlive {
		t.Error("KeepAlive should survive the round trip as false")
	}
}
