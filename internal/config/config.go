package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	BufferSize      int    `yaml:"buffer_size"`
	TimeoutSeconds  int    `yaml:"timeout"`
	KeepAlive       bool   `yaml:"keep_alive"`
	CADir           string `yaml:"ca_dir"`
	LogFile         string `yaml:"log_file"`
	Verbose         bool   `yaml:"verbose"`
	HTTPSSkipVerify bool   `yaml:"https_skip_verify"`
}

// CLIOptions represents command-line options
type CLIOptions struct {
	Host    string
	Port    int
	CADir   string
	LogFile string
	Verbose bool
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:           "127.0.0.1",
		Port:           8888,
		BufferSize:     8192,
		TimeoutSeconds: 5,
		KeepAlive:      true,
		CADir:          defaultCADir(),
		LogFile:        "mitm.log",
	}
}

// defaultCADir returns the per-user directory for the CA key pair
func defaultCADir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "mitm")
}

// Load loads configuration from file and merges with CLI options
func Load(configFile string, cliOpts CLIOptions) (*Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with CLI options
	if cliOpts.Host != "" {
		cfg.Host = cliOpts.Host
	}
	if cliOpts.Port != 0 {
		cfg.Port = cliOpts.Port
	}
	if cliOpts.CADir != "" {
		cfg.CADir = cliOpts.CADir
	}
	if cliOpts.LogFile != "" {
		cfg.LogFile = cliOpts.LogFile
	}
	if cliOpts.Verbose {
		cfg.Verbose = cliOpts.Verbose
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Port)
	}

	if c.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes")
	}

	if c.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout must be at least 1 second")
	}

	if c.CADir == "" {
		return fmt.Errorf("ca_dir must be set")
	}

	return nil
}

// Timeout returns the idle timeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Save writes the configuration to a file
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
