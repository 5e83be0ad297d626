package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port        int `yaml:"port"`
		MetricsPort int `yaml:"metrics_port"`
	} `yaml:"server"`

	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	Payments struct {
		ExpiryMinutes int `yaml:"expiry_minutes"`
		PollSeconds   int `yaml:"poll_seconds"`
		SweepSeconds  int `yaml:"sweep_seconds"`
	} `yaml:"payments"`

	Ledger struct {
		MaxRetries       int `yaml:"max_retries"`
		RetryBackoffMSec int `yaml:"retry_backoff_msec"`
	} `yaml:"ledger"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.MetricsPort = 9090
	cfg.Database.Driver = "sqlite3"
	cfg.Database.DSN = "restaurant.db"
	cfg.Payments.ExpiryMinutes = 15
	cfg.Payments.PollSeconds = 5
	cfg.Payments.SweepSeconds = 30
	cfg.Ledger.MaxRetries = 3
	cfg.Ledger.RetryBackoffMSec = 25
	return cfg
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// PaymentExpiry returns the authorization lifetime.
func (c *Config) PaymentExpiry() time.Duration {
	return time.Duration(c.Payments.ExpiryMinutes) * time.Minute
}

// PollInterval returns the gateway polling cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Payments.PollSeconds) * time.Second
}

// SweepInterval returns the expiry sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Payments.SweepSeconds) * time.Second
}

// RetryBackoff returns the initial ledger retry backoff.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Ledger.RetryBackoffMSec) * time.Millisecond
}
