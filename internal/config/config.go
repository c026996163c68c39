package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level configuration for remindd.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Reminder ReminderConfig `koanf:"reminder"`
	Dispatch DispatchConfig `koanf:"dispatch"`
	Notifier NotifierConfig `koanf:"notifier"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // "debug" or "release"
}

// DatabaseConfig selects and parameterizes the storage backend.
type DatabaseConfig struct {
	// Backend is "postgres" or "mongo". Both satisfy the same store
	// contract; the engine behaves identically over either.
	Backend string `koanf:"backend"`

	// DSN configures the postgres backend.
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`

	// URI and Name configure the mongo backend.
	URI  string `koanf:"uri"`
	Name string `koanf:"name"`
}

// ReminderConfig holds reminder computation settings.
type ReminderConfig struct {
	// LeadInterval is how long before event_time the reminder triggers.
	LeadInterval string `koanf:"lead_interval"`
}

// DispatchConfig holds the dispatch loop settings.
// Durations are strings ("30s", "2m") parsed once at startup.
type DispatchConfig struct {
	Enabled            bool   `koanf:"enabled"`
	ScanInterval       string `koanf:"scan_interval"`
	ClaimLeaseDuration string `koanf:"claim_lease_duration"`
	MaxRetryAttempts   int    `koanf:"max_retry_attempts"`
	RetryBackoffBase   string `koanf:"retry_backoff_base"`
	RetryBackoffCap    string `koanf:"retry_backoff_cap"`
	BatchLimit         int    `koanf:"batch_limit"`
	Concurrency        int    `koanf:"concurrency"`
}

// NotifierConfig selects the notification transport.
type NotifierConfig struct {
	// Type is "log" or "webhook".
	Type       string `koanf:"type"`
	WebhookURL string `koanf:"webhook_url"`
	Timeout    string `koanf:"timeout"`
}

// Durations is the parsed form of every duration-valued setting.
type Durations struct {
	LeadInterval       time.Duration
	ScanInterval       time.Duration
	ClaimLeaseDuration time.Duration
	RetryBackoffBase   time.Duration
	RetryBackoffCap    time.Duration
	NotifierTimeout    time.Duration
}

// ParseDurations validates and parses all duration settings in one place so
// a bad value fails startup instead of surfacing mid-flight.
func (c *Config) ParseDurations() (Durations, error) {
	var (
		d   Durations
		err error
	)

	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"reminder.lead_interval", c.Reminder.LeadInterval, &d.LeadInterval},
		{"dispatch.scan_interval", c.Dispatch.ScanInterval, &d.ScanInterval},
		{"dispatch.claim_lease_duration", c.Dispatch.ClaimLeaseDuration, &d.ClaimLeaseDuration},
		{"dispatch.retry_backoff_base", c.Dispatch.RetryBackoffBase, &d.RetryBackoffBase},
		{"dispatch.retry_backoff_cap", c.Dispatch.RetryBackoffCap, &d.RetryBackoffCap},
		{"notifier.timeout", c.Notifier.Timeout, &d.NotifierTimeout},
	}

	for _, f := range fields {
		*f.dst, err = time.ParseDuration(f.value)
		if err != nil {
			return Durations{}, fmt.Errorf("invalid %s %q: %w", f.name, f.value, err)
		}
		if *f.dst <= 0 {
			return Durations{}, fmt.Errorf("invalid %s %q: must be positive", f.name, f.value)
		}
	}

	return d, nil
}

// Load loads the configuration from the given file path and environment variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"server.port":                   8080,
		"server.host":                   "0.0.0.0",
		"server.max_body_size_mb":       1,
		"server.mode":                   "release",
		"database.backend":              "postgres",
		"database.dsn":                  "postgres://localhost:5432/remindd?sslmode=disable",
		"database.max_open_conns":       25,
		"database.max_idle_conns":       25,
		"database.auto_migrate":         true,
		"database.uri":                  "mongodb://localhost:27017",
		"database.name":                 "remindd",
		"reminder.lead_interval":        "5m",
		"dispatch.enabled":              true,
		"dispatch.scan_interval":        "1m",
		"dispatch.claim_lease_duration": "5m",
		"dispatch.max_retry_attempts":   3,
		"dispatch.retry_backoff_base":   "1m",
		"dispatch.retry_backoff_cap":    "1h",
		"dispatch.batch_limit":          100,
		"dispatch.concurrency":          8,
		"notifier.type":                 "log",
		"notifier.webhook_url":          "",
		"notifier.timeout":              "10s",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// 2. Load from file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// 3. Load from Environment Variables
	// REMINDD_SERVER__PORT=9090 overrides server.port
	if err := k.Load(env.Provider("REMINDD_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "REMINDD_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Backend {
	case "postgres", "mongo":
	default:
		return fmt.Errorf("unsupported database backend %q (want postgres or mongo)", c.Database.Backend)
	}

	switch c.Notifier.Type {
	case "log":
	case "webhook":
		if c.Notifier.WebhookURL == "" {
			return fmt.Errorf("notifier.webhook_url is required when notifier.type is webhook")
		}
	default:
		return fmt.Errorf("unsupported notifier type %q (want log or webhook)", c.Notifier.Type)
	}

	if c.Dispatch.MaxRetryAttempts < 1 {
		return fmt.Errorf("dispatch.max_retry_attempts must be at least 1")
	}

	if _, err := c.ParseDurations(); err != nil {
		return err
	}
	return nil
}
