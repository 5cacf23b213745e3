// Package config provides configuration management for the mail server.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Auth provider types.
const (
	AuthTypeSQLite = "sqlite"
	AuthTypeGRPC   = "grpc"
)

// Config is the top-level configuration shared by every maild subcommand.
// One file carries the shared [server] settings plus one section per service.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Pop3    Pop3Config    `toml:"pop3d"`
	SMTP    SMTPConfig    `toml:"smtpd"`
	Auth    AuthConfig    `toml:"auth"`
	Authd   AuthdConfig   `toml:"authd"`
	Metrics MetricsConfig `toml:"metrics"`
}

// ServerConfig holds shared settings used by all mail services.
type ServerConfig struct {
	Hostname string `toml:"hostname"`
	LogLevel string `toml:"log_level"`
	Maildir  string `toml:"maildir"`
}

// Pop3Config holds the retrieval service settings.
type Pop3Config struct {
	Listeners      []ListenerConfig `toml:"listeners"`
	MaxConnections int              `toml:"max_connections"`
	Timeouts       TimeoutsConfig   `toml:"timeouts"`
}

// SMTPConfig holds the submission service settings.
type SMTPConfig struct {
	Listeners      []ListenerConfig `toml:"listeners"`
	Workers        int              `toml:"workers"`
	MaxMessageSize int64            `toml:"max_message_size"`
	MaxRecipients  int              `toml:"max_recipients"`
	RequireAuth    *bool            `toml:"require_auth"`
	Timeouts       TimeoutsConfig   `toml:"timeouts"`
}

// ListenerConfig defines settings for a single listener.
type ListenerConfig struct {
	Address string `toml:"address"`
}

// TimeoutsConfig defines timeout durations.
type TimeoutsConfig struct {
	Command string `toml:"command"`
	Idle    string `toml:"idle"`
}

// AuthConfig selects and configures the auth provider.
type AuthConfig struct {
	Type     string `toml:"type"`
	Database string `toml:"database"`
	Address  string `toml:"address"`
	Timeout  string `toml:"timeout"`
}

// AuthdConfig configures the standalone authentication daemon.
type AuthdConfig struct {
	Listen string `toml:"listen"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// DefaultMaxMessageSize is the SMTP payload ceiling (10 MiB).
const DefaultMaxMessageSize = 10 * 1024 * 1024

// Default returns a Config with sensible default values.
func Default() Config {
	requireAuth := true
	return Config{
		Server: ServerConfig{
			Hostname: "localhost",
			LogLevel: "info",
			Maildir:  "./mailserver",
		},
		Pop3: Pop3Config{
			Listeners:      []ListenerConfig{{Address: ":110"}},
			MaxConnections: 100,
			Timeouts: TimeoutsConfig{
				Command: "1m",
				Idle:    "10m",
			},
		},
		SMTP: SMTPConfig{
			Listeners:      []ListenerConfig{{Address: ":25"}},
			Workers:        10,
			MaxMessageSize: DefaultMaxMessageSize,
			MaxRecipients:  100,
			RequireAuth:    &requireAuth,
			Timeouts: TimeoutsConfig{
				Command: "5m",
				Idle:    "10m",
			},
		},
		Auth: AuthConfig{
			Type:     AuthTypeSQLite,
			Database: "./users.db",
			Address:  "localhost:7070",
			Timeout:  "5s",
		},
		Authd: AuthdConfig{
			Listen: ":7070",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9101",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Server.Hostname == "" {
		return errors.New("hostname is required")
	}

	if c.Server.Maildir == "" {
		return errors.New("maildir is required")
	}

	if err := validateListeners("pop3d", c.Pop3.Listeners); err != nil {
		return err
	}
	if err := validateListeners("smtpd", c.SMTP.Listeners); err != nil {
		return err
	}

	if c.Pop3.MaxConnections <= 0 {
		return errors.New("pop3d max_connections must be positive")
	}

	if c.SMTP.Workers <= 0 {
		return errors.New("smtpd workers must be positive")
	}

	if c.SMTP.MaxMessageSize <= 0 {
		return errors.New("smtpd max_message_size must be positive")
	}

	if c.SMTP.MaxRecipients <= 0 {
		return errors.New("smtpd max_recipients must be positive")
	}

	if err := c.Pop3.Timeouts.validate("pop3d"); err != nil {
		return err
	}
	if err := c.SMTP.Timeouts.validate("smtpd"); err != nil {
		return err
	}

	switch c.Auth.Type {
	case AuthTypeSQLite:
		if c.Auth.Database == "" {
			return errors.New("auth database is required for the sqlite provider")
		}
	case AuthTypeGRPC:
		if c.Auth.Address == "" {
			return errors.New("auth address is required for the grpc provider")
		}
	default:
		return fmt.Errorf("invalid auth type %q (valid: %s, %s)", c.Auth.Type, AuthTypeSQLite, AuthTypeGRPC)
	}

	if c.Auth.Timeout != "" {
		if _, err := time.ParseDuration(c.Auth.Timeout); err != nil {
			return fmt.Errorf("invalid auth timeout: %w", err)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	return nil
}

func validateListeners(section string, listeners []ListenerConfig) error {
	if len(listeners) == 0 {
		return fmt.Errorf("%s: at least one listener is required", section)
	}
	for i, l := range listeners {
		if l.Address == "" {
			return fmt.Errorf("%s listener %d: address is required", section, i)
		}
	}
	return nil
}

func (c *TimeoutsConfig) validate(section string) error {
	if c.Command != "" {
		if _, err := time.ParseDuration(c.Command); err != nil {
			return fmt.Errorf("%s: invalid command timeout: %w", section, err)
		}
	}
	if c.Idle != "" {
		if _, err := time.ParseDuration(c.Idle); err != nil {
			return fmt.Errorf("%s: invalid idle timeout: %w", section, err)
		}
	}
	return nil
}

// Addresses returns the listener addresses.
func (c *Pop3Config) Addresses() []string {
	return addresses(c.Listeners)
}

// Addresses returns the listener addresses.
func (c *SMTPConfig) Addresses() []string {
	return addresses(c.Listeners)
}

// AuthRequired reports whether envelope commands need a prior AUTH.
// Unset means required.
func (c *SMTPConfig) AuthRequired() bool {
	return c.RequireAuth == nil || *c.RequireAuth
}

func addresses(listeners []ListenerConfig) []string {
	out := make([]string, 0, len(listeners))
	for _, l := range listeners {
		out = append(out, l.Address)
	}
	return out
}

// CommandTimeout returns the command timeout as a time.Duration.
// Returns 1 minute if not configured or invalid.
func (c *TimeoutsConfig) CommandTimeout() time.Duration {
	return parseDuration(c.Command, time.Minute)
}

// IdleTimeout returns the idle timeout as a time.Duration.
// Returns 10 minutes if not configured or invalid.
func (c *TimeoutsConfig) IdleTimeout() time.Duration {
	return parseDuration(c.Idle, 10*time.Minute)
}

// CallTimeout returns the per-call deadline for remote auth.
// Returns 5 seconds if not configured or invalid.
func (c *AuthConfig) CallTimeout() time.Duration {
	return parseDuration(c.Timeout, 5*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
