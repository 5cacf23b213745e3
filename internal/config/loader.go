package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath     string
	Hostname       string
	LogLevel       string
	Maildir        string
	Pop3Listen     string
	SMTPListen     string
	MaxConnections int
	Workers        int
	AuthType       string
	AuthDatabase   string
	AuthAddress    string
	AuthdListen    string
}

// RegisterFlags binds the shared flags to fs and returns the value holder.
// The caller parses fs, which lets subcommands add their own flags first.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.ConfigPath, "config", "./maild.toml", "Path to configuration file")
	fs.StringVar(&f.Hostname, "hostname", "", "Server hostname")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.Maildir, "maildir", "", "Root directory for mailboxes")
	fs.StringVar(&f.Pop3Listen, "pop3-listen", "", "POP3 listen address (replaces all configured pop3d listeners)")
	fs.StringVar(&f.SMTPListen, "smtp-listen", "", "SMTP listen address (replaces all configured smtpd listeners)")
	fs.IntVar(&f.MaxConnections, "max-connections", 0, "Maximum concurrent POP3 connections")
	fs.IntVar(&f.Workers, "workers", 0, "SMTP worker pool size")
	fs.StringVar(&f.AuthType, "auth-type", "", "Auth provider (sqlite, grpc)")
	fs.StringVar(&f.AuthDatabase, "auth-db", "", "SQLite user database path")
	fs.StringVar(&f.AuthAddress, "auth-addr", "", "Remote auth service address")
	fs.StringVar(&f.AuthdListen, "authd-listen", "", "Listen address for the auth daemon")

	return f
}

// Load parses a TOML configuration file and returns the Config.
// If the file does not exist, returns the default configuration.
// Values present in the file override the defaults section by section.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig Config
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Server = mergeServerConfig(cfg.Server, fileConfig.Server)
	cfg.Pop3 = mergePop3Config(cfg.Pop3, fileConfig.Pop3)
	cfg.SMTP = mergeSMTPConfig(cfg.SMTP, fileConfig.SMTP)
	cfg.Auth = mergeAuthConfig(cfg.Auth, fileConfig.Auth)
	cfg.Metrics = mergeMetricsConfig(cfg.Metrics, fileConfig.Metrics)

	if fileConfig.Authd.Listen != "" {
		cfg.Authd.Listen = fileConfig.Authd.Listen
	}

	return cfg, nil
}

// ApplyFlags merges command-line flag values into the config.
// Non-zero/non-empty flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.Hostname != "" {
		cfg.Server.Hostname = f.Hostname
	}

	if f.LogLevel != "" {
		cfg.Server.LogLevel = f.LogLevel
	}

	if f.Maildir != "" {
		cfg.Server.Maildir = f.Maildir
	}

	if f.Pop3Listen != "" {
		cfg.Pop3.Listeners = []ListenerConfig{{Address: f.Pop3Listen}}
	}

	if f.SMTPListen != "" {
		cfg.SMTP.Listeners = []ListenerConfig{{Address: f.SMTPListen}}
	}

	if f.MaxConnections > 0 {
		cfg.Pop3.MaxConnections = f.MaxConnections
	}

	if f.Workers > 0 {
		cfg.SMTP.Workers = f.Workers
	}

	if f.AuthType != "" {
		cfg.Auth.Type = f.AuthType
	}

	if f.AuthDatabase != "" {
		cfg.Auth.Database = f.AuthDatabase
	}

	if f.AuthAddress != "" {
		cfg.Auth.Address = f.AuthAddress
	}

	if f.AuthdListen != "" {
		cfg.Authd.Listen = f.AuthdListen
	}

	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags,
// then applies flag overrides.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(cfg, f), nil
}

func mergeServerConfig(dst, src ServerConfig) ServerConfig {
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.Maildir != "" {
		dst.Maildir = src.Maildir
	}
	return dst
}

func mergePop3Config(dst, src Pop3Config) Pop3Config {
	if len(src.Listeners) > 0 {
		dst.Listeners = src.Listeners
	}
	if src.MaxConnections > 0 {
		dst.MaxConnections = src.MaxConnections
	}
	dst.Timeouts = mergeTimeouts(dst.Timeouts, src.Timeouts)
	return dst
}

func mergeSMTPConfig(dst, src SMTPConfig) SMTPConfig {
	if len(src.Listeners) > 0 {
		dst.Listeners = src.Listeners
	}
	if src.Workers > 0 {
		dst.Workers = src.Workers
	}
	if src.MaxMessageSize > 0 {
		dst.MaxMessageSize = src.MaxMessageSize
	}
	if src.MaxRecipients > 0 {
		dst.MaxRecipients = src.MaxRecipients
	}
	// require_auth is a pointer so an explicit false survives the merge.
	if src.RequireAuth != nil {
		dst.RequireAuth = src.RequireAuth
	}
	dst.Timeouts = mergeTimeouts(dst.Timeouts, src.Timeouts)
	return dst
}

func mergeAuthConfig(dst, src AuthConfig) AuthConfig {
	if src.Type != "" {
		dst.Type = src.Type
	}
	if src.Database != "" {
		dst.Database = src.Database
	}
	if src.Address != "" {
		dst.Address = src.Address
	}
	if src.Timeout != "" {
		dst.Timeout = src.Timeout
	}
	return dst
}

func mergeMetricsConfig(dst, src MetricsConfig) MetricsConfig {
	if src.Enabled {
		dst.Enabled = src.Enabled
	}
	if src.Address != "" {
		dst.Address = src.Address
	}
	if src.Path != "" {
		dst.Path = src.Path
	}
	return dst
}

func mergeTimeouts(dst, src TimeoutsConfig) TimeoutsConfig {
	if src.Command != "" {
		dst.Command = src.Command
	}
	if src.Idle != "" {
		dst.Idle = src.Idle
	}
	return dst
}
