package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	crerrors "github.com/armorclaw/crashreport/pkg/errors"
)

// ErrInvalidConfig is returned (wrapped) by Validate.
var ErrInvalidConfig = crerrors.ErrInvalidConfig

// Config holds all crash reporter configuration
type Config struct {
	// Reporter configuration
	Reporter ReporterConfig `toml:"reporter" yaml:"reporter"`

	// Mail configuration
	Mail MailConfig `toml:"mail" yaml:"mail"`

	// Artifact store configuration
	Artifacts ArtifactsConfig `toml:"artifacts" yaml:"artifacts"`

	// Session store configuration
	Sessions SessionsConfig `toml:"sessions" yaml:"sessions"`

	// Redaction overrides
	Redaction RedactionConfig `toml:"redaction" yaml:"redaction"`

	// HTTP server configuration
	Server ServerConfig `toml:"server" yaml:"server"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
}

// ReporterConfig holds the capture and correlation settings
type ReporterConfig struct {
	// Environment enables reporting when set to "production"
	Environment string `toml:"environment" yaml:"environment" env:"CRASHREPORT_ENV"`

	// BacktraceFolder is the namespace artifact names are generated in
	BacktraceFolder string `toml:"backtrace_folder" yaml:"backtrace_folder" env:"CRASHREPORT_BACKTRACE_FOLDER"`

	// SystemVersion is shown in report bodies (release tag, commit)
	SystemVersion string `toml:"system_version" yaml:"system_version" env:"CRASHREPORT_SYSTEM_VERSION"`

	// DefaultUser is used when no identity is available
	DefaultUser string `toml:"default_user" yaml:"default_user"`

	// ReportStatuses gates the response phase; empty reports on any status
	ReportStatuses []int `toml:"report_statuses" yaml:"report_statuses"`

	// SessionKeyPrefix namespaces the correlation keys in the session
	SessionKeyPrefix string `toml:"session_key_prefix" yaml:"session_key_prefix"`

	// SessionTokenKey is stripped from the session dump
	SessionTokenKey string `toml:"session_token_key" yaml:"session_token_key"`
}

// MailConfig holds notification settings
type MailConfig struct {
	// Backend selects the transport: "smtp" or "spool"
	Backend string `toml:"backend" yaml:"backend" env:"CRASHREPORT_MAIL_BACKEND"`

	// Sender is the From address
	Sender string `toml:"sender" yaml:"sender" env:"CRASHREPORT_MAIL_SENDER"`

	// Receivers are the To addresses
	Receivers []string `toml:"receivers" yaml:"receivers"`

	// SubjectPrefix starts every subject line
	SubjectPrefix string `toml:"subject_prefix" yaml:"subject_prefix"`

	// TemplateDir optionally overrides the embedded templates
	TemplateDir string `toml:"template_dir" yaml:"template_dir"`

	SMTP  SMTPConfig  `toml:"smtp" yaml:"smtp"`
	Spool SpoolConfig `toml:"spool" yaml:"spool"`
}

// SMTPConfig holds SMTP relay settings, shared by both transports
type SMTPConfig struct {
	Host     string `toml:"host" yaml:"host" env:"CRASHREPORT_SMTP_HOST"`
	Port     int    `toml:"port" yaml:"port" env:"CRASHREPORT_SMTP_PORT"`
	Username string `toml:"username" yaml:"username" env:"CRASHREPORT_SMTP_USERNAME"`
	Password string `toml:"password" yaml:"password" env:"CRASHREPORT_SMTP_PASSWORD"`

	// TLS is one of "opportunistic", "mandatory", "none"
	TLS string `toml:"tls" yaml:"tls"`

	// Timeout for dial and send, e.g. "15s"
	Timeout string `toml:"timeout" yaml:"timeout"`
}

// SpoolConfig holds spooled delivery settings
type SpoolConfig struct {
	// Bus is "memory" (in-process) or "redis" (Redis Streams)
	Bus string `toml:"bus" yaml:"bus" env:"CRASHREPORT_SPOOL_BUS"`

	Topic         string `toml:"topic" yaml:"topic"`
	RedisAddr     string `toml:"redis_addr" yaml:"redis_addr" env:"CRASHREPORT_SPOOL_REDIS"`
	ConsumerGroup string `toml:"consumer_group" yaml:"consumer_group"`

	// RatePerSecond throttles the flusher; Burst is the limiter bucket size
	RatePerSecond float64 `toml:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `toml:"burst" yaml:"burst"`

	// MaxRetries per spooled message before it is dropped
	MaxRetries int `toml:"max_retries" yaml:"max_retries"`
}

// ArtifactsConfig holds backtrace artifact storage settings
type ArtifactsConfig struct {
	// Backend is "file", "sqlite" or "redis"
	Backend string `toml:"backend" yaml:"backend" env:"CRASHREPORT_ARTIFACT_BACKEND"`

	SQLitePath  string `toml:"sqlite_path" yaml:"sqlite_path"`
	RedisAddr   string `toml:"redis_addr" yaml:"redis_addr" env:"CRASHREPORT_ARTIFACT_REDIS"`
	RedisPrefix string `toml:"redis_prefix" yaml:"redis_prefix"`

	// Retention is how long an unreported artifact is kept, e.g. "24h"
	Retention string `toml:"retention" yaml:"retention"`

	// SweepSchedule is a cron spec for the janitor; empty disables it
	SweepSchedule string `toml:"sweep_schedule" yaml:"sweep_schedule"`
}

// SessionsConfig holds the HTTP session store settings
type SessionsConfig struct {
	// Backend is "memory", "sqlite" or "redis"
	Backend string `toml:"backend" yaml:"backend" env:"CRASHREPORT_SESSION_BACKEND"`

	CookieName  string `toml:"cookie_name" yaml:"cookie_name"`
	TTL         string `toml:"ttl" yaml:"ttl"`
	SQLitePath  string `toml:"sqlite_path" yaml:"sqlite_path"`
	RedisAddr   string `toml:"redis_addr" yaml:"redis_addr" env:"CRASHREPORT_SESSION_REDIS"`
	RedisPrefix string `toml:"redis_prefix" yaml:"redis_prefix"`
}

// RedactionConfig replaces the default field list of a source when non-empty
type RedactionConfig struct {
	Request []string `toml:"request" yaml:"request"`
	Server  []string `toml:"server" yaml:"server"`
	Headers []string `toml:"headers" yaml:"headers"`
	Cookies []string `toml:"cookies" yaml:"cookies"`
}

// ServerConfig holds the demo HTTP server settings
type ServerConfig struct {
	Addr         string `toml:"addr" yaml:"addr" env:"CRASHREPORT_ADDR"`
	MetricsPath  string `toml:"metrics_path" yaml:"metrics_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes" yaml:"max_body_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level" env:"CRASHREPORT_LOG_LEVEL"`
	Format string `toml:"format" yaml:"format" env:"CRASHREPORT_LOG_FORMAT"`
	Output string `toml:"output" yaml:"output" env:"CRASHREPORT_LOG_OUTPUT"`
	File   string `toml:"file" yaml:"file" env:"CRASHREPORT_LOG_FILE"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	dataDir := filepath.Join(os.TempDir(), "crashreport")

	return &Config{
		Reporter: ReporterConfig{
			Environment:      "dev",
			BacktraceFolder:  filepath.Join(dataDir, "backtraces"),
			SystemVersion:    "unknown",
			DefaultUser:      "No user",
			ReportStatuses:   []int{500},
			SessionKeyPrefix: "crashreport.",
			SessionTokenKey:  "_security_main",
		},
		Mail: MailConfig{
			Backend:       "spool",
			Sender:        "Exception Handler <crashreport@localhost>",
			Receivers:     []string{},
			SubjectPrefix: "Exception Handler",
			SMTP: SMTPConfig{
				Host:    "localhost",
				Port:    25,
				TLS:     "opportunistic",
				Timeout: "15s",
			},
			Spool: SpoolConfig{
				Bus:           "memory",
				Topic:         "crashreport.mail",
				ConsumerGroup: "crashreport-flusher",
				RatePerSecond: 1,
				Burst:         5,
				MaxRetries:    5,
			},
		},
		Artifacts: ArtifactsConfig{
			Backend:       "file",
			SQLitePath:    filepath.Join(dataDir, "artifacts.db"),
			RedisPrefix:   "crashreport:artifact:",
			Retention:     "24h",
			SweepSchedule: "@every 1h",
		},
		Sessions: SessionsConfig{
			Backend:     "memory",
			CookieName:  "CRASHREPORTSESSID",
			TTL:         "24h",
			SQLitePath:  filepath.Join(dataDir, "sessions.db"),
			RedisPrefix: "crashreport:session:",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			MetricsPath:  "/metrics",
			MaxBodyBytes: 64 << 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// ConfigPaths returns the list of default configuration file paths to check
func ConfigPaths() []string {
	homeDir, _ := os.UserHomeDir()
	return []string{
		filepath.Join(homeDir, ".crashreport", "config.toml"),
		filepath.Join("/etc", "crashreport", "config.toml"),
		"./crashreport.toml",
		"./crashreport.yaml",
	}
}

// IsProduction reports whether reporting is enabled
func (c *Config) IsProduction() bool {
	return c.Reporter.Environment == "production" || c.Reporter.Environment == "prod"
}

// ArtifactRetention returns the parsed artifact retention
func (c *Config) ArtifactRetention() time.Duration {
	return parseDuration(c.Artifacts.Retention, 24*time.Hour)
}

// SessionTTL returns the parsed session lifetime
func (c *Config) SessionTTL() time.Duration {
	return parseDuration(c.Sessions.TTL, 24*time.Hour)
}

// SMTPTimeout returns the parsed SMTP timeout
func (c *Config) SMTPTimeout() time.Duration {
	return parseDuration(c.Mail.SMTP.Timeout, 15*time.Second)
}

func parseDuration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Reporter.BacktraceFolder == "" {
		return fmt.Errorf("%w: reporter.backtrace_folder is required", ErrInvalidConfig)
	}
	for _, s := range c.Reporter.ReportStatuses {
		if s < 100 || s > 599 {
			return fmt.Errorf("%w: reporter.report_statuses contains invalid status %d", ErrInvalidConfig, s)
		}
	}

	if !slices.Contains([]string{"smtp", "spool"}, c.Mail.Backend) {
		return fmt.Errorf("%w: mail.backend must be one of: smtp, spool", ErrInvalidConfig)
	}
	if c.Mail.Sender == "" {
		return fmt.Errorf("%w: mail.sender is required", ErrInvalidConfig)
	}
	if c.IsProduction() && len(c.Mail.Receivers) == 0 {
		return fmt.Errorf("%w: mail.receivers is required in production", ErrInvalidConfig)
	}
	if c.Mail.SMTP.Port < 0 || c.Mail.SMTP.Port > 65535 {
		return fmt.Errorf("%w: mail.smtp.port out of range", ErrInvalidConfig)
	}
	if !slices.Contains([]string{"", "opportunistic", "mandatory", "none"}, c.Mail.SMTP.TLS) {
		return fmt.Errorf("%w: mail.smtp.tls must be one of: opportunistic, mandatory, none", ErrInvalidConfig)
	}
	if c.Mail.Backend == "spool" {
		switch c.Mail.Spool.Bus {
		case "memory":
		case "redis":
			if c.Mail.Spool.RedisAddr == "" {
				return fmt.Errorf("%w: mail.spool.redis_addr is required for the redis bus", ErrInvalidConfig)
			}
		default:
			return fmt.Errorf("%w: mail.spool.bus must be one of: memory, redis", ErrInvalidConfig)
		}
		if c.Mail.Spool.Topic == "" {
			return fmt.Errorf("%w: mail.spool.topic is required", ErrInvalidConfig)
		}
		if c.Mail.Spool.RatePerSecond < 0 {
			return fmt.Errorf("%w: mail.spool.rate_per_second cannot be negative", ErrInvalidConfig)
		}
	}

	switch c.Artifacts.Backend {
	case "file":
	case "sqlite":
		if c.Artifacts.SQLitePath == "" {
			return fmt.Errorf("%w: artifacts.sqlite_path is required for the sqlite backend", ErrInvalidConfig)
		}
	case "redis":
		if c.Artifacts.RedisAddr == "" {
			return fmt.Errorf("%w: artifacts.redis_addr is required for the redis backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: artifacts.backend must be one of: file, sqlite, redis", ErrInvalidConfig)
	}
	if c.Artifacts.Retention != "" {
		if _, err := time.ParseDuration(c.Artifacts.Retention); err != nil {
			return fmt.Errorf("%w: artifacts.retention: %w", ErrInvalidConfig, err)
		}
	}

	switch c.Sessions.Backend {
	case "memory":
	case "sqlite":
		if c.Sessions.SQLitePath == "" {
			return fmt.Errorf("%w: sessions.sqlite_path is required for the sqlite backend", ErrInvalidConfig)
		}
	case "redis":
		if c.Sessions.RedisAddr == "" {
			return fmt.Errorf("%w: sessions.redis_addr is required for the redis backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: sessions.backend must be one of: memory, sqlite, redis", ErrInvalidConfig)
	}
	if c.Sessions.CookieName == "" {
		return fmt.Errorf("%w: sessions.cookie_name is required", ErrInvalidConfig)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		return fmt.Errorf("%w: logging.level must be one of: debug, info, warn, error", ErrInvalidConfig)
	}
	if !slices.Contains([]string{"json", "text"}, c.Logging.Format) {
		return fmt.Errorf("%w: logging.format must be one of: json, text", ErrInvalidConfig)
	}
	if !slices.Contains([]string{"stdout", "stderr", "file"}, c.Logging.Output) {
		return fmt.Errorf("%w: logging.output must be one of: stdout, stderr, file", ErrInvalidConfig)
	}
	if c.Logging.Output == "file" && c.Logging.File == "" {
		return fmt.Errorf("%w: logging.file is required when logging.output is 'file'", ErrInvalidConfig)
	}

	return nil
}

// LogOutput returns the logger output target
func (c *Config) LogOutput() string {
	if c.Logging.Output == "file" {
		return c.Logging.File
	}
	return c.Logging.Output
}
