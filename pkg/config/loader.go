// Package config provides configuration loading and management for the crash reporter.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/armorclaw/crashreport/pkg/logger"
)

// Load loads configuration from a file path. TOML is the default format;
// files ending in .yaml or .yml are parsed as YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, p := range ConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		logger.Warn("no configuration file found, using defaults", "checked", ConfigPaths())
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return toml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CRASHREPORT_ENV"); v != "" {
		cfg.Reporter.Environment = v
	}
	if v := os.Getenv("CRASHREPORT_BACKTRACE_FOLDER"); v != "" {
		cfg.Reporter.BacktraceFolder = v
	}
	if v := os.Getenv("CRASHREPORT_SYSTEM_VERSION"); v != "" {
		cfg.Reporter.SystemVersion = v
	}

	if v := os.Getenv("CRASHREPORT_MAIL_BACKEND"); v != "" {
		cfg.Mail.Backend = v
	}
	if v := os.Getenv("CRASHREPORT_MAIL_SENDER"); v != "" {
		cfg.Mail.Sender = v
	}
	if v := os.Getenv("CRASHREPORT_MAIL_RECEIVERS"); v != "" {
		cfg.Mail.Receivers = splitList(v)
	}
	if v := os.Getenv("CRASHREPORT_SMTP_HOST"); v != "" {
		cfg.Mail.SMTP.Host = v
	}
	if v := os.Getenv("CRASHREPORT_SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CRASHREPORT_SMTP_PORT: %w", err)
		}
		cfg.Mail.SMTP.Port = port
	}
	if v := os.Getenv("CRASHREPORT_SMTP_USERNAME"); v != "" {
		cfg.Mail.SMTP.Username = v
	}
	if v := os.Getenv("CRASHREPORT_SMTP_PASSWORD"); v != "" {
		cfg.Mail.SMTP.Password = v
	}
	if v := os.Getenv("CRASHREPORT_SPOOL_BUS"); v != "" {
		cfg.Mail.Spool.Bus = v
	}
	if v := os.Getenv("CRASHREPORT_SPOOL_REDIS"); v != "" {
		cfg.Mail.Spool.RedisAddr = v
	}

	if v := os.Getenv("CRASHREPORT_ARTIFACT_BACKEND"); v != "" {
		cfg.Artifacts.Backend = v
	}
	if v := os.Getenv("CRASHREPORT_ARTIFACT_REDIS"); v != "" {
		cfg.Artifacts.RedisAddr = v
	}
	if v := os.Getenv("CRASHREPORT_SESSION_BACKEND"); v != "" {
		cfg.Sessions.Backend = v
	}
	if v := os.Getenv("CRASHREPORT_SESSION_REDIS"); v != "" {
		cfg.Sessions.RedisAddr = v
	}

	if v := os.Getenv("CRASHREPORT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}

	if v := os.Getenv("CRASHREPORT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CRASHREPORT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CRASHREPORT_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
	if v := os.Getenv("CRASHREPORT_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Save saves the configuration to a file, in YAML when the path says so
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgCopy := *cfg
	cfgCopy.Reporter.BacktraceFolder = filepath.ToSlash(cfg.Reporter.BacktraceFolder)
	cfgCopy.Artifacts.SQLitePath = filepath.ToSlash(cfg.Artifacts.SQLitePath)
	cfgCopy.Sessions.SQLitePath = filepath.ToSlash(cfg.Sessions.SQLitePath)

	var data []byte
	if isYAML(path) {
		out, err := yaml.Marshal(&cfgCopy)
		if err != nil {
			return fmt.Errorf("failed to marshal configuration: %w", err)
		}
		data = out
	} else {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(&cfgCopy); err != nil {
			return fmt.Errorf("failed to marshal configuration: %w", err)
		}
		data = buf.Bytes()
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates an example configuration file
func GenerateExampleConfig(path string) error {
	cfg := DefaultConfig()

	cfg.Reporter.Environment = "production"
	cfg.Reporter.BacktraceFolder = "/var/lib/crashreport/backtraces"
	cfg.Reporter.SystemVersion = "v1.0.0"
	cfg.Mail.Backend = "smtp"
	cfg.Mail.Sender = "Exception Handler <no-reply@example.com>"
	cfg.Mail.Receivers = []string{"ops@example.com"}
	cfg.Mail.SMTP.Host = "smtp.example.com"
	cfg.Mail.SMTP.Port = 587
	cfg.Mail.SMTP.Username = "crashreport"
	cfg.Mail.SMTP.Password = "change-me"
	cfg.Mail.SMTP.TLS = "mandatory"

	return Save(cfg, path)
}
