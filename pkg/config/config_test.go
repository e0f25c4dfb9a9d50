package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crerrors "github.com/armorclaw/crashreport/pkg/errors"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, []int{500}, cfg.Reporter.ReportStatuses)
	assert.Equal(t, "No user", cfg.Reporter.DefaultUser)
	assert.Equal(t, 24*time.Hour, cfg.ArtifactRetention())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty folder", func(c *Config) { c.Reporter.BacktraceFolder = "" }},
		{"bad status", func(c *Config) { c.Reporter.ReportStatuses = []int{42} }},
		{"bad backend", func(c *Config) { c.Mail.Backend = "swift" }},
		{"production without receivers", func(c *Config) { c.Reporter.Environment = "production" }},
		{"redis spool without addr", func(c *Config) { c.Mail.Spool.Bus = "redis" }},
		{"redis artifacts without addr", func(c *Config) { c.Artifacts.Backend = "redis" }},
		{"bad retention", func(c *Config) { c.Artifacts.Retention = "soon" }},
		{"bad session backend", func(c *Config) { c.Sessions.Backend = "cookie" }},
		{"file log without path", func(c *Config) { c.Logging.Output = "file" }},
		{"bad tls", func(c *Config) { c.Mail.SMTP.TLS = "always" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, crerrors.ErrInvalidConfig)
		})
	}
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[reporter]
environment = "production"
backtrace_folder = "/srv/bt"
system_version = "abc123"

[mail]
backend = "smtp"
sender = "crash@example.com"
receivers = ["a@example.com", "b@example.com"]

[artifacts]
backend = "sqlite"
sqlite_path = "/srv/artifacts.db"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "/srv/bt", cfg.Reporter.BacktraceFolder)
	assert.Equal(t, "abc123", cfg.Reporter.SystemVersion)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Mail.Receivers)
	assert.Equal(t, "sqlite", cfg.Artifacts.Backend)
	// untouched sections keep their defaults
	assert.Equal(t, "memory", cfg.Sessions.Backend)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crashreport.yaml")
	content := `
reporter:
  backtrace_folder: /srv/yaml
  report_statuses: [500, 503]
mail:
  backend: spool
  sender: crash@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/yaml", cfg.Reporter.BacktraceFolder)
	assert.Equal(t, []int{500, 503}, cfg.Reporter.ReportStatuses)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CRASHREPORT_ENV", "production")
	t.Setenv("CRASHREPORT_MAIL_RECEIVERS", "ops@example.com, dev@example.com")
	t.Setenv("CRASHREPORT_SMTP_PORT", "2525")

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[mail]\nbackend = \"smtp\"\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"ops@example.com", "dev@example.com"}, cfg.Mail.Receivers)
	assert.Equal(t, 2525, cfg.Mail.SMTP.Port)
}

func TestLoad_EnvOverrideBadPort(t *testing.T) {
	t.Setenv("CRASHREPORT_SMTP_PORT", "twenty")
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSave_Load(t *testing.T) {
	for _, name := range []string{"out.toml", "out.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, GenerateExampleConfig(path))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "smtp", cfg.Mail.Backend)
			assert.Equal(t, 587, cfg.Mail.SMTP.Port)
			assert.Equal(t, []string{"ops@example.com"}, cfg.Mail.Receivers)
		})
	}
}
