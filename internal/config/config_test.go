package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "ALLOWED_ORIGINS", "DATABASE_URL", "N8N_BASE_URL", "N8N_API_KEY", "POLL_INTERVAL",
	"REDIS_URL", "STAGE_CATALOG", "GEMINI_API_KEY", "GEMINI_MODEL", "WEBHOOK_SECRET",
	"JWT_SECRET", "JWT_EXPIRATION_HOURS", "BCRYPT_COST", "PASSWORD_PEPPER",
}

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Poller.Interval.Duration)
	assert.Equal(t, 360, cfg.Poller.MaxAttempts)
	assert.Equal(t, 5, cfg.Poller.MaxFailures)
	assert.Equal(t, 3, cfg.Poller.ReportRetries)
	assert.Equal(t, 10*time.Second, cfg.Engine.Timeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.Relay.PublishTimeout.Duration)
	assert.False(t, cfg.PollingEnabled())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 360, cfg.Poller.MaxAttempts)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
webhook_secret = "shh"

[server]
port = 9090
allowed_origins = ["https://app.example.com"]

[engine]
base_url = "https://n8n.example.com/"
api_key = "key"
timeout = "3s"

[poller]
interval = "250ms"
max_attempts = 10
max_failures = 2
report_retries = 1

[relay]
redis_url = "redis://localhost:6379/0"
prefix = "test:"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "https://n8n.example.com", cfg.Engine.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Engine.Timeout.Duration)
	assert.Equal(t, 250*time.Millisecond, cfg.Poller.Interval.Duration)
	assert.Equal(t, 10, cfg.Poller.MaxAttempts)
	assert.Equal(t, 2, cfg.Poller.MaxFailures)
	assert.Equal(t, 1, cfg.Poller.ReportRetries)
	assert.Equal(t, "test:", cfg.Relay.Prefix)
	assert.Equal(t, "shh", cfg.WebhookSecret)
	assert.True(t, cfg.PollingEnabled())
	// Unset keys keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Relay.PublishTimeout.Duration)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
[server]
port = 9090

[database]
url = "postgres://file"
`)
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "sqlite:///tmp/runs.db")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("POLL_INTERVAL", "1s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, time.Second, cfg.Poller.Interval.Duration)
	p, ok := cfg.SQLitePath()
	assert.True(t, ok)
	assert.Equal(t, "/tmp/runs.db", p)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{name: "unknown key", content: "[poller]\nintervall = \"5s\"\n"},
		{name: "bad duration", content: "[poller]\ninterval = \"soon\"\n"},
		{name: "zero attempts", content: "[poller]\nmax_attempts = 0\n"},
		{name: "bad base url", content: "[engine]\nbase_url = \"n8n\"\n"},
		{name: "bad port env", env: map[string]string{"PORT": "http"}},
		{name: "bad poll env", env: map[string]string{"POLL_INTERVAL": "-"}},
		{name: "port range", env: map[string]string{"PORT": "70000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.content != "" {
				path = writeFile(t, tt.content)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSQLitePath_Postgres(t *testing.T) {
	cfg := Default()
	cfg.Database.URL = "postgres://localhost/runs"
	_, ok := cfg.SQLitePath()
	assert.False(t, ok)
}
