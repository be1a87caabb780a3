// Package config loads service configuration from an optional TOML file and the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration decoded from strings such as "5s" or "10m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// DatabaseConfig selects the store. URLs starting with sqlite:// open a local file.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// EngineConfig points at the external workflow engine's REST API.
type EngineConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout Duration `toml:"timeout"`
}

// PollerConfig bounds execution polling.
type PollerConfig struct {
	Interval      Duration `toml:"interval"`
	MaxAttempts   int      `toml:"max_attempts"`
	MaxFailures   int      `toml:"max_failures"`
	ReportRetries int      `toml:"report_retries"`
}

// RelayConfig configures realtime fan-out. An empty RedisURL keeps fan-out in process.
type RelayConfig struct {
	RedisURL       string   `toml:"redis_url"`
	Prefix         string   `toml:"prefix"`
	PublishTimeout Duration `toml:"publish_timeout"`
}

// StagesConfig overrides the embedded stage catalog.
type StagesConfig struct {
	CatalogPath string `toml:"catalog_path"`
}

// LLMConfig configures content scoring. Scoring is disabled without an API key.
type LLMConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// Config holds all service configuration.
type Config struct {
	Server        ServerConfig   `toml:"server"`
	Database      DatabaseConfig `toml:"database"`
	Engine        EngineConfig   `toml:"engine"`
	Poller        PollerConfig   `toml:"poller"`
	Relay         RelayConfig    `toml:"relay"`
	Stages        StagesConfig   `toml:"stages"`
	LLM           LLMConfig      `toml:"llm"`
	WebhookSecret string         `toml:"webhook_secret"`
}

// Default returns the configuration used when neither file nor environment set a value.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Engine: EngineConfig{
			Timeout: Duration{10 * time.Second},
		},
		Poller: PollerConfig{
			Interval:      Duration{5 * time.Second},
			MaxAttempts:   360,
			MaxFailures:   5,
			ReportRetries: 3,
		},
		Relay: RelayConfig{
			Prefix:         "content-runs:",
			PublishTimeout: Duration{2 * time.Second},
		},
		LLM: LLMConfig{
			Model: "gemini-2.0-flash",
		},
	}
}

// Load reads configuration from the TOML file at path, if any, then applies
// environment overrides. Environment variables always win over file values.
// A missing file is not an error; unknown keys are.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			md, err := toml.DecodeFile(path, &cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				return nil, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
			}
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT: %v", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("N8N_BASE_URL"); v != "" {
		cfg.Engine.BaseURL = v
	}
	if v := os.Getenv("N8N_API_KEY"); v != "" {
		cfg.Engine.APIKey = v
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if err := cfg.Poller.Interval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("invalid POLL_INTERVAL: %w", err)
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Relay.RedisURL = v
	}
	if v := os.Getenv("STAGE_CATALOG"); v != "" {
		cfg.Stages.CatalogPath = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalize validates the configuration.
func (c *Config) normalize() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config error: port out of range: %d", c.Server.Port)
	}
	if c.Poller.Interval.Duration <= 0 {
		return fmt.Errorf("config error: poller interval must be positive")
	}
	if c.Poller.MaxAttempts < 1 {
		return fmt.Errorf("config error: poller max_attempts must be at least 1")
	}
	if c.Poller.MaxFailures < 1 {
		return fmt.Errorf("config error: poller max_failures must be at least 1")
	}
	if c.Poller.ReportRetries < 0 {
		return fmt.Errorf("config error: poller report_retries must be non-negative")
	}
	if c.Engine.Timeout.Duration <= 0 {
		return fmt.Errorf("config error: engine timeout must be positive")
	}
	if c.Relay.PublishTimeout.Duration <= 0 {
		return fmt.Errorf("config error: relay publish_timeout must be positive")
	}
	if c.Engine.BaseURL != "" {
		u, err := url.Parse(c.Engine.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config error: invalid engine base_url: %q", c.Engine.BaseURL)
		}
		c.Engine.BaseURL = strings.TrimRight(c.Engine.BaseURL, "/")
	}
	return nil
}

// PollingEnabled reports whether execution polling can run.
func (c *Config) PollingEnabled() bool {
	return c.Engine.BaseURL != "" && c.Engine.APIKey != ""
}

// SQLitePath returns the file path of a sqlite:// database URL.
func (c *Config) SQLitePath() (string, bool) {
	const scheme = "sqlite://"
	if !strings.HasPrefix(c.Database.URL, scheme) {
		return "", false
	}
	return strings.TrimPrefix(c.Database.URL, scheme), true
}
