package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Prefix is the environment variable prefix for all portal settings.
const Prefix = "PORTAL"

// Config holds client configuration loaded from environment variables and an
// optional YAML file.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development" yaml:"environment"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level"`
	ConfigFile  string `envconfig:"CONFIG_FILE" yaml:"-"`

	// API
	APIBaseURL     string        `envconfig:"API_BASE_URL" default:"http://localhost:8081" yaml:"api_base_url"`
	ProbePath      string        `envconfig:"PROBE_PATH" default:"/test/datetime" yaml:"probe_path"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"0s" yaml:"request_timeout"` // 0 = transport limits only
	LoginURL       string        `envconfig:"LOGIN_URL" default:"/login" yaml:"login_url"`

	// Client-side throttling (disabled when RPS is 0)
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"0" yaml:"rate_limit_rps"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"1" yaml:"rate_limit_burst"`

	// Polling
	ProjectPollInterval time.Duration `envconfig:"PROJECT_POLL_INTERVAL" default:"5s" yaml:"project_poll_interval"`
	UpdatesPollInterval time.Duration `envconfig:"UPDATES_POLL_INTERVAL" default:"5s" yaml:"updates_poll_interval"`
	GalleryPollInterval time.Duration `envconfig:"GALLERY_POLL_INTERVAL" default:"5s" yaml:"gallery_poll_interval"`
	ChatPollInterval    time.Duration `envconfig:"CHAT_POLL_INTERVAL" default:"3s" yaml:"chat_poll_interval"`

	// Session storage. Empty path keeps the session in memory only.
	SessionDBPath string `envconfig:"SESSION_DB_PATH" default:"portal-session.db" yaml:"session_db_path"`

	// Event feed (WebSocket, optional)
	EventsURL string `envconfig:"EVENTS_URL" yaml:"events_url"`

	// Slack mirror for notifications (optional)
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN" yaml:"slack_bot_token"`
	SlackChannel  string `envconfig:"SLACK_CHANNEL" yaml:"slack_channel"`

	// Metrics
	MetricsAddr string `envconfig:"METRICS_ADDR" yaml:"metrics_addr"`
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// EventsEnabled returns true if the WebSocket event feed is configured.
func (c *Config) EventsEnabled() bool {
	return strings.HasPrefix(c.EventsURL, "ws://") || strings.HasPrefix(c.EventsURL, "wss://")
}

// RateLimited returns true if client-side throttling is on.
func (c *Config) RateLimited() bool {
	return c.RateLimitRPS > 0
}

// Validate checks settings that would otherwise fail later at request time.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("invalid API base URL %q", c.APIBaseURL)
	}
	intervals := map[string]time.Duration{
		"project": c.ProjectPollInterval,
		"updates": c.UpdatesPollInterval,
		"gallery": c.GalleryPollInterval,
		"chat":    c.ChatPollInterval,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s poll interval must be positive, got %s", name, d)
		}
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative")
	}
	return nil
}

// Load reads configuration from PORTAL_* environment variables. When PORTAL_CONFIG_FILE
// is set, values present in that YAML file override the environment.
func Load() (*Config, error) {
	return LoadWithPrefix(Prefix)
}

// LoadWithPrefix reads configuration with a custom prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if cfg.ConfigFile != "" {
		if err := loadFromFile(cfg.ConfigFile, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.APIBaseURL = strings.TrimSuffix(cfg.APIBaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
