package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// DefaultAPIURL is used when SCANPER_API_URL is not set.
const DefaultAPIURL = "https://scanper-api.fly.dev"

const minSessionSecretLen = 32

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"debug"`

	// ScanPer backend
	APIURL      string        `envconfig:"SCANPER_API_URL" default:"https://scanper-api.fly.dev"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`

	// LINE Login / LIFF
	LIFFID                string `envconfig:"LIFF_ID" required:"true"`
	LINEChannelSecret     string `envconfig:"LINE_CHANNEL_SECRET"`
	LINEChannelSecretName string `envconfig:"LINE_CHANNEL_SECRET_NAME"`
	PublicBaseURL         string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`

	// Browser sessions
	SessionSecret     string        `envconfig:"SESSION_SECRET"`
	SessionSecretName string        `envconfig:"SESSION_SECRET_NAME"`
	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	RedisURL          string        `envconfig:"REDIS_URL"`

	// Mounted dashboards idle for longer than this are closed.
	DashboardIdleTTL time.Duration `envconfig:"DASHBOARD_IDLE_TTL" default:"30m"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"https://liff.line.me"`
	MetricsEnabled bool     `envconfig:"METRICS_ENABLED" default:"true"`

	// GCP
	GCPProjectID       string `envconfig:"GCP_PROJECT_ID"`
	PubSubPaymentTopic string `envconfig:"PUBSUB_PAYMENT_TOPIC"`
	PubSubEmulatorHost string `envconfig:"PUBSUB_EMULATOR_HOST"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.APIURL = strings.TrimSuffix(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.PublicBaseURL = strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if strings.TrimSpace(cfg.LIFFID) == "" {
		return nil, errors.New("LIFF_ID is not configured")
	}
	return &cfg, nil
}

// Validate checks settings that may only be complete after secrets were resolved.
func (c *Config) Validate() error {
	if len(c.SessionSecret) < minSessionSecretLen {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLen)
	}
	if c.LINEChannelSecret == "" {
		return errors.New("LINE_CHANNEL_SECRET is not configured")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.DashboardIdleTTL <= 0 {
		return errors.New("DASHBOARD_IDLE_TTL must be positive")
	}
	return nil
}

// ChannelID returns the LINE Login channel ID, which is the LIFF ID prefix.
func (c *Config) ChannelID() string {
	id, _, _ := strings.Cut(c.LIFFID, "-")
	return id
}

// RedirectURL is the OAuth callback registered with the LINE Login channel.
func (c *Config) RedirectURL() string {
	return c.PublicBaseURL + "/auth/callback"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
