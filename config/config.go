// Package config resolves the service's runtime configuration. Values are
// read from an optional YAML file first, then overridden by environment
// variables, so deployments can ship a base file and inject secrets at
// runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	envListen        = "PAYWATCH_LISTEN"
	envEnvironment   = "PAYWATCH_ENV"
	envDatabaseURL   = "PAYWATCH_DB_URL"
	envStripeAPIKey  = "PAYWATCH_STRIPE_SECRET_KEY"
	envWebhookSecret = "PAYWATCH_STRIPE_WEBHOOK_SECRET"
	envTolerance     = "PAYWATCH_SIGNATURE_TOLERANCE"
	envLease         = "PAYWATCH_PROCESSING_LEASE"
	envRatePerSecond = "PAYWATCH_RATE_LIMIT_RPS"
	envRateBurst     = "PAYWATCH_RATE_LIMIT_BURST"
	envPayments      = "PAYWATCH_MODULE_PAYMENTS"
	envBilling       = "PAYWATCH_MODULE_BILLING"
	envRefunds       = "PAYWATCH_MODULE_REFUNDS"
	envConfigFile    = "PAYWATCH_CONFIG_FILE"
)

// Duration wraps time.Duration to support YAML unmarshalling of human
// readable strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Modules toggles the three record families.
type Modules struct {
	Payments bool `yaml:"payments"`
	Billing  bool `yaml:"billing"`
	Refunds  bool `yaml:"refunds"`
}

// RateLimit bounds inbound webhook deliveries per client.
type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Config captures runtime configuration for the service.
type Config struct {
	ListenAddress      string    `yaml:"listen"`
	Environment        string    `yaml:"environment"`
	DatabaseURL        string    `yaml:"database_url"`
	StripeAPIKey       string    `yaml:"stripe_secret_key"`
	WebhookSecret      string    `yaml:"stripe_webhook_secret"`
	SignatureTolerance Duration  `yaml:"signature_tolerance"`
	ProcessingLease    Duration  `yaml:"processing_lease"`
	RateLimit          RateLimit `yaml:"rate_limit"`
	Modules            Modules   `yaml:"modules"`
}

// FromEnv resolves configuration from the optional YAML file named by
// PAYWATCH_CONFIG_FILE plus environment overrides, then validates it.
func FromEnv() (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv(envConfigFile)); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%s is required", envDatabaseURL)
	}
	if cfg.StripeAPIKey == "" {
		return nil, fmt.Errorf("%s is required", envStripeAPIKey)
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%s is required", envWebhookSecret)
	}
	if cfg.SignatureTolerance.Duration <= 0 {
		return nil, fmt.Errorf("%s must be positive", envTolerance)
	}
	if cfg.ProcessingLease.Duration <= 0 {
		return nil, fmt.Errorf("%s must be positive", envLease)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddress:      ":8080",
		Environment:        "development",
		SignatureTolerance: Duration{5 * time.Minute},
		ProcessingLease:    Duration{5 * time.Minute},
		RateLimit:          RateLimit{PerSecond: 50, Burst: 100},
		Modules:            Modules{Payments: true, Billing: true, Refunds: true},
	}
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(envListen)); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv(envEnvironment)); v != "" {
		cfg.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv(envDatabaseURL)); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(envStripeAPIKey)); v != "" {
		cfg.StripeAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(envWebhookSecret)); v != "" {
		cfg.WebhookSecret = v
	}
	if d, ok := envDuration(envTolerance); ok {
		cfg.SignatureTolerance = Duration{d}
	}
	if d, ok := envDuration(envLease); ok {
		cfg.ProcessingLease = Duration{d}
	}
	if v := strings.TrimSpace(os.Getenv(envRatePerSecond)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimit.PerSecond = f
		}
	}
	if v := strings.TrimSpace(os.Getenv(envRateBurst)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.Burst = n
		}
	}
	if b, ok := envBool(envPayments); ok {
		cfg.Modules.Payments = b
	}
	if b, ok := envBool(envBilling); ok {
		cfg.Modules.Billing = b
	}
	if b, ok := envBool(envRefunds); ok {
		cfg.Modules.Refunds = b
	}
}

func envDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}

func envBool(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return b, true
}
