package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/warden/pkg/cost"
	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/models"
	"github.com/pario-ai/warden/pkg/policy"
	"github.com/pario-ai/warden/pkg/ratelimit"
	"github.com/pario-ai/warden/pkg/retry"
)

// Config holds all Warden configuration.
type Config struct {
	MaxJobCost     float64               `yaml:"max_job_cost" toml:"max_job_cost"`
	RateLimit      RateLimitConfig       `yaml:"rate_limit" toml:"rate_limit"`
	Retry          retry.Config          `yaml:"retry" toml:"retry"`
	CircuitBreaker CircuitBreakerConfig  `yaml:"circuit_breaker" toml:"circuit_breaker"`
	Models         ModelsConfig          `yaml:"models" toml:"models"`
	Pricing        []models.ModelPricing `yaml:"pricing" toml:"pricing"`
	Log            LogConfig             `yaml:"log" toml:"log"`
	Tracker        TrackerConfig         `yaml:"tracker" toml:"tracker"`
	Audit          models.AuditConfig    `yaml:"audit" toml:"audit"`
	Events         EventsConfig          `yaml:"events" toml:"events"`
}

// RateLimitConfig holds the default per-model limits and overrides.
type RateLimitConfig struct {
	RPM     int                         `yaml:"rpm" toml:"rpm"`
	TPM     int                         `yaml:"tpm" toml:"tpm"`
	MaxWait time.Duration               `yaml:"max_wait" toml:"max_wait"`
	Models  map[string]ratelimit.Limits `yaml:"models" toml:"models"`
}

// Defaults returns the limits applied to models without an override.
func (r RateLimitConfig) Defaults() ratelimit.Limits {
	return ratelimit.Limits{RPM: r.RPM, TPM: r.TPM}
}

// CircuitBreakerConfig configures the per-model circuit breakers.
type CircuitBreakerConfig struct {
	Threshold int           `yaml:"threshold" toml:"threshold"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
}

// ModelsConfig lists allowed and denied models. An empty allow list admits
// every model not denied.
type ModelsConfig struct {
	Allowed []string `yaml:"allowed" toml:"allowed"`
	Denied  []string `yaml:"denied" toml:"denied"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level     string `yaml:"level" toml:"level"`
	Format    string `yaml:"format" toml:"format"`
	RedactPII bool   `yaml:"redact_pii" toml:"redact_pii"`
}

// Options converts the config into logger options.
func (l LogConfig) Options() logging.Options {
	return logging.Options{Level: l.Level, Format: l.Format, RedactPII: l.RedactPII}
}

// TrackerConfig controls the SQLite usage history.
type TrackerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	DBPath  string `yaml:"db_path" toml:"db_path"`
}

// EventsConfig controls the Redis event stream. Publishing is enabled when
// RedisURL is set.
type EventsConfig struct {
	RedisURL string `yaml:"redis_url" toml:"redis_url"`
	Stream   string `yaml:"stream" toml:"stream"`
	MaxLen   int64  `yaml:"max_len" toml:"max_len"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		MaxJobCost: 10.0,
		RateLimit: RateLimitConfig{
			RPM: 60,
			TPM: 100000,
		},
		Retry: retry.DefaultConfig(),
		CircuitBreaker: CircuitBreakerConfig{
			Threshold: 5,
			Timeout:   60 * time.Second,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			RedactPII: true,
		},
		Tracker: TrackerConfig{
			DBPath: "warden.db",
		},
		Audit: models.AuditConfig{
			DBPath:        "warden_audit.db",
			RetentionDays: 30,
			MaxErrorSize:  4096,
		},
		Events: EventsConfig{
			Stream: "warden:events",
			MaxLen: 10000,
		},
	}
}

// Load reads a YAML or TOML config file, expands environment variables,
// and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations no component can honour.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxJobCost < 0 {
		errs = append(errs, fmt.Errorf("max_job_cost must not be negative, got %v", c.MaxJobCost))
	}
	if c.RateLimit.RPM < 0 || c.RateLimit.TPM < 0 {
		errs = append(errs, fmt.Errorf("rate_limit: rpm and tpm must not be negative"))
	}
	if c.RateLimit.MaxWait < 0 {
		errs = append(errs, fmt.Errorf("rate_limit: max_wait must not be negative"))
	}
	for model, lim := range c.RateLimit.Models {
		if lim.RPM < 0 || lim.TPM < 0 {
			errs = append(errs, fmt.Errorf("rate_limit: model %s: rpm and tpm must not be negative", model))
		}
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry: max_retries must not be negative"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("retry: delays must not be negative"))
	}
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		errs = append(errs, fmt.Errorf("retry: base_delay %v exceeds max_delay %v", c.Retry.BaseDelay, c.Retry.MaxDelay))
	}
	if c.CircuitBreaker.Threshold < 1 {
		errs = append(errs, fmt.Errorf("circuit_breaker: threshold must be at least 1, got %d", c.CircuitBreaker.Threshold))
	}
	if c.CircuitBreaker.Timeout < 0 {
		errs = append(errs, fmt.Errorf("circuit_breaker: timeout must not be negative"))
	}
	for _, p := range c.Pricing {
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("pricing: entry without model"))
		}
		if p.InputCostPer1K < 0 || p.OutputCostPer1K < 0 {
			errs = append(errs, fmt.Errorf("pricing: model %s: costs must not be negative", p.Model))
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Policy builds the model allow/deny policy.
func (c *Config) Policy() *policy.ModelPolicy {
	return policy.New(c.Models.Allowed, c.Models.Denied)
}

// PricingTable returns the default pricing extended by configured entries.
func (c *Config) PricingTable() cost.Pricing {
	return cost.DefaultPricing().With(c.Pricing...)
}
