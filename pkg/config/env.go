package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pario-ai/warden/pkg/policy"
)

// Environment keys read by ApplyEnv.
const (
	EnvMaxJobCost              = "MAX_JOB_COST"
	EnvDefaultRPM              = "DEFAULT_RPM"
	EnvDefaultTPM              = "DEFAULT_TPM"
	EnvMaxRetries              = "MAX_RETRIES"
	EnvRetryBaseDelay          = "RETRY_BASE_DELAY"
	EnvRetryMaxDelay           = "RETRY_MAX_DELAY"
	EnvCircuitBreakerThreshold = "CIRCUIT_BREAKER_THRESHOLD"
	EnvCircuitBreakerTimeout   = "CIRCUIT_BREAKER_TIMEOUT"
	EnvAllowedModels           = "ALLOWED_MODELS"
	EnvDeniedModels            = "DENIED_MODELS"
	EnvRateLimitMaxWait        = "RATE_LIMIT_MAX_WAIT"
	EnvLogLevel                = "LOG_LEVEL"
	EnvLogFormat               = "LOG_FORMAT"
	EnvRedactPII               = "REDACT_PII"
	EnvDBPath                  = "WARDEN_DB_PATH"
	EnvAuditDBPath             = "WARDEN_AUDIT_DB_PATH"
	EnvRedisURL                = "WARDEN_REDIS_URL"
)

// ApplyEnv overrides fields from environment variables found by lookup.
// Delays and timeouts are given in seconds and may be fractional.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvMaxJobCost); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError(EnvMaxJobCost, v, err)
		}
		c.MaxJobCost = f
	}
	for _, k := range []struct {
		key string
		dst *int
	}{
		{EnvDefaultRPM, &c.RateLimit.RPM},
		{EnvDefaultTPM, &c.RateLimit.TPM},
		{EnvMaxRetries, &c.Retry.MaxRetries},
		{EnvCircuitBreakerThreshold, &c.CircuitBreaker.Threshold},
	} {
		if v, ok := get(k.key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return envError(k.key, v, err)
			}
			*k.dst = n
		}
	}
	for _, k := range []struct {
		key string
		dst *time.Duration
	}{
		{EnvRetryBaseDelay, &c.Retry.BaseDelay},
		{EnvRetryMaxDelay, &c.Retry.MaxDelay},
		{EnvCircuitBreakerTimeout, &c.CircuitBreaker.Timeout},
		{EnvRateLimitMaxWait, &c.RateLimit.MaxWait},
	} {
		if v, ok := get(k.key); ok {
			d, err := parseSeconds(v)
			if err != nil {
				return envError(k.key, v, err)
			}
			*k.dst = d
		}
	}
	if v, ok := get(EnvAllowedModels); ok {
		c.Models.Allowed = policy.ParseList(v)
	}
	if v, ok := get(EnvDeniedModels); ok {
		c.Models.Denied = policy.ParseList(v)
	}
	if v, ok := get(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := get(EnvLogFormat); ok {
		c.Log.Format = v
	}
	if v, ok := get(EnvRedactPII); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError(EnvRedactPII, v, err)
		}
		c.Log.RedactPII = b
	}
	if v, ok := get(EnvDBPath); ok {
		c.Tracker.Enabled = true
		c.Tracker.DBPath = v
	}
	if v, ok := get(EnvAuditDBPath); ok {
		c.Audit.Enabled = true
		c.Audit.DBPath = v
	}
	if v, ok := get(EnvRedisURL); ok {
		c.Events.RedisURL = v
	}
	return nil
}

func parseSeconds(v string) (time.Duration, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("negative duration")
	}
	return time.Duration(f * float64(time.Second)), nil
}

func envError(key, value string, err error) error {
	return fmt.Errorf("env %s=%q: %w", key, value, err)
}
