package models

import "time"

// CircuitState is the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// BreakerState exposes a circuit breaker's record for observability.
type BreakerState struct {
	Name             string        `json:"name"`
	State            CircuitState  `json:"state"`
	FailureCount     int           `json:"failure_count"`
	SuccessCount     int           `json:"success_count"`
	FailureThreshold int           `json:"failure_threshold"`
	Timeout          time.Duration `json:"timeout"`
	OpenedAt         *time.Time    `json:"opened_at,omitempty"`
	LastFailureAt    *time.Time    `json:"last_failure_at,omitempty"`
}

// RateUsage reports a model's sliding-window usage and effective limits.
type RateUsage struct {
	Model    string `json:"model"`
	Requests int    `json:"requests"`
	Tokens   int    `json:"tokens"`
	RPMLimit int    `json:"rpm_limit"`
	TPMLimit int    `json:"tpm_limit"`
}

// Status aggregates the governance state of one orchestrator.
type Status struct {
	JobID           string                  `json:"job_id"`
	Cost            CostSummary             `json:"cost_summary"`
	CircuitBreakers map[string]BreakerState `json:"circuit_breakers"`
}
