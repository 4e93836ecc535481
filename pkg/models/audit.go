package models

import "time"

// Outcome is the final result of a governed request.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AuditEntry records the outcome of one governed request.
type AuditEntry struct {
	RequestID     string    `json:"request_id"`
	JobID         string    `json:"job_id"`
	Model         string    `json:"model"`
	Outcome       Outcome   `json:"outcome"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	Error         string    `json:"error,omitempty"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	EstimatedCost float64   `json:"estimated_cost"`
	WaitMs        int64     `json:"wait_ms"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled       bool     `yaml:"enabled" toml:"enabled"`
	DBPath        string   `yaml:"db_path" toml:"db_path"`
	RetentionDays int      `yaml:"retention_days" toml:"retention_days"`
	ExcludeModels []string `yaml:"exclude_models" toml:"exclude_models"`
	MaxErrorSize  int      `yaml:"max_error_size" toml:"max_error_size"` // bytes
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	JobID     string
	Model     string
	Outcome   Outcome
	Since     time.Time
	RequestID string
	Limit     int
}

// AuditStat holds aggregate audit counts for a model/outcome/day combination.
type AuditStat struct {
	Model   string
	Outcome Outcome
	Day     string
	Count   int
}
