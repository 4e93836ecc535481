package models

import "time"

// UsageRecord is one committed model call in the usage history.
type UsageRecord struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id"`
	JobID        string    `json:"job_id"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageSummary aggregates usage history per job and model.
type UsageSummary struct {
	JobID        string  `json:"job_id"`
	Model        string  `json:"model"`
	RequestCount int     `json:"request_count"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"`
}
