package models

// ModelUsage accumulates committed usage for one model within a job.
type ModelUsage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Requests     int64   `json:"requests"`
}

// CostSummary is a point-in-time snapshot of a job's cost ledger.
type CostSummary struct {
	JobID           string                `json:"job_id"`
	TotalCost       float64               `json:"total_cost"`
	MaxCost         float64               `json:"max_cost"`
	Reserved        float64               `json:"reserved"`
	RemainingBudget float64               `json:"remaining_budget"`
	UsageByModel    map[string]ModelUsage `json:"usage_by_model"`
}
