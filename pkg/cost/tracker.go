// Package cost keeps a per-job running cost ledger with a hard ceiling.
package cost

import (
	"log/slog"
	"sync"

	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/models"
)

// Tracker is one job's cost ledger. It is safe for concurrent use.
type Tracker struct {
	jobID   string
	maxCost float64
	pricing Pricing
	logger  *slog.Logger

	mu       sync.Mutex
	total    float64
	reserved float64
	usage    map[string]models.ModelUsage
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPricing replaces the default price table.
func WithPricing(p Pricing) Option {
	return func(t *Tracker) { t.pricing = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a ledger for jobID with the given ceiling.
func NewTracker(jobID string, maxCost float64, opts ...Option) *Tracker {
	t := &Tracker{
		jobID:   jobID,
		maxCost: maxCost,
		pricing: DefaultPricing(),
		usage:   make(map[string]models.ModelUsage),
	}
	for _, o := range opts {
		o(t)
	}
	t.logger = logging.OrDefault(t.logger)
	t.logger.Info("cost_tracker_initialized", "job_id", jobID, "max_cost", maxCost)
	return t
}

// JobID returns the job this ledger belongs to.
func (t *Tracker) JobID() string { return t.jobID }

// MaxCost returns the ceiling.
func (t *Tracker) MaxCost() float64 { return t.maxCost }

// EstimateCost prices a call without touching the ledger.
func (t *Tracker) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	mp, ok := t.pricing.Lookup(model)
	if !ok {
		t.logger.Warn("model_pricing_not_found", "model", model, "using_default", true)
	}
	return mp.Cost(inputTokens, outputTokens)
}

// TrackUsage commits a call's cost. The cost is added before the ceiling is
// checked, so on *ExceededError the ledger reflects the attempted addition.
func (t *Tracker) TrackUsage(model string, inputTokens, outputTokens int) (float64, error) {
	c := t.EstimateCost(model, inputTokens, outputTokens)
	return c, t.commit(model, inputTokens, outputTokens, c, 0)
}

// commit moves hold out of the reservations and c into the total under one
// lock, so the held amount is always visible to Reserve.
func (t *Tracker) commit(model string, inputTokens, outputTokens int, c, hold float64) error {
	t.mu.Lock()
	t.reserved -= hold
	if t.reserved < 1e-12 {
		t.reserved = 0
	}
	t.total += c
	u := t.usage[model]
	u.InputTokens += int64(inputTokens)
	u.OutputTokens += int64(outputTokens)
	u.Cost += c
	u.Requests++
	t.usage[model] = u
	total := t.total
	t.mu.Unlock()

	t.logger.Info("usage_tracked",
		"job_id", t.jobID,
		"model", model,
		"input_tokens", inputTokens,
		"output_tokens", outputTokens,
		"cost", c,
		"total_cost", total,
	)

	if total > t.maxCost {
		t.logger.Error("cost_limit_exceeded", "job_id", t.jobID, "total_cost", total, "max_cost", t.maxCost)
		return &ExceededError{JobID: t.jobID, Total: total, Max: t.maxCost, Cost: c}
	}
	return nil
}

// Total returns the committed total.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Summary returns a snapshot of the ledger.
func (t *Tracker) Summary() models.CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	usage := make(map[string]models.ModelUsage, len(t.usage))
	for k, v := range t.usage {
		usage[k] = v
	}
	return models.CostSummary{
		JobID:           t.jobID,
		TotalCost:       t.total,
		MaxCost:         t.maxCost,
		Reserved:        t.reserved,
		RemainingBudget: t.maxCost - t.total,
		UsageByModel:    usage,
	}
}
