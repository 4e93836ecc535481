package orchestrator

import (
	"log/slog"

	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/config"
	"github.com/pario-ai/warden/pkg/ratelimit"
)

// NewLimiter builds the process-wide rate limiter from cfg. Build it once and
// share it between every orchestrator.
func NewLimiter(cfg *config.Config, clk clock.Clock, logger *slog.Logger) *ratelimit.Limiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return ratelimit.New(cfg.RateLimit.Defaults(),
		ratelimit.WithClock(clk),
		ratelimit.WithMaxWait(cfg.RateLimit.MaxWait),
		ratelimit.WithModelLimits(cfg.RateLimit.Models),
		ratelimit.WithLogger(logger),
	)
}

// FromConfig creates an orchestrator for jobID using cfg and the shared limiter.
func FromConfig(jobID string, cfg *config.Config, limiter *ratelimit.Limiter, opts ...Option) *Orchestrator {
	deps := Deps{
		Policy:  cfg.Policy(),
		Limiter: limiter,
		Retry:   cfg.Retry,
		Breaker: BreakerSettings{
			Threshold: cfg.CircuitBreaker.Threshold,
			Timeout:   cfg.CircuitBreaker.Timeout,
		},
		MaxCost: cfg.MaxJobCost,
		Pricing: cfg.PricingTable(),
	}
	return New(jobID, deps, opts...)
}
