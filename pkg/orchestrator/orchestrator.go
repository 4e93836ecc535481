// Package orchestrator composes the governance components around a single
// logical model call: policy check, cost pre-check, rate limiting, and
// retries through a per-model circuit breaker, committing the cost on success.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pario-ai/warden/pkg/breaker"
	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/cost"
	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/models"
	"github.com/pario-ai/warden/pkg/policy"
	"github.com/pario-ai/warden/pkg/ratelimit"
	"github.com/pario-ai/warden/pkg/retry"
)

// DefaultMaxCost is the per-job ceiling in USD when none is configured.
const DefaultMaxCost = 10.0

// RequestFunc performs the actual model call. It is owned by the caller.
type RequestFunc func(ctx context.Context) (any, error)

// Request describes one logical call and its expected token budget.
type Request struct {
	Model        string
	InputTokens  int
	OutputTokens int
}

// BreakerSettings configures the per-model circuit breakers.
type BreakerSettings struct {
	Threshold int
	Timeout   time.Duration
}

// Deps are the process-wide collaborators shared by orchestrators.
type Deps struct {
	Policy  *policy.ModelPolicy
	Limiter *ratelimit.Limiter
	Retry   retry.Config
	Breaker BreakerSettings
	MaxCost float64
	Pricing cost.Pricing
}

// Orchestrator governs the model calls of one job. It is safe for concurrent use.
type Orchestrator struct {
	jobID    string
	policy   *policy.ModelPolicy
	cost     *cost.Tracker
	limiter  *ratelimit.Limiter
	retry    *retry.Handler
	settings BreakerSettings
	clock    clock.Clock
	logger   *slog.Logger

	retryIf func(error) bool
	usage   UsageRecorder
	audit   AuditLogger
	events  EventPublisher

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	maxCost *float64
	clock   clock.Clock
	logger  *slog.Logger
	retryIf func(error) bool
	usage   UsageRecorder
	audit   AuditLogger
	events  EventPublisher
}

// WithMaxCost overrides the job's cost ceiling.
func WithMaxCost(c float64) Option {
	return func(o *options) { o.maxCost = &c }
}

// WithClock sets the time source for breakers, backoff and timings.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the structured logger for the orchestrator and its components.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRetryIf restricts which request errors are retried. Governance errors
// are never retried regardless of fn.
func WithRetryIf(fn func(error) bool) Option {
	return func(o *options) { o.retryIf = fn }
}

// WithUsageRecorder records committed usage.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(o *options) { o.usage = r }
}

// WithAuditLogger records request outcomes.
func WithAuditLogger(a AuditLogger) Option {
	return func(o *options) { o.audit = a }
}

// WithEventPublisher publishes governance events.
func WithEventPublisher(p EventPublisher) Option {
	return func(o *options) { o.events = p }
}

// New creates an orchestrator for jobID.
func New(jobID string, deps Deps, opts ...Option) *Orchestrator {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrDefault(o.logger)
	clk := o.clock
	if clk == nil {
		clk = clock.Real{}
	}

	maxCost := deps.MaxCost
	if o.maxCost != nil {
		maxCost = *o.maxCost
	}
	pricing := deps.Pricing
	if pricing.Models == nil {
		pricing = cost.DefaultPricing()
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Limits{RPM: 60, TPM: 100000}, ratelimit.WithClock(clk), ratelimit.WithLogger(logger))
	}

	orc := &Orchestrator{
		jobID:    jobID,
		policy:   deps.Policy,
		cost:     cost.NewTracker(jobID, maxCost, cost.WithPricing(pricing), cost.WithLogger(logger)),
		limiter:  limiter,
		retry:    retry.New(deps.Retry, retry.WithClock(clk), retry.WithLogger(logger)),
		settings: deps.Breaker,
		clock:    clk,
		logger:   logger,
		retryIf:  o.retryIf,
		usage:    o.usage,
		audit:    o.audit,
		events:   o.events,
		breakers: make(map[string]*breaker.Breaker),
	}
	logger.Info("orchestrator_initialized", "job_id", jobID, "max_cost", maxCost)
	return orc
}

// JobID returns the job this orchestrator governs.
func (o *Orchestrator) JobID() string { return o.jobID }

// Cost returns the job's ledger.
func (o *Orchestrator) Cost() *cost.Tracker { return o.cost }

// Limiter returns the shared rate limiter.
func (o *Orchestrator) Limiter() *ratelimit.Limiter { return o.limiter }

// Validate returns a *policy.NotAllowedError if model may not be used.
func (o *Orchestrator) Validate(model string) error {
	if err := o.policy.Check(model); err != nil {
		o.logger.Error("model_not_allowed", "model", model, "job_id", o.jobID)
		return err
	}
	return nil
}

// Breaker returns the model's circuit breaker, creating it on first use.
func (o *Orchestrator) Breaker(model string) *breaker.Breaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	if b, ok := o.breakers[model]; ok {
		return b
	}
	b := breaker.New(fmt.Sprintf("%s:%s", o.jobID, model),
		breaker.WithThreshold(o.settings.Threshold),
		breaker.WithTimeout(o.settings.Timeout),
		breaker.WithClock(o.clock),
		breaker.WithLogger(o.logger),
		breaker.WithStateChange(func(name string, from, to models.CircuitState) {
			o.publish(context.Background(), models.Event{
				Type:  models.EventCircuitStateChanged,
				Model: model,
				Data:  map[string]any{"name": name, "from": string(from), "to": string(to)},
			})
		}),
	)
	o.breakers[model] = b
	return b
}

// Execute runs fn under every governance concern and returns its result, or
// exactly one governance error. A non-retryable error from fn (see
// WithRetryIf) and context errors are also returned as-is.
func (o *Orchestrator) Execute(ctx context.Context, req Request, fn RequestFunc) (any, error) {
	start := o.clock.Now()
	entry := models.AuditEntry{
		RequestID:    uuid.NewString(),
		JobID:        o.jobID,
		Model:        req.Model,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		CreatedAt:    start.UTC(),
	}

	result, err := o.execute(ctx, req, fn, &entry)
	entry.LatencyMs = o.clock.Now().Sub(start).Milliseconds()

	// Sinks must not be cut short by the caller's cancellation.
	sinkCtx := context.WithoutCancel(ctx)
	if err != nil {
		entry.Outcome = models.OutcomeFailure
		entry.ErrorKind = errorKind(ctx, err)
		entry.Error = err.Error()
		o.logger.Error("request_failed",
			"job_id", o.jobID,
			"model", req.Model,
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
			"error_kind", entry.ErrorKind,
		)
		o.publish(sinkCtx, models.Event{
			Type:  models.EventRequestFailed,
			Model: req.Model,
			Data:  map[string]any{"request_id": entry.RequestID, "error_kind": entry.ErrorKind},
		})
	} else {
		entry.Outcome = models.OutcomeSuccess
		o.logger.Info("request_successful",
			"job_id", o.jobID,
			"model", req.Model,
			"input_tokens", req.InputTokens,
			"output_tokens", req.OutputTokens,
		)
	}
	if o.audit != nil {
		if aerr := o.audit.Log(sinkCtx, entry); aerr != nil {
			o.logger.Warn("audit_log_failed", "request_id", entry.RequestID, "error", aerr)
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context, req Request, fn RequestFunc, entry *models.AuditEntry) (any, error) {
	if err := o.Validate(req.Model); err != nil {
		return nil, err
	}

	res, err := o.cost.Reserve(req.Model, req.InputTokens, req.OutputTokens)
	if err != nil {
		return nil, err
	}
	entry.EstimatedCost = res.Estimate()

	waited, err := o.limiter.Wait(ctx, req.Model, req.InputTokens+req.OutputTokens)
	entry.WaitMs = waited.Milliseconds()
	if err != nil {
		res.Release()
		return nil, err
	}

	b := o.Breaker(req.Model)
	result, err := retry.Run(ctx, o.retry, func(ctx context.Context) (any, error) {
		return breaker.Call(b, func() (any, error) { return fn(ctx) })
	}, retry.RetryIf(func(err error) bool { return o.retryable(ctx, err) }))
	if err != nil {
		res.Release()
		return nil, err
	}

	c, err := res.Commit()
	o.recordUsage(context.WithoutCancel(ctx), req, entry.RequestID, c)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// retryable stops on governance errors and once the caller's ctx is done.
// Context errors from fn itself are retried while ctx is still live.
func (o *Orchestrator) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || IsGovernanceError(err) {
		return false
	}
	if o.retryIf != nil {
		return o.retryIf(err)
	}
	return true
}

func (o *Orchestrator) recordUsage(ctx context.Context, req Request, requestID string, c float64) {
	rec := models.UsageRecord{
		RequestID:    requestID,
		JobID:        o.jobID,
		Model:        req.Model,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		Cost:         c,
		CreatedAt:    o.clock.Now().UTC(),
	}
	if o.usage != nil {
		if err := o.usage.Record(ctx, rec); err != nil {
			o.logger.Warn("usage_record_failed", "request_id", requestID, "error", err)
		}
	}
	o.publish(ctx, models.Event{
		Type:  models.EventUsageCommitted,
		Model: req.Model,
		Data: map[string]any{
			"request_id":    requestID,
			"input_tokens":  req.InputTokens,
			"output_tokens": req.OutputTokens,
			"cost":          c,
			"total_cost":    o.cost.Total(),
		},
	})
}

func (o *Orchestrator) publish(ctx context.Context, ev models.Event) {
	if o.events == nil {
		return
	}
	ev.JobID = o.jobID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = o.clock.Now().UTC()
	}
	if err := o.events.Publish(ctx, ev); err != nil {
		o.logger.Warn("event_publish_failed", "type", string(ev.Type), "error", err)
	}
}

// Status aggregates the cost summary and every circuit breaker's state.
func (o *Orchestrator) Status() models.Status {
	o.mu.Lock()
	breakers := make(map[string]*breaker.Breaker, len(o.breakers))
	for k, v := range o.breakers {
		breakers[k] = v
	}
	o.mu.Unlock()

	st := models.Status{
		JobID:           o.jobID,
		Cost:            o.cost.Summary(),
		CircuitBreakers: make(map[string]models.BreakerState, len(breakers)),
	}
	for model, b := range breakers {
		st.CircuitBreakers[model] = b.State()
	}
	return st
}

// Reset closes every circuit breaker. The cost ledger is job-scoped and kept.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	breakers := make([]*breaker.Breaker, 0, len(o.breakers))
	for _, b := range o.breakers {
		breakers = append(breakers, b)
	}
	o.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
	o.logger.Info("orchestrator_reset", "job_id", o.jobID)
}

// Do is Execute for request functions with a concrete result type.
func Do[T any](ctx context.Context, o *Orchestrator, req Request, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := o.Execute(ctx, req, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}
