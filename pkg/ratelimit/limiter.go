// Package ratelimit enforces per-model requests-per-minute and
// tokens-per-minute caps over a trailing sliding window.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/models"
)

// DefaultWindow is the trailing window the limits apply to.
const DefaultWindow = time.Minute

// Limits are per-window caps for one model.
type Limits struct {
	RPM int `yaml:"rpm" toml:"rpm"`
	TPM int `yaml:"tpm" toml:"tpm"`
}

// Limiter is shared by every orchestrator in the process. Each model has its
// own window and lock.
type Limiter struct {
	defaults Limits
	span     time.Duration
	maxWait  time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu        sync.RWMutex
	overrides map[string]Limits
	windows   map[string]*window
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithMaxWait rejects a request once its accumulated wait would exceed d.
// Zero means callers wait until admitted or their context is done.
func WithMaxWait(d time.Duration) Option {
	return func(l *Limiter) { l.maxWait = d }
}

// WithWindow changes the trailing window span.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.span = d }
}

// WithLogger sets the structured logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Limiter) { l.logger = lg }
}

// WithModelLimits installs per-model overrides.
func WithModelLimits(m map[string]Limits) Option {
	return func(l *Limiter) {
		for model, lim := range m {
			l.overrides[model] = lim
		}
	}
}

// New creates a Limiter applying defaults to models without an override.
func New(defaults Limits, opts ...Option) *Limiter {
	l := &Limiter{
		defaults:  defaults,
		span:      DefaultWindow,
		clock:     clock.Real{},
		overrides: make(map[string]Limits),
		windows:   make(map[string]*window),
	}
	for _, o := range opts {
		o(l)
	}
	l.logger = logging.OrDefault(l.logger)
	l.logger.Info("rate_limiter_initialized", "default_rpm", defaults.RPM, "default_tpm", defaults.TPM, "max_wait", l.maxWait)
	return l
}

// SetModelLimits overrides the limits for model. A zero field keeps the current value.
func (l *Limiter) SetModelLimits(model string, lim Limits) {
	l.mu.Lock()
	cur, ok := l.overrides[model]
	if !ok {
		cur = l.defaults
	}
	if lim.RPM != 0 {
		cur.RPM = lim.RPM
	}
	if lim.TPM != 0 {
		cur.TPM = lim.TPM
	}
	l.overrides[model] = cur
	l.mu.Unlock()

	l.logger.Info("model_limits_set", "model", model, "rpm", cur.RPM, "tpm", cur.TPM)
}

// LimitsFor returns the effective limits for model.
func (l *Limiter) LimitsFor(model string) Limits {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if lim, ok := l.overrides[model]; ok {
		return lim
	}
	return l.defaults
}

func (l *Limiter) window(model string) *window {
	l.mu.RLock()
	w, ok := l.windows[model]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[model]; !ok {
		w = newWindow()
		l.windows[model] = w
	}
	return w
}

// reject returns a *LimitError when a request of tokens can never be admitted.
func reject(model string, tokens int, lim Limits) error {
	switch {
	case lim.RPM <= 0:
		return &LimitError{Model: model, Tokens: tokens, Limits: lim, Reason: "requests per minute limit is zero"}
	case lim.TPM <= 0:
		return &LimitError{Model: model, Tokens: tokens, Limits: lim, Reason: "tokens per minute limit is zero"}
	case tokens > lim.TPM:
		return &LimitError{Model: model, Tokens: tokens, Limits: lim, Reason: "request tokens exceed tokens per minute limit"}
	}
	return nil
}

// Wait admits a request of tokens for model, suspending until both windows
// have room. It returns the total time spent waiting. Requests that can never
// fit are rejected immediately with *LimitError, as are requests whose wait
// would exceed the configured maximum. Cancelling ctx aborts the wait.
func (l *Limiter) Wait(ctx context.Context, model string, tokens int) (time.Duration, error) {
	if tokens < 0 {
		tokens = 0
	}
	lim := l.LimitsFor(model)
	if err := reject(model, tokens, lim); err != nil {
		l.logger.Warn("rate_limit_rejected", "model", model, "tokens", tokens, "rpm_limit", lim.RPM, "tpm_limit", lim.TPM)
		return 0, err
	}

	w := l.window(model)
	var waited time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return waited, err
		}

		w.mu.Lock()
		now := l.clock.Now()
		w.prune(now, l.span)
		rpmWait, tpmWait := w.delay(now, l.span, lim, tokens)
		if rpmWait <= 0 && tpmWait <= 0 {
			w.admit(now, tokens)
			w.mu.Unlock()
			return waited, nil
		}
		requests, tokenSum := len(w.requests), w.tokenSum
		w.mu.Unlock()

		d := max(rpmWait, tpmWait)
		if l.maxWait > 0 && waited+d > l.maxWait {
			l.logger.Warn("rate_limit_wait_exceeded", "model", model, "waited", waited, "needed", d, "max_wait", l.maxWait)
			return waited, &LimitError{Model: model, Tokens: tokens, Limits: lim, Wait: d, Reason: "wait would exceed maximum"}
		}

		w.warn.Do(func() {
			if rpmWait > 0 {
				l.logger.Warn("rpm_limit_reached", "model", model, "current_rpm", requests, "limit", lim.RPM, "wait_time", rpmWait)
			}
			if tpmWait > 0 {
				l.logger.Warn("tpm_limit_reached", "model", model, "current_tpm", tokenSum, "requested", tokens, "limit", lim.TPM, "wait_time", tpmWait)
			}
		})

		if err := l.clock.Sleep(ctx, d); err != nil {
			return waited, err
		}
		waited += d
	}
}

// Allow admits the request only if no wait is needed.
func (l *Limiter) Allow(model string, tokens int) bool {
	if tokens < 0 {
		tokens = 0
	}
	lim := l.LimitsFor(model)
	if reject(model, tokens, lim) != nil {
		return false
	}

	w := l.window(model)
	w.mu.Lock()
	defer w.mu.Unlock()
	now := l.clock.Now()
	w.prune(now, l.span)
	if rpmWait, tpmWait := w.delay(now, l.span, lim, tokens); rpmWait > 0 || tpmWait > 0 {
		return false
	}
	w.admit(now, tokens)
	return true
}

// Usage returns the model's current window counts and effective limits.
func (l *Limiter) Usage(model string) models.RateUsage {
	lim := l.LimitsFor(model)
	u := models.RateUsage{Model: model, RPMLimit: lim.RPM, TPMLimit: lim.TPM}

	l.mu.RLock()
	w, ok := l.windows[model]
	l.mu.RUnlock()
	if !ok {
		return u
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(l.clock.Now(), l.span)
	u.Requests = len(w.requests)
	u.Tokens = w.tokenSum
	return u
}
