// Package retry retries a single call with exponential backoff and jitter.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/logging"
)

// Config bounds the retry loop.
type Config struct {
	// MaxRetries is the number of attempts beyond the first.
	MaxRetries int           `yaml:"max_retries" toml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay" toml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay" toml:"max_delay"`
}

// DefaultConfig returns 3 retries between 1s and 60s.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute}
}

// jitterFraction spreads each delay by up to ±25%.
const jitterFraction = 0.25

// Handler is stateless between calls and safe for concurrent use.
type Handler struct {
	cfg    Config
	clock  clock.Clock
	rand   func() float64
	logger *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock sets the time source used for backoff sleeps.
func WithClock(c clock.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithRand replaces the jitter source; fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(h *Handler) { h.rand = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New creates a Handler.
func New(cfg Config, opts ...Option) *Handler {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	h := &Handler{cfg: cfg, clock: clock.Real{}, rand: rand.Float64}
	for _, o := range opts {
		o(h)
	}
	h.logger = logging.OrDefault(h.logger)
	h.logger.Info("retry_handler_initialized",
		"max_retries", cfg.MaxRetries,
		"base_delay", cfg.BaseDelay,
		"max_delay", cfg.MaxDelay,
	)
	return h
}

// Config returns the handler's bounds.
func (h *Handler) Config() Config { return h.cfg }

// Delay returns the jittered backoff slept before attempt n (n >= 1):
// min(BaseDelay*2^n, MaxDelay), moved by up to ±25% and floored at zero.
// The exponent is the attempt about to run, so with a 1s base the
// un-jittered sequence is 2s, 4s, 8s rather than 1s, 2s, 4s.
func (h *Handler) Delay(n int) time.Duration {
	d := float64(h.cfg.BaseDelay) * math.Pow(2, float64(n))
	d = math.Min(d, float64(h.cfg.MaxDelay))
	d += d * jitterFraction * (2*h.rand() - 1)
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// CallOption tunes a single Do call.
type CallOption func(*callOptions)

type callOptions struct {
	retryable func(error) bool
}

// RetryIf limits retries to errors for which fn returns true. Other errors
// are returned immediately and unchanged.
func RetryIf(fn func(error) bool) CallOption {
	return func(o *callOptions) { o.retryable = fn }
}

// Do invokes fn up to MaxRetries+1 times. It returns nil on the first success,
// a non-retryable error unchanged, ctx.Err() if the backoff is cancelled, or an
// *ExhaustedError wrapping the last error once every attempt has failed.
func (h *Handler) Do(ctx context.Context, fn func(context.Context) error, opts ...CallOption) error {
	co := callOptions{retryable: func(error) bool { return true }}
	for _, o := range opts {
		o(&co)
	}

	var last error
	for attempt := 0; attempt <= h.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := h.Delay(attempt)
			h.logger.Warn("retry_attempt",
				"attempt", attempt,
				"max_retries", h.cfg.MaxRetries,
				"delay", delay,
				"error", last,
			)
			if err := h.clock.Sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				h.logger.Info("retry_succeeded", "attempt", attempt, "max_retries", h.cfg.MaxRetries)
			}
			return nil
		}
		if !co.retryable(err) {
			return err
		}
		last = err
	}

	h.logger.Error("retry_exhausted",
		"attempts", h.cfg.MaxRetries+1,
		"max_retries", h.cfg.MaxRetries,
		"error", last,
	)
	return &ExhaustedError{Attempts: h.cfg.MaxRetries + 1, Last: last}
}

// Run is Do for functions that return a value.
func Run[T any](ctx context.Context, h *Handler, fn func(context.Context) (T, error), opts ...CallOption) (T, error) {
	var out T
	err := h.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts...)
	return out, err
}
