// Package breaker implements a consecutive-failure circuit breaker.
//
// A closed breaker forwards calls and counts consecutive failures. After
// FailureThreshold of them it opens and refuses calls without invoking them.
// Once Timeout has elapsed since opening, the next call is let through as a
// single half-open trial: success closes the breaker, failure re-opens it.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/models"
)

// Defaults applied when no option overrides them.
const (
	DefaultThreshold = 5
	DefaultTimeout   = 60 * time.Second
)

// StateChangeFunc observes state transitions. It is called without the breaker lock held.
type StateChangeFunc func(name string, from, to models.CircuitState)

// Breaker is safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	timeout   time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	onChange  StateChangeFunc

	mu          sync.Mutex
	state       models.CircuitState
	failures    int
	successes   int
	openedAt    time.Time
	lastFailure time.Time
	probing     bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets how many consecutive failures open the circuit.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithTimeout sets how long the circuit stays open before a trial call.
func WithTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d >= 0 {
			b.timeout = d
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// WithStateChange registers a transition observer.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: DefaultThreshold,
		timeout:   DefaultTimeout,
		clock:     clock.Real{},
		state:     models.CircuitClosed,
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = logging.OrDefault(b.logger)
	b.logger.Info("circuit_breaker_initialized", "name", name, "failure_threshold", b.threshold, "timeout", b.timeout)
	return b
}

// Name returns the circuit name.
func (b *Breaker) Name() string { return b.name }

// Do runs fn through the breaker. When the circuit is open fn is not invoked
// and an *OpenError is returned. Any error from fn is recorded as a failure
// and returned unchanged.
func (b *Breaker) Do(fn func() error) error {
	trial, err := b.before()
	if err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.onFailure(trial)
		return err
	}
	b.onSuccess(trial)
	return nil
}

// Call runs fn through b and returns its result.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Do(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

// before admits a call, reporting whether it is the half-open trial.
func (b *Breaker) before() (bool, error) {
	b.mu.Lock()
	switch b.state {
	case models.CircuitClosed:
		b.mu.Unlock()
		return false, nil
	case models.CircuitHalfOpen:
		if b.probing {
			err := &OpenError{Name: b.name, FailureCount: b.failures}
			b.mu.Unlock()
			b.logger.Warn("circuit_breaker_open", "name", b.name, "reason", "trial_in_flight")
			return false, err
		}
		b.probing = true
		b.mu.Unlock()
		return true, nil
	}

	elapsed := b.clock.Now().Sub(b.openedAt)
	if elapsed < b.timeout {
		err := &OpenError{Name: b.name, FailureCount: b.failures, RetryAfter: b.timeout - elapsed}
		b.mu.Unlock()
		b.logger.Warn("circuit_breaker_open", "name", b.name, "retry_after", err.RetryAfter)
		return false, err
	}

	b.state = models.CircuitHalfOpen
	b.successes = 0
	b.probing = true
	b.mu.Unlock()

	b.logger.Info("circuit_breaker_half_open", "name", b.name)
	b.notify(models.CircuitOpen, models.CircuitHalfOpen)
	return true, nil
}

func (b *Breaker) onSuccess(trial bool) {
	b.mu.Lock()
	if trial && b.state == models.CircuitHalfOpen {
		b.successes++
		b.state = models.CircuitClosed
		b.failures = 0
		b.openedAt = time.Time{}
		b.probing = false
		successes := b.successes
		b.mu.Unlock()

		b.logger.Info("circuit_breaker_reset", "name", b.name, "success_count", successes)
		b.notify(models.CircuitHalfOpen, models.CircuitClosed)
		return
	}
	if b.state == models.CircuitClosed {
		b.failures = 0
	}
	b.mu.Unlock()
}

func (b *Breaker) onFailure(trial bool) {
	b.mu.Lock()
	now := b.clock.Now()
	b.failures++
	b.lastFailure = now
	failures, from := b.failures, b.state

	b.logger.Warn("circuit_breaker_failure",
		"name", b.name,
		"failure_count", failures,
		"threshold", b.threshold,
		"state", string(from),
	)

	switch {
	case trial && b.state == models.CircuitHalfOpen:
		b.state = models.CircuitOpen
		b.openedAt = now
		b.probing = false
		b.mu.Unlock()
		b.logger.Error("circuit_breaker_reopened", "name", b.name)
		b.notify(from, models.CircuitOpen)
	case b.state == models.CircuitClosed && failures >= b.threshold:
		b.state = models.CircuitOpen
		b.openedAt = now
		b.mu.Unlock()
		b.logger.Error("circuit_breaker_opened", "name", b.name, "failure_count", failures, "threshold", b.threshold)
		b.notify(from, models.CircuitOpen)
	default:
		b.mu.Unlock()
	}
}

// Reset forces the circuit closed and zeroes its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = models.CircuitClosed
	b.failures = 0
	b.successes = 0
	b.openedAt = time.Time{}
	b.lastFailure = time.Time{}
	b.probing = false
	b.mu.Unlock()

	b.logger.Info("circuit_breaker_manual_reset", "name", b.name)
	if from != models.CircuitClosed {
		b.notify(from, models.CircuitClosed)
	}
}

// State returns a snapshot of the circuit record.
func (b *Breaker) State() models.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := models.BreakerState{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failures,
		SuccessCount:     b.successes,
		FailureThreshold: b.threshold,
		Timeout:          b.timeout,
	}
	if !b.openedAt.IsZero() {
		t := b.openedAt
		s.OpenedAt = &t
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailureAt = &t
	}
	return s
}

func (b *Breaker) notify(from, to models.CircuitState) {
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
