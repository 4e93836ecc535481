package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/logging"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T, lim Limits, opts ...Option) (*Limiter, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(epoch)
	opts = append([]Option{WithClock(fc), WithLogger(logging.Discard())}, opts...)
	return New(lim, opts...), fc
}

func TestWaitAdmitsUnderLimits(t *testing.T) {
	l, fc := newTestLimiter(t, Limits{RPM: 5, TPM: 1000})
	ctx := context.Background()

	for range 5 {
		waited, err := l.Wait(ctx, "gpt-4", 100)
		require.NoError(t, err)
		assert.Zero(t, waited)
	}
	assert.Empty(t, fc.Sleeps())

	u := l.Usage("gpt-4")
	assert.Equal(t, 5, u.Requests)
	assert.Equal(t, 500, u.Tokens)
	assert.Equal(t, 5, u.RPMLimit)
	assert.Equal(t, 1000, u.TPMLimit)
}

func TestWaitRPMWindow(t *testing.T) {
	l, fc := newTestLimiter(t, Limits{RPM: 2, TPM: 100000})
	ctx := context.Background()

	_, err := l.Wait(ctx, "gpt-4", 10)
	require.NoError(t, err)
	oldest := fc.Now()

	fc.Advance(10 * time.Second)
	_, err = l.Wait(ctx, "gpt-4", 10)
	require.NoError(t, err)

	fc.Advance(10 * time.Second)
	now := fc.Now()
	waited, err := l.Wait(ctx, "gpt-4", 10)
	require.NoError(t, err)

	want := time.Minute - now.Sub(oldest)
	assert.GreaterOrEqual(t, waited, want)
	assert.Equal(t, []time.Duration{40 * time.Second}, fc.Sleeps())

	// The oldest entry left the window; the second and third remain.
	assert.Equal(t, 2, l.Usage("gpt-4").Requests)
}

func TestWaitTPMWindow(t *testing.T) {
	l, fc := newTestLimiter(t, Limits{RPM: 100, TPM: 100})
	ctx := context.Background()

	_, err := l.Wait(ctx, "claude-3-opus", 60)
	require.NoError(t, err)
	fc.Advance(10 * time.Second)
	_, err = l.Wait(ctx, "claude-3-opus", 30)
	require.NoError(t, err)
	fc.Advance(10 * time.Second)

	// 90 used; 50 more needs the first 60-token entry to expire at t+60s.
	waited, err := l.Wait(ctx, "claude-3-opus", 50)
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, waited)

	u := l.Usage("claude-3-opus")
	assert.Equal(t, 80, u.Tokens)
	assert.Equal(t, 2, u.Requests)
}

func TestWaitRejectsOversizedRequest(t *testing.T) {
	l, fc := newTestLimiter(t, Limits{RPM: 10, TPM: 100})

	_, err := l.Wait(context.Background(), "gpt-4", 101)
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "gpt-4", le.Model)
	assert.Equal(t, 101, le.Tokens)
	assert.Empty(t, fc.Sleeps())
	assert.Zero(t, l.Usage("gpt-4").Requests)
}

func TestWaitRejectsZeroLimits(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{RPM: 0, TPM: 100})
	_, err := l.Wait(context.Background(), "gpt-4", 1)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
}

func TestWaitMaxWait(t *testing.T) {
	l, fc := newTestLimiter(t, Limits{RPM: 1, TPM: 1000}, WithMaxWait(10*time.Second))
	ctx := context.Background()

	_, err := l.Wait(ctx, "gpt-4", 1)
	require.NoError(t, err)

	_, err = l.Wait(ctx, "gpt-4", 1)
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, time.Minute, le.Wait)
	assert.Empty(t, fc.Sleeps(), "must reject before sleeping")
}

func TestWaitHonoursCancellation(t *testing.T) {
	l := New(Limits{RPM: 1, TPM: 1000}, WithWindow(time.Hour), WithLogger(logging.Discard()))

	_, err := l.Wait(context.Background(), "gpt-4", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = l.Wait(ctx, "gpt-4", 1)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestModelOverrides(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{RPM: 60, TPM: 100000},
		WithModelLimits(map[string]Limits{"gpt-4": {RPM: 3, TPM: 300}}))

	assert.Equal(t, Limits{RPM: 3, TPM: 300}, l.LimitsFor("gpt-4"))
	assert.Equal(t, Limits{RPM: 60, TPM: 100000}, l.LimitsFor("claude-3-haiku"))

	l.SetModelLimits("gpt-4", Limits{TPM: 500})
	assert.Equal(t, Limits{RPM: 3, TPM: 500}, l.LimitsFor("gpt-4"))

	l.SetModelLimits("claude-3-haiku", Limits{RPM: 5})
	assert.Equal(t, Limits{RPM: 5, TPM: 100000}, l.LimitsFor("claude-3-haiku"))
}

func TestModelsAreIndependent(t *testing.T) {
	l, fc := newTestLimiter(t, Limits{RPM: 1, TPM: 1000})
	ctx := context.Background()

	_, err := l.Wait(ctx, "gpt-4", 1)
	require.NoError(t, err)
	_, err = l.Wait(ctx, "claude-3-haiku", 1)
	require.NoError(t, err)
	assert.Empty(t, fc.Sleeps())
}

func TestUsagePrunesExpiredEntries(t *testing.T) {
	l, fc := newTestLimiter(t, Limits{RPM: 10, TPM: 1000})
	_, err := l.Wait(context.Background(), "gpt-4", 250)
	require.NoError(t, err)

	fc.Advance(59 * time.Second)
	assert.Equal(t, 250, l.Usage("gpt-4").Tokens)

	fc.Advance(time.Second)
	u := l.Usage("gpt-4")
	assert.Zero(t, u.Requests)
	assert.Zero(t, u.Tokens)
}

func TestUsageUnknownModel(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{RPM: 7, TPM: 70})
	u := l.Usage("never-seen")
	assert.Zero(t, u.Requests)
	assert.Equal(t, 7, u.RPMLimit)
}

func TestAllowNeverOvershootsConcurrently(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{RPM: 1000, TPM: 1000})

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("gpt-4", 100) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, admitted.Load())
	assert.Equal(t, 1000, l.Usage("gpt-4").Tokens)
}

func TestConcurrentWaitRespectsRPM(t *testing.T) {
	l := New(Limits{RPM: 3, TPM: 100000}, WithWindow(time.Hour), WithLogger(logging.Discard()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Wait(ctx, "gpt-4", 1); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 3, admitted.Load())
}
