package cost

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/models"
)

func newTestTracker(t *testing.T, maxCost float64) *Tracker {
	t.Helper()
	return NewTracker("job-1", maxCost, WithLogger(logging.Discard()))
}

func TestEstimateCost(t *testing.T) {
	tr := newTestTracker(t, 10)

	assert.InDelta(t, 0.06, tr.EstimateCost("gpt-4", 1000, 500), 1e-12)
	assert.InDelta(t, 0.015+0.075, tr.EstimateCost("claude-3-opus", 1000, 1000), 1e-12)
	assert.Zero(t, tr.Total(), "estimate must not touch the ledger")
}

func TestEstimateCostUnknownModelUsesFallback(t *testing.T) {
	tr := newTestTracker(t, 10)
	want := tr.EstimateCost(FallbackModel, 2000, 1000)
	assert.InDelta(t, want, tr.EstimateCost("mystery-model", 2000, 1000), 1e-12)
}

func TestTrackUsageScenario(t *testing.T) {
	tr := newTestTracker(t, 1.0)

	c, err := tr.TrackUsage("gpt-4", 1000, 500)
	require.NoError(t, err)
	assert.InDelta(t, 0.06, c, 1e-12)
	assert.InDelta(t, 0.06, tr.Total(), 1e-12)

	c, err = tr.TrackUsage("gpt-4", 20000, 10000)
	assert.InDelta(t, 1.2, c, 1e-12)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCostExceeded))

	var ee *ExceededError
	require.True(t, errors.As(err, &ee))
	assert.False(t, ee.PreCheck)
	assert.InDelta(t, 1.26, ee.Total, 1e-12)
	assert.InDelta(t, 0.26, ee.Overshoot(), 1e-12)

	// The attempted addition stays in the ledger.
	assert.InDelta(t, 1.26, tr.Total(), 1e-12)
}

func TestTrackUsageTotalIsExactSum(t *testing.T) {
	tr := newTestTracker(t, 100)
	calls := []struct {
		model   string
		in, out int
	}{
		{"gpt-4", 1200, 300},
		{"claude-3-haiku", 50000, 2000},
		{"gpt-4-turbo", 10, 10},
		{"unknown", 700, 900},
	}

	var sum float64
	for _, c := range calls {
		cost, err := tr.TrackUsage(c.model, c.in, c.out)
		require.NoError(t, err)
		sum += cost
	}
	assert.Equal(t, sum, tr.Total())

	s := tr.Summary()
	assert.Equal(t, "job-1", s.JobID)
	u := s.UsageByModel["gpt-4"]
	assert.EqualValues(t, 1200, u.InputTokens)
	assert.EqualValues(t, 300, u.OutputTokens)
	assert.EqualValues(t, 1, u.Requests)
	assert.InDelta(t, 0.054, u.Cost, 1e-12)
	assert.InDelta(t, 100-sum, s.RemainingBudget, 1e-9)
}

func TestSummaryIsCopy(t *testing.T) {
	tr := newTestTracker(t, 10)
	_, _ = tr.TrackUsage("gpt-4", 100, 100)

	s := tr.Summary()
	s.UsageByModel["gpt-4"] = models.ModelUsage{}
	assert.EqualValues(t, 100, tr.Summary().UsageByModel["gpt-4"].InputTokens)
}

func TestWithPricingOverride(t *testing.T) {
	p := DefaultPricing().With(
		models.ModelPricing{Model: "local-llama", InputCostPer1K: 0, OutputCostPer1K: 0},
		models.ModelPricing{Model: FallbackModel, InputCostPer1K: 1, OutputCostPer1K: 1},
	)
	tr := NewTracker("job", 10, WithPricing(p), WithLogger(logging.Discard()))

	assert.Zero(t, tr.EstimateCost("local-llama", 5000, 5000))
	assert.InDelta(t, 2.0, tr.EstimateCost("who-knows", 1000, 1000), 1e-12)
	// The default table is untouched.
	assert.InDelta(t, 0.002, DefaultPricing().Fallback.Cost(1000, 1000), 1e-12)
}

func TestReservePreCheck(t *testing.T) {
	tr := newTestTracker(t, 1.0)
	_, err := tr.TrackUsage("gpt-4", 1000, 500)
	require.NoError(t, err)

	_, err = tr.Reserve("gpt-4", 20000, 10000)
	require.ErrorIs(t, err, ErrCostExceeded)
	var ee *ExceededError
	require.ErrorAs(t, err, &ee)
	assert.True(t, ee.PreCheck)
	assert.InDelta(t, 1.26, ee.Total, 1e-12)
	assert.InDelta(t, 0.06, tr.Total(), 1e-12, "pre-check must not change the ledger")
}

func TestReservationCommitAndRelease(t *testing.T) {
	tr := newTestTracker(t, 0.1)

	r1, err := tr.Reserve("gpt-4", 1000, 500) // 0.06
	require.NoError(t, err)
	assert.InDelta(t, 0.06, tr.Summary().Reserved, 1e-12)

	// A second 0.06 call would overshoot while the first is outstanding.
	_, err = tr.Reserve("gpt-4", 1000, 500)
	require.ErrorIs(t, err, ErrCostExceeded)

	r1.Release()
	r1.Release()
	assert.Zero(t, tr.Summary().Reserved)

	r2, err := tr.Reserve("gpt-4", 1000, 500)
	require.NoError(t, err)
	c, err := r2.Commit()
	require.NoError(t, err)
	assert.InDelta(t, 0.06, c, 1e-12)
	assert.Zero(t, tr.Summary().Reserved)
	assert.InDelta(t, 0.06, tr.Total(), 1e-12)

	// Commit after commit is a no-op.
	c, err = r2.Commit()
	require.NoError(t, err)
	assert.Zero(t, c)
	assert.InDelta(t, 0.06, tr.Total(), 1e-12)
}

func TestConcurrentReservationsNeverOvershoot(t *testing.T) {
	tr := newTestTracker(t, 1.0)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := tr.Reserve("gpt-4", 1000, 500)
			if err != nil {
				return
			}
			_, _ = r.Commit()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, tr.Total(), 1.0)
	assert.EqualValues(t, 16, tr.Summary().UsageByModel["gpt-4"].Requests)
}

// pauseHandler blocks the first armed "model_pricing_not_found" record until
// release is closed.
type pauseHandler struct {
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (h *pauseHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *pauseHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *pauseHandler) WithGroup(string) slog.Handler { return h }

func (h *pauseHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message == "model_pricing_not_found" && h.armed.CompareAndSwap(true, false) {
		close(h.entered)
		<-h.release
	}
	return nil
}

func TestCommitKeepsHoldVisibleToReserve(t *testing.T) {
	h := &pauseHandler{entered: make(chan struct{}), release: make(chan struct{})}
	p := DefaultPricing().With(models.ModelPricing{Model: FallbackModel, InputCostPer1K: 0.6, OutputCostPer1K: 0.6})
	tr := NewTracker("job", 1.0, WithPricing(p), WithLogger(slog.New(h)))

	r1, err := tr.Reserve("unpriced", 1000, 0)
	require.NoError(t, err)

	h.armed.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := r1.Commit()
		done <- err
	}()
	<-h.entered

	// r1 is mid-commit; its 0.6 must still count against the ceiling.
	_, err = tr.Reserve("unpriced", 1000, 0)
	assert.ErrorIs(t, err, ErrCostExceeded)

	close(h.release)
	require.NoError(t, <-done)

	_, err = tr.Reserve("unpriced", 1000, 0)
	assert.ErrorIs(t, err, ErrCostExceeded)
	s := tr.Summary()
	assert.InDelta(t, 0.6, s.TotalCost, 1e-12)
	assert.Zero(t, s.Reserved)
}

func TestConcurrentCommitAndReserveNeverOvershoot(t *testing.T) {
	tr := newTestTracker(t, 1.0)

	var (
		wg       sync.WaitGroup
		exceeded atomic.Int32
	)
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := tr.Reserve("gpt-4", 1000, 500)
			if err != nil {
				return
			}
			if _, err := r.Commit(); err != nil {
				exceeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, exceeded.Load(), "no reserved call may fail at commit")
	assert.LessOrEqual(t, tr.Total(), 1.0)
	assert.Zero(t, tr.Summary().Reserved)
}
