package tracker

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/warden/pkg/models"
)

func newTestTracker(t *testing.T) *SQLiteTracker {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	tr, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRecordAndQuery(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := models.UsageRecord{
		RequestID:    "req-1",
		JobID:        "job-1",
		Model:        "gpt-4",
		InputTokens:  1000,
		OutputTokens: 500,
		Cost:         0.06,
		CreatedAt:    now,
	}
	if err := tr.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}

	records, err := tr.QueryByJob(ctx, "job-1", now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.RequestID != "req-1" || got.InputTokens != 1000 || got.OutputTokens != 500 {
		t.Errorf("unexpected record: %+v", got)
	}
	if !approx(got.Cost, 0.06) {
		t.Errorf("expected cost 0.06, got %v", got.Cost)
	}

	other, err := tr.QueryByJob(ctx, "job-2", now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("expected no records for job-2, got %d", len(other))
	}
}

func TestTotalCostByJob(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := range 3 {
		_ = tr.Record(ctx, models.UsageRecord{
			JobID: "job-1", Model: "gpt-4",
			InputTokens: 1000, OutputTokens: 500, Cost: 0.06,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}
	_ = tr.Record(ctx, models.UsageRecord{
		JobID: "job-1", Model: "claude-3-haiku",
		InputTokens: 1000, OutputTokens: 1000, Cost: 0.0015,
		CreatedAt: now,
	})

	total, err := tr.TotalCostByJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if !approx(total, 0.1815) {
		t.Errorf("expected 0.1815, got %v", total)
	}

	byModel, err := tr.TotalCostByJobAndModel(ctx, "job-1", "gpt-4")
	if err != nil {
		t.Fatal(err)
	}
	if !approx(byModel, 0.18) {
		t.Errorf("expected 0.18, got %v", byModel)
	}

	none, err := tr.TotalCostByJob(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if none != 0 {
		t.Errorf("expected 0 for unknown job, got %v", none)
	}
}

func TestQuerySince(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = tr.Record(ctx, models.UsageRecord{JobID: "job-1", Model: "gpt-4", Cost: 0.01, CreatedAt: now.Add(-2 * time.Hour)})
	_ = tr.Record(ctx, models.UsageRecord{JobID: "job-1", Model: "gpt-4", Cost: 0.02, CreatedAt: now})

	records, err := tr.QueryByJob(ctx, "job-1", now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 recent record, got %d", len(records))
	}
	if !approx(records[0].Cost, 0.02) {
		t.Errorf("expected the recent record, got %+v", records[0])
	}
}

func TestSummary(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = tr.Record(ctx, models.UsageRecord{JobID: "job-1", Model: "gpt-4", InputTokens: 100, OutputTokens: 50, Cost: 0.006, CreatedAt: now})
	_ = tr.Record(ctx, models.UsageRecord{JobID: "job-1", Model: "gpt-4", InputTokens: 200, OutputTokens: 100, Cost: 0.012, CreatedAt: now})
	_ = tr.Record(ctx, models.UsageRecord{JobID: "job-1", Model: "claude-3-haiku", InputTokens: 300, OutputTokens: 150, Cost: 0.0003, CreatedAt: now})
	_ = tr.Record(ctx, models.UsageRecord{JobID: "job-2", Model: "gpt-4", InputTokens: 10, OutputTokens: 5, Cost: 0.0006, CreatedAt: now})

	summaries, err := tr.Summary(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	// Ordered by model: claude-3-haiku, gpt-4.
	gpt := summaries[1]
	if gpt.Model != "gpt-4" || gpt.RequestCount != 2 || gpt.InputTokens != 300 || gpt.OutputTokens != 150 {
		t.Errorf("unexpected gpt-4 summary: %+v", gpt)
	}
	if !approx(gpt.TotalCost, 0.018) {
		t.Errorf("expected 0.018, got %v", gpt.TotalCost)
	}

	all, err := tr.Summary(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 summaries across jobs, got %d", len(all))
	}
}
