// Package tracker keeps a SQLite history of committed model calls.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/warden/pkg/models"
)

// Tracker records and queries committed usage.
type Tracker interface {
	// Record stores a usage record.
	Record(ctx context.Context, rec models.UsageRecord) error
	// QueryByJob returns usage records for a job since a given time, newest first.
	QueryByJob(ctx context.Context, jobID string, since time.Time) ([]models.UsageRecord, error)
	// TotalCostByJob returns the recorded cost of a job.
	TotalCostByJob(ctx context.Context, jobID string) (float64, error)
	// TotalCostByJobAndModel returns the recorded cost of a job on one model.
	TotalCostByJobAndModel(ctx context.Context, jobID, model string) (float64, error)
	// Summary returns usage grouped by job and model, optionally filtered by job.
	Summary(ctx context.Context, jobID string) ([]models.UsageSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL DEFAULT '',
	job_id TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost REAL NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_job_time ON usage_records(job_id, created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a usage record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (request_id, job_id, model, input_tokens, output_tokens, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.JobID, rec.Model, rec.InputTokens, rec.OutputTokens, rec.Cost, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// QueryByJob returns usage records for a job since a given time.
func (t *SQLiteTracker) QueryByJob(ctx context.Context, jobID string, since time.Time) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, request_id, job_id, model, input_tokens, output_tokens, cost, created_at
		 FROM usage_records WHERE job_id = ? AND created_at >= ? ORDER BY created_at DESC, id DESC`,
		jobID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		if err := rows.Scan(&r.ID, &r.RequestID, &r.JobID, &r.Model, &r.InputTokens, &r.OutputTokens, &r.Cost, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalCostByJob returns the recorded cost of a job.
func (t *SQLiteTracker) TotalCostByJob(ctx context.Context, jobID string) (float64, error) {
	var total float64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM usage_records WHERE job_id = ?`,
		jobID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total cost: %w", err)
	}
	return total, nil
}

// TotalCostByJobAndModel returns the recorded cost of a job on one model.
func (t *SQLiteTracker) TotalCostByJobAndModel(ctx context.Context, jobID, model string) (float64, error) {
	var total float64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM usage_records WHERE job_id = ? AND model = ?`,
		jobID, model,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total cost by model: %w", err)
	}
	return total, nil
}

// Summary returns aggregated usage grouped by job and model.
func (t *SQLiteTracker) Summary(ctx context.Context, jobID string) ([]models.UsageSummary, error) {
	query := `SELECT job_id, model, COUNT(*), SUM(input_tokens), SUM(output_tokens), SUM(cost)
		 FROM usage_records`
	var args []any
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` GROUP BY job_id, model ORDER BY job_id, model`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.JobID, &s.Model, &s.RequestCount, &s.InputTokens, &s.OutputTokens, &s.TotalCost); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
