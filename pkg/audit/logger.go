// Package audit records the outcome of every governed request in a
// dedicated SQLite database.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/models"
)

// Logger writes and queries audit entries in a dedicated SQLite database.
type Logger struct {
	db      *sql.DB
	cfg     models.AuditConfig
	done    chan struct{}
	wg      sync.WaitGroup
	exclude map[string]bool
}

// New opens the audit SQLite database and creates the schema.
func New(cfg models.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	exc := make(map[string]bool)
	for _, v := range cfg.ExcludeModels {
		exc[v] = true
	}

	l := &Logger{
		db:      db,
		cfg:     cfg,
		done:    make(chan struct{}),
		exclude: exc,
	}

	if cfg.RetentionDays > 0 {
		l.wg.Add(1)
		go l.retentionLoop()
	}

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_log (
		request_id     TEXT PRIMARY KEY,
		job_id         TEXT NOT NULL,
		model          TEXT NOT NULL,
		outcome        TEXT NOT NULL,
		error_kind     TEXT,
		error          TEXT,
		input_tokens   INTEGER,
		output_tokens  INTEGER,
		estimated_cost REAL,
		wait_ms        INTEGER,
		latency_ms     INTEGER,
		created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_model ON audit_log(model)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_job ON audit_log(job_id)`)
	return err
}

// Log inserts an audit entry. Error text is PII-redacted and truncated to
// MaxErrorSize bytes; entries for excluded models are dropped.
func (l *Logger) Log(ctx context.Context, entry models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	if l.exclude[entry.Model] {
		return nil
	}

	errText := logging.Redact(entry.Error)
	if l.cfg.MaxErrorSize > 0 && len(errText) > l.cfg.MaxErrorSize {
		errText = errText[:l.cfg.MaxErrorSize]
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO audit_log
		(request_id, job_id, model, outcome, error_kind, error,
		 input_tokens, output_tokens, estimated_cost, wait_ms, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.JobID, entry.Model, string(entry.Outcome),
		entry.ErrorKind, errText,
		entry.InputTokens, entry.OutputTokens, entry.EstimatedCost,
		entry.WaitMs, entry.LatencyMs, created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	return nil
}

// Query returns audit entries matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	q := `SELECT request_id, job_id, model, outcome, error_kind, error,
		input_tokens, output_tokens, estimated_cost, wait_ms, latency_ms, created_at
		FROM audit_log WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.JobID != "" {
		q += " AND job_id = ?"
		args = append(args, opts.JobID)
	}
	if opts.Model != "" {
		q += " AND model = ?"
		args = append(args, opts.Model)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, string(opts.Outcome))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var outcome string
		var kind, errText sql.NullString
		if err := rows.Scan(
			&e.RequestID, &e.JobID, &e.Model, &outcome, &kind, &errText,
			&e.InputTokens, &e.OutputTokens, &e.EstimatedCost,
			&e.WaitMs, &e.LatencyMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Outcome = models.Outcome(outcome)
		e.ErrorKind = kind.String
		e.Error = errText.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate counts grouped by model, outcome and day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT model, outcome, substr(created_at, 1, 10) as day, count(*) as cnt
		 FROM audit_log GROUP BY model, outcome, day ORDER BY day DESC, model, outcome`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var outcome string
		var day sql.NullString
		if err := rows.Scan(&s.Model, &outcome, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Outcome = models.Outcome(outcome)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// RetentionDays is the configured retention period.
func (l *Logger) RetentionDays() int { return l.cfg.RetentionDays }

// Cleanup deletes entries older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}
