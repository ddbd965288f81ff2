package labelstore

import (
	"context"
	"fmt"
	"time"

	"github.com/tonimelisma/labelbatch/internal/batch"
)

const (
	sqlInsertRun = `INSERT INTO runs
		(id, started_at, elapsed_ms, target_label, mode, workers, submitted, total,
		 succeeded, failed, skipped, not_dispatched, cancelled, timed_out, aborted, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlListRuns = `SELECT id, started_at, elapsed_ms, target_label, mode, workers, submitted, total,
		 succeeded, failed, skipped, not_dispatched, cancelled, timed_out, aborted, result
		FROM runs ORDER BY started_at DESC, id LIMIT ?`
)

// DefaultHistoryLimit is the number of runs ListRuns returns for a
// non-positive limit.
const DefaultHistoryLimit = 20

// Run is a recorded batch summary.
type Run struct {
	ID            string        `json:"id" yaml:"id"`
	StartedAt     time.Time     `json:"started_at" yaml:"started_at"`
	Elapsed       time.Duration `json:"elapsed" yaml:"elapsed"`
	TargetLabel   string        `json:"target_label" yaml:"target_label"`
	Mode          string        `json:"mode" yaml:"mode"`
	Workers       int           `json:"workers" yaml:"workers"`
	Submitted     int           `json:"submitted" yaml:"submitted"`
	Total         int           `json:"total" yaml:"total"`
	Succeeded     int           `json:"succeeded" yaml:"succeeded"`
	Failed        int           `json:"failed" yaml:"failed"`
	Skipped       int           `json:"skipped" yaml:"skipped"`
	NotDispatched int           `json:"not_dispatched" yaml:"not_dispatched"`
	Cancelled     bool          `json:"cancelled" yaml:"cancelled"`
	TimedOut      bool          `json:"timed_out" yaml:"timed_out"`
	Aborted       bool          `json:"aborted" yaml:"aborted"`
	Result        string        `json:"result" yaml:"result"`
}

// RecordRun stores the summary of a finished batch.
func (s *Store) RecordRun(ctx context.Context, r *batch.Report) error {
	if _, err := s.db.ExecContext(ctx, sqlInsertRun,
		r.BatchID, r.StartedAt.UnixNano(), r.Elapsed.Milliseconds(), r.TargetState,
		string(r.Mode), r.Workers, r.Submitted, r.TotalProcessed,
		r.SuccessCount, r.FailureCount, r.SkippedCount, r.NotDispatched,
		r.Cancelled, r.TimedOut, r.Aborted, r.Result(),
	); err != nil {
		return fmt.Errorf("labelstore: recording run %s: %w", r.BatchID, err)
	}

	return nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, sqlListRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("labelstore: listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run

	for rows.Next() {
		var (
			r         Run
			startedAt int64
			elapsedMS int64
		)

		if err := rows.Scan(&r.ID, &startedAt, &elapsedMS, &r.TargetLabel, &r.Mode, &r.Workers,
			&r.Submitted, &r.Total, &r.Succeeded, &r.Failed, &r.Skipped, &r.NotDispatched,
			&r.Cancelled, &r.TimedOut, &r.Aborted, &r.Result,
		); err != nil {
			return nil, fmt.Errorf("labelstore: scanning run: %w", err)
		}

		r.StartedAt = time.Unix(0, startedAt)
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("labelstore: iterating runs: %w", err)
	}

	return out, nil
}
