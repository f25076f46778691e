package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

const (
	RunStatusRunning     = "running"
	RunStatusCompleted   = "completed"
	RunStatusPartial     = "partial"
	RunStatusFailed      = "failed"
	RunStatusInterrupted = "interrupted"
)

var _ RunRepository = (*RunRepositoryImpl)(nil)

// RunRepositoryImpl stores harvest runs and their per-target results.
type RunRepositoryImpl struct {
	db  *DB
	now func() time.Time
}

func NewRunRepository(db *DB) *RunRepositoryImpl {
	return &RunRepositoryImpl{db: db, now: time.Now}
}

func (r *RunRepositoryImpl) StartRun(ctx context.Context, kinds []harvest.Kind, targets int) (int64, error) {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (status, kinds, target_count, started_at)
		VALUES (?, ?, ?, ?)
	`, RunStatusRunning, strings.Join(names, ","), targets, formatTime(r.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}
	return id, nil
}

func (r *RunRepositoryImpl) RecordTarget(ctx context.Context, runID int64, result harvest.TargetResult) error {
	counts := result.Rejected
	if counts == nil {
		counts = map[string]int{}
	}
	rejected, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to encode rejection counts: %w", err)
	}

	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO target_results (run_id, kind, repo, technology, status, pages, fetched,
			malformed, unsolved, accepted, rejected, output_path, error, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, string(result.Target.Kind), result.Target.Repo, result.Target.Technology, string(result.Status),
		result.Pages, result.Fetched, result.Malformed, result.Unsolved, result.Accepted, string(rejected), result.OutputPath,
		errMsg, result.Duration.Milliseconds(), formatTime(r.now()))
	if err != nil {
		return fmt.Errorf("failed to insert target result: %w", err)
	}

	return nil
}

func (r *RunRepositoryImpl) FinishRun(ctx context.Context, runID int64, summary *harvest.Summary) error {
	status := RunStatusCompleted
	switch {
	case summary.Interrupted:
		status = RunStatusInterrupted
	case summary.AllFailed():
		status = RunStatusFailed
	case summary.Failed() > 0:
		status = RunStatusPartial
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, failed_count = ?, accepted_count = ?, finished_at = ?
		WHERE id = ?
	`, status, summary.Failed(), summary.Accepted(), formatTime(r.now()), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	return nil
}

func (r *RunRepositoryImpl) GetRun(ctx context.Context, id int64) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, kinds, target_count, failed_count, accepted_count, started_at, finished_at
		FROM runs
		WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (r *RunRepositoryImpl) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, kinds, target_count, failed_count, accepted_count, started_at, finished_at
		FROM runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

func (r *RunRepositoryImpl) GetRunCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

func (r *RunRepositoryImpl) GetTargetResults(ctx context.Context, runID int64) ([]TargetResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, kind, repo, technology, status, pages, fetched, malformed, unsolved,
			accepted, rejected, output_path, error, duration_ms, recorded_at
		FROM target_results
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list target results: %w", err)
	}
	defer rows.Close()

	results := []TargetResult{}
	for rows.Next() {
		var tr TargetResult
		var rejected, recordedAt string
		var durationMs int64

		if err := rows.Scan(&tr.ID, &tr.RunID, &tr.Kind, &tr.Repo, &tr.Technology, &tr.Status, &tr.Pages,
			&tr.Fetched, &tr.Malformed, &tr.Unsolved, &tr.Accepted, &rejected, &tr.OutputPath, &tr.Error,
			&durationMs, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan target result: %w", err)
		}

		tr.Rejected = map[string]int{}
		if rejected != "" {
			if err := json.Unmarshal([]byte(rejected), &tr.Rejected); err != nil {
				return nil, fmt.Errorf("failed to decode rejection counts: %w", err)
			}
		}
		tr.Duration = time.Duration(durationMs) * time.Millisecond
		if tr.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}

		results = append(results, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate target results: %w", err)
	}

	return results, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var kinds, startedAt string
	var finishedAt sql.NullString

	if err := s.Scan(&run.ID, &run.Status, &kinds, &run.TargetCount, &run.FailedCount,
		&run.AcceptedCount, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	if kinds != "" {
		run.Kinds = strings.Split(kinds, ",")
	}

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid && finishedAt.String != "" {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &t
	}

	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", s, err)
	}
	return t, nil
}
