package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const jobColumns = `id, status, params_json, progress, response, sources_json, all_matching_json,
	confidence, verified, error, created_at, started_at, completed_at, expires_at`

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// CreateQueryJob inserts a new job row. Status defaults to pending.
func (s *Store) CreateQueryJob(ctx context.Context, j QueryJob) error {
	status := j.Status
	if status == "" {
		status = StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_jobs (id, status, params_json, progress, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		j.ID, status, j.ParamsJSON, j.Progress, formatTime(j.CreatedAt), formatTime(j.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", j.ID, err)
	}
	return nil
}

// GetQueryJob returns the stored job regardless of expiry.
func (s *Store) GetQueryJob(ctx context.Context, id string) (QueryJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM query_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return QueryJob{}, ErrNotFound
	}
	if err != nil {
		return QueryJob{}, err
	}
	return j, nil
}

// ClaimQueryJob moves a pending job to processing. It reports false when the
// job exists but is no longer pending.
func (s *Store) ClaimQueryJob(ctx context.Context, id, progress string, at time.Time) (bool, error) {
	ts := formatTime(at)
	res, err := s.db.ExecContext(ctx, `
		UPDATE query_jobs SET status = 'processing', progress = ?, started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status = 'pending'`, progress, ts, id)
	if err != nil {
		return false, fmt.Errorf("claiming job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.jobStatus(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateJobProgress records a progress string and moves the job into
// processing. started_at is only written the first time.
func (s *Store) UpdateJobProgress(ctx context.Context, id, progress string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE query_jobs SET status = 'processing', progress = ?, started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status IN ('pending', 'processing')`, progress, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("updating progress for job %s: %w", id, err)
	}
	return s.checkNonTerminalWrite(ctx, res, id)
}

// CompleteQueryJob writes the result and marks the job completed.
func (s *Store) CompleteQueryJob(ctx context.Context, id string, r JobResult, at time.Time) error {
	var confidence sql.NullFloat64
	if r.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *r.Confidence, Valid: true}
	}
	ts := formatTime(at)
	res, err := s.db.ExecContext(ctx, `
		UPDATE query_jobs SET status = 'completed', response = ?, sources_json = ?, all_matching_json = ?,
			confidence = ?, verified = ?, started_at = COALESCE(started_at, ?), completed_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`,
		r.Response, orEmptyArray(r.SourcesJSON), orEmptyArray(r.AllMatchingJSON),
		confidence, r.Verified, ts, ts, id)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	return s.checkNonTerminalWrite(ctx, res, id)
}

// FailQueryJob records the error message and marks the job failed.
func (s *Store) FailQueryJob(ctx context.Context, id, errMsg string, at time.Time) error {
	ts := formatTime(at)
	res, err := s.db.ExecContext(ctx, `
		UPDATE query_jobs SET status = 'failed', error = ?, started_at = COALESCE(started_at, ?), completed_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`, errMsg, ts, ts, id)
	if err != nil {
		return fmt.Errorf("failing job %s: %w", id, err)
	}
	return s.checkNonTerminalWrite(ctx, res, id)
}

// DeleteExpiredJobs removes jobs whose expires_at is at or before now.
func (s *Store) DeleteExpiredJobs(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM query_jobs WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("deleting expired jobs: %w", err)
	}
	return res.RowsAffected()
}

// CountJobsByStatus returns job counts keyed by status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM query_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Store) checkNonTerminalWrite(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.jobStatus(ctx, id); err != nil {
		return err
	}
	return ErrTerminal
}

func (s *Store) jobStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM query_jobs WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return status, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (QueryJob, error) {
	var j QueryJob
	var confidence sql.NullFloat64
	var createdAt, expiresAt string
	var startedAt, completedAt sql.NullString
	err := row.Scan(&j.ID, &j.Status, &j.ParamsJSON, &j.Progress, &j.Response, &j.SourcesJSON,
		&j.AllMatchingJSON, &confidence, &j.Verified, &j.Error, &createdAt, &startedAt, &completedAt, &expiresAt)
	if err != nil {
		return QueryJob{}, err
	}
	if confidence.Valid {
		c := confidence.Float64
		j.Confidence = &c
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return QueryJob{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return QueryJob{}, fmt.Errorf("parsing expires_at for job %s: %w", j.ID, err)
	}
	if j.StartedAt, err = parseNullTime(startedAt); err != nil {
		return QueryJob{}, fmt.Errorf("parsing started_at for job %s: %w", j.ID, err)
	}
	if j.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return QueryJob{}, fmt.Errorf("parsing completed_at for job %s: %w", j.ID, err)
	}
	return j, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func orEmptyArray(s string) string {
	if s == "" {
		return "[]"
	}
	return s
}
