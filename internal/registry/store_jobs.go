package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lyrebird/internal/fingerprint"
	"lyrebird/internal/services"
)

// Submit records a job for the given content fingerprint. Exactly one caller
// observes isNew=true for a given fingerprint, no matter how many submit
// concurrently; everyone else receives the existing job. Resubmitting a
// failed job requeues it with completed stages left intact so the workflow
// resumes from the first unfinished stage.
func (s *Store) Submit(ctx context.Context, params NewJobParams) (*Job, bool, error) {
	fp := strings.ToLower(strings.TrimSpace(params.Fingerprint))
	if fp == "" {
		return nil, false, services.Wrap(services.ErrValidation, "", "submit", "fingerprint is required", nil)
	}

	jobID := fingerprint.JobID(fp)
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	isNew := false

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		isNew = false
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO jobs (
                id, fingerprint, source_path, title, status,
                duration_seconds, size_bytes,
                separation_variant, transcription_variant, language, probe_json,
                progress_percent, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(fingerprint) DO NOTHING`,
			jobID,
			fp,
			nullableString(params.SourcePath),
			nullableString(params.Title),
			JobPending,
			params.DurationSeconds,
			params.SizeBytes,
			nullableString(params.SeparationVariant),
			nullableString(params.TranscriptionVariant),
			nullableString(params.Language),
			nullableString(params.ProbeJSON),
			0.0,
			timestamp,
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		if affected == 1 {
			isNew = true
			return seedStages(ctx, tx, jobID, timestamp)
		}

		// Duplicate submission. Requeue only when the previous run failed so
		// completed work is never redone.
		var status string
		row := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE fingerprint = ?`, fp)
		if err := row.Scan(&status); err != nil {
			return fmt.Errorf("lookup duplicate: %w", err)
		}
		if JobStatus(status) != JobFailed {
			return nil
		}
		return requeueFailed(ctx, tx, jobID, timestamp)
	})
	if err != nil {
		return nil, false, err
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		return nil, false, fmt.Errorf("job %s vanished after submit", jobID)
	}
	return job, isNew, nil
}

func seedStages(ctx context.Context, tx *sql.Tx, jobID, timestamp string) error {
	for position, name := range StageOrder() {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO job_stages (job_id, name, position, status, progress_percent, updated_at)
             VALUES (?, ?, ?, ?, 0, ?)`,
			jobID,
			name,
			position,
			StageWaiting,
			timestamp,
		); err != nil {
			return fmt.Errorf("seed stage %s: %w", name, err)
		}
	}
	return nil
}

func requeueFailed(ctx context.Context, tx *sql.Tx, jobID, timestamp string) error {
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE job_stages
         SET status = ?, progress_percent = 0, message = NULL, error_message = NULL,
             started_at = NULL, finished_at = NULL, updated_at = ?
         WHERE job_id = ? AND status IN (?, ?)`,
		StageWaiting,
		timestamp,
		jobID,
		StageFailed,
		StageActive,
	); err != nil {
		return fmt.Errorf("requeue stages: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, current_stage = NULL, error_message = NULL,
             progress_stage = NULL, progress_percent = 0, progress_message = NULL,
             finished_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ?`,
		JobPending,
		timestamp,
		jobID,
	); err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// GetJob fetches a job by identifier. Returns nil when no job exists.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindByFingerprint returns the job matching a content fingerprint.
func (s *Store) FindByFingerprint(ctx context.Context, fp string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE fingerprint = ? LIMIT 1`,
		strings.ToLower(strings.TrimSpace(fp)),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextPending returns the oldest pending job without claiming it.
func (s *Store) NextPending(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1`,
		JobPending,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimPending atomically moves the oldest pending job to running and returns
// it. Returns nil when nothing is pending.
func (s *Store) ClaimPending(ctx context.Context) (*Job, error) {
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		candidate, err := s.NextPending(ctx)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			return nil, nil
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		res, err := s.execWithRetry(
			ctx,
			`UPDATE jobs
             SET status = ?, started_at = COALESCE(started_at, ?), last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			JobRunning,
			now,
			now,
			now,
			candidate.ID,
			JobPending,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 1 {
			return s.GetJob(ctx, candidate.ID)
		}
		// Someone else claimed it between the read and the update; try the next one.
	}
	return nil, nil
}

// StagesForJob returns the job's stage records in pipeline order.
func (s *Store) StagesForJob(ctx context.Context, jobID string) ([]*StageRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stageColumns+` FROM job_stages WHERE job_id = ? ORDER BY position`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var records []*StageRecord
	for rows.Next() {
		record, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetStage fetches a single stage record.
func (s *Store) GetStage(ctx context.Context, jobID, name string) (*StageRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+stageColumns+` FROM job_stages WHERE job_id = ? AND name = ?`,
		jobID,
		name,
	)
	record, err := scanStage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stage: %w", err)
	}
	return record, nil
}

// Remove deletes a job and its stages by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed jobs.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE status = ?`, JobCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed jobs.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE status = ?`, JobFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all jobs.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}
