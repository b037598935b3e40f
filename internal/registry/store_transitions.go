package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lyrebird/internal/services"
)

// TransitionStage applies a validated stage status change. The percent
// argument is optional; completed and skipped stages are always recorded at
// 100. The stage's message (and, for failures, error message) is mirrored
// onto the job row so list views show current progress without a join.
//
// Returns the updated stage record, or an error tagged with
// services.ErrInvalidTransition when the change violates pipeline order.
func (s *Store) TransitionStage(ctx context.Context, jobID, stage string, to StageStatus, percent *float64, message string) (*StageRecord, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		jobStatus, err := jobStatusTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if jobStatus.IsTerminal() {
			return services.Wrap(services.ErrInvalidTransition, stage, "transition", fmt.Sprintf("job is %s", jobStatus), nil)
		}

		stages, err := stagesForJobTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if err := validateTransition(stages, stage, to); err != nil {
			return err
		}

		switch to {
		case StageActive:
			start := 0.0
			if percent != nil {
				start = clampPercent(*percent)
			}
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE job_stages
                 SET status = ?, progress_percent = ?, message = ?, error_message = NULL,
                     started_at = ?, finished_at = NULL, updated_at = ?
                 WHERE job_id = ? AND name = ?`,
				StageActive, start, nullableString(message), timestamp, timestamp, jobID, stage,
			); err != nil {
				return fmt.Errorf("activate stage: %w", err)
			}
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE jobs
                 SET status = ?, current_stage = ?, progress_stage = ?, progress_percent = ?,
                     progress_message = ?, started_at = COALESCE(started_at, ?),
                     last_heartbeat = ?, updated_at = ?
                 WHERE id = ?`,
				JobRunning, stage, stage, start, nullableString(message), timestamp, timestamp, timestamp, jobID,
			); err != nil {
				return fmt.Errorf("mark job running: %w", err)
			}

		case StageCompleted, StageSkipped:
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE job_stages
                 SET status = ?, progress_percent = 100, message = ?, finished_at = ?, updated_at = ?
                 WHERE job_id = ? AND name = ?`,
				to, nullableString(message), timestamp, timestamp, jobID, stage,
			); err != nil {
				return fmt.Errorf("finish stage: %w", err)
			}
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE jobs
                 SET current_stage = ?, progress_stage = ?, progress_percent = 100,
                     progress_message = ?, updated_at = ?
                 WHERE id = ?`,
				stage, stage, nullableString(message), timestamp, jobID,
			); err != nil {
				return fmt.Errorf("mirror stage finish: %w", err)
			}

		case StageFailed:
			args := []any{StageFailed, nullableString(message), nullableString(message), timestamp, timestamp}
			set := `status = ?, message = ?, error_message = ?, finished_at = ?, updated_at = ?`
			if percent != nil {
				set += `, progress_percent = MAX(progress_percent, ?)`
				args = append(args, clampPercent(*percent))
			}
			args = append(args, jobID, stage)
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE job_stages SET `+set+` WHERE job_id = ? AND name = ?`,
				args...,
			); err != nil {
				return fmt.Errorf("fail stage: %w", err)
			}
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE jobs SET current_stage = ?, progress_stage = ?, progress_message = ?, updated_at = ? WHERE id = ?`,
				stage, stage, nullableString(message), timestamp, jobID,
			); err != nil {
				return fmt.Errorf("mirror stage failure: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetStage(ctx, jobID, stage)
}

// UpdateStageProgress persists a progress sample for an active stage. The
// stored percent never decreases within a stage run; stale or out-of-order
// samples collapse into the current value.
func (s *Store) UpdateStageProgress(ctx context.Context, jobID, stage string, percent float64, message string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	value := clampPercent(percent)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE job_stages
             SET progress_percent = MAX(progress_percent, ?), message = ?, updated_at = ?
             WHERE job_id = ? AND name = ? AND status = ?`,
			value, nullableString(message), timestamp, jobID, stage, StageActive,
		); err != nil {
			return fmt.Errorf("update stage progress: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET progress_stage = ?, progress_percent = MAX(progress_percent, ?),
                 progress_message = ?, updated_at = ?
             WHERE id = ? AND current_stage = ? AND status = ?`,
			stage, value, nullableString(message), timestamp, jobID, stage, JobRunning,
		); err != nil {
			return fmt.Errorf("mirror stage progress: %w", err)
		}
		return nil
	})
}

// MarkCompleted finishes a job. Every stage must already be completed or
// skipped; anything else is an invalid transition.
func (s *Store) MarkCompleted(ctx context.Context, jobID string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		jobStatus, err := jobStatusTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if jobStatus.IsTerminal() {
			return services.Wrap(services.ErrInvalidTransition, "", "complete", fmt.Sprintf("job is %s", jobStatus), nil)
		}

		stages, err := stagesForJobTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		for _, record := range stages {
			if !record.Status.IsTerminalSuccess() {
				return services.Wrap(
					services.ErrInvalidTransition,
					record.Name,
					"complete",
					fmt.Sprintf("stage is %s", record.Status),
					nil,
				)
			}
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, error_message = NULL, progress_percent = 100,
                 finished_at = ?, last_heartbeat = NULL, updated_at = ?
             WHERE id = ?`,
			JobCompleted, timestamp, timestamp, jobID,
		); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		return nil
	})
}

// MarkFailed records a job-level failure. Remaining waiting stages are left
// untouched so a later resubmission resumes where the pipeline stopped.
func (s *Store) MarkFailed(ctx context.Context, jobID, message string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	message = strings.TrimSpace(message)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		jobStatus, err := jobStatusTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if jobStatus.IsTerminal() {
			return services.Wrap(services.ErrInvalidTransition, "", "fail", fmt.Sprintf("job is %s", jobStatus), nil)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, error_message = ?, progress_message = ?,
                 finished_at = ?, last_heartbeat = NULL, updated_at = ?
             WHERE id = ?`,
			JobFailed, nullableString(message), nullableString(message), timestamp, timestamp, jobID,
		); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return nil
	})
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		jobID,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleRunning returns running jobs with expired heartbeats to pending
// so the workflow can pick them up again. Active stages roll back to waiting;
// completed stages are preserved.
func (s *Store) ReclaimStaleRunning(ctx context.Context, cutoff time.Time) (int64, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	cutoffStr := cutoff.UTC().Format(time.RFC3339Nano)
	var reclaimed int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE job_stages
             SET status = ?, progress_percent = 0, message = NULL, error_message = NULL,
                 started_at = NULL, finished_at = NULL, updated_at = ?
             WHERE status = ? AND job_id IN (
                 SELECT id FROM jobs
                 WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?
             )`,
			StageWaiting, timestamp, StageActive, JobRunning, cutoffStr,
		); err != nil {
			return fmt.Errorf("reclaim stages: %w", err)
		}

		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, current_stage = NULL, progress_stage = 'Reclaimed after stale heartbeat',
                 progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
             WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
			JobPending, timestamp, JobRunning, cutoffStr,
		)
		if err != nil {
			return fmt.Errorf("reclaim jobs: %w", err)
		}
		reclaimed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return reclaimed, nil
}

// ResetStuckRunning returns every running job to pending. Called on daemon
// startup when nothing can legitimately be in flight.
func (s *Store) ResetStuckRunning(ctx context.Context) (int64, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	var reset int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE job_stages
             SET status = ?, progress_percent = 0, message = NULL, error_message = NULL,
                 started_at = NULL, finished_at = NULL, updated_at = ?
             WHERE status = ? AND job_id IN (SELECT id FROM jobs WHERE status = ?)`,
			StageWaiting, timestamp, StageActive, JobRunning,
		); err != nil {
			return fmt.Errorf("reset stages: %w", err)
		}

		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, current_stage = NULL, progress_stage = 'Reset from stuck processing',
                 progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
             WHERE status = ?`,
			JobPending, timestamp, JobRunning,
		)
		if err != nil {
			return fmt.Errorf("reset jobs: %w", err)
		}
		reset, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}

func jobStatusTx(ctx context.Context, tx *sql.Tx, jobID string) (JobStatus, error) {
	var status string
	row := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", services.Wrap(services.ErrNotFound, "", "lookup", fmt.Sprintf("job %s not found", jobID), nil)
		}
		return "", fmt.Errorf("lookup job status: %w", err)
	}
	return JobStatus(status), nil
}

func stagesForJobTx(ctx context.Context, tx *sql.Tx, jobID string) ([]*StageRecord, error) {
	rows, err := tx.QueryContext(
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

func clampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
