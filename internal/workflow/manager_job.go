package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lyrebird/internal/events"
	"lyrebird/internal/logging"
	"lyrebird/internal/registry"
	"lyrebird/internal/services"
)

// ProcessJob runs every remaining stage of one job on the calling goroutine.
// The daemon's poll loop and the CLI's synchronous run path both funnel
// through here.
func (m *Manager) ProcessJob(ctx context.Context, jobID string) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return services.Wrap(services.ErrInvalidTransition, "", "process job",
			fmt.Sprintf("job is %s", job.Status), nil)
	}
	return m.processJob(ctx, job)
}

// RunStage executes a single stage of a job, completing the job when that
// stage was the last one outstanding.
func (m *Manager) RunStage(ctx context.Context, jobID, stageName string) error {
	handler := m.handlerFor(stageName)
	if handler == nil {
		return services.Wrap(services.ErrValidation, stageName, "run stage", "unknown stage", nil)
	}
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return services.Wrap(services.ErrInvalidTransition, stageName, "run stage",
			fmt.Sprintf("job is %s", job.Status), nil)
	}

	stageCtx := m.stageContext(ctx, job, stageName)
	logger := m.jobLogger(stageCtx)

	stageStart := time.Now()
	if err := m.runStage(stageCtx, logger, handler, job); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		m.failJob(stageCtx, logger, job, stageName, err, time.Since(stageStart))
		m.setLastError(err)
		return err
	}

	records, err := m.store.StagesForJob(ctx, jobID)
	if err != nil {
		return err
	}
	for _, record := range records {
		if !record.Status.IsTerminalSuccess() {
			return nil
		}
	}

	elapsed := time.Since(stageStart)
	if job.StartedAt != nil {
		elapsed = time.Since(*job.StartedAt)
	}
	m.completeJob(stageCtx, logger, job, elapsed)
	return nil
}

func (m *Manager) processJob(ctx context.Context, job *registry.Job) error {
	jobCtx := services.WithRequestID(services.WithJobID(ctx, job.ID), uuid.NewString())
	logger := m.jobLogger(jobCtx)

	m.setLastJob(job)
	m.onJobStarted(jobCtx)

	jobStart := time.Now()
	for _, name := range registry.StageOrder() {
		handler := m.handlerFor(name)
		if handler == nil {
			err := services.Wrap(services.ErrConfiguration, name, "run stage", "no handler registered", nil)
			m.failJob(jobCtx, logger, job, name, err, 0)
			m.setLastError(err)
			return err
		}

		stageCtx := services.WithStage(jobCtx, name)
		stageLogger := logging.WithContext(stageCtx, logger)

		stageStart := time.Now()
		if err := m.runStage(stageCtx, stageLogger, handler, job); err != nil {
			if errors.Is(err, context.Canceled) {
				stageLogger.Debug("stage interrupted by shutdown")
				return err
			}
			m.failJob(stageCtx, stageLogger, job, name, err, time.Since(stageStart))
			m.setLastError(err)
			return err
		}
	}

	m.completeJob(jobCtx, logger, job, time.Since(jobStart))
	return nil
}

func (m *Manager) completeJob(ctx context.Context, logger *slog.Logger, job *registry.Job, elapsed time.Duration) {
	if err := m.store.MarkCompleted(ctx, job.ID); err != nil {
		logger.Error("failed to mark job completed", logging.Error(err))
		m.setLastError(err)
		return
	}

	m.hub.Publish(events.Event{
		JobID:           job.ID,
		Status:          string(registry.JobCompleted),
		ProgressPercent: 100,
		Message:         "Karaoke package ready",
		Terminal:        true,
	})

	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Duration("job_duration", elapsed),
	)

	if updated, err := m.store.GetJob(ctx, job.ID); err == nil {
		m.setLastJob(updated)
	}
	m.notifyJobCompleted(ctx, job)
	m.checkQueueDrained(ctx)
}

func (m *Manager) jobLogger(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, logging.NewComponentLogger(m.logger, "workflow-manager"))
}

func (m *Manager) stageContext(ctx context.Context, job *registry.Job, stageName string) context.Context {
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithStage(ctx, stageName)
	return services.WithRequestID(ctx, uuid.NewString())
}
