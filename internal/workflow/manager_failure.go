package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"lyrebird/internal/events"
	"lyrebird/internal/logging"
	"lyrebird/internal/metrics"
	"lyrebird/internal/registry"
	"lyrebird/internal/services"
)

// failJob records a stage failure and halts the job. Nothing is retried
// automatically: the stage and the job both land in failed, the terminal
// event carries the taxonomy kind, and the notifier hears about it.
func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, job *registry.Job, stageName string, stageErr error, elapsed time.Duration) {
	message := failureMessage(stageName, stageErr)
	kind := services.Kind(stageErr)

	if _, err := m.store.TransitionStage(ctx, job.ID, stageName, registry.StageFailed, nil, message); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			logger.Debug("daemon shutting down, could not persist stage failure")
		case errors.Is(err, services.ErrInvalidTransition):
			// Stage already terminal; the job-level failure below still lands.
		default:
			logger.Error("failed to persist stage failure", logging.Error(err))
		}
	}
	if err := m.store.MarkFailed(ctx, job.ID, message); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not persist job failure")
		} else {
			logger.Error("failed to persist job failure", logging.Error(err))
		}
	}

	logger.Error("stage failed",
		logging.String("error_message", message),
		logging.String(logging.FieldErrorKind, kind),
		logging.Alert("stage_failure"),
		logging.Error(stageErr),
		logging.String(logging.FieldEventType, "stage_failure"),
	)

	metrics.StageFinished(stageName, "failed", elapsed)
	m.hub.Publish(events.Event{
		JobID:     job.ID,
		Stage:     stageName,
		Status:    string(registry.JobFailed),
		Message:   message,
		ErrorKind: kind,
		Error:     message,
		Terminal:  true,
	})

	if updated, err := m.store.GetJob(ctx, job.ID); err == nil {
		m.setLastJob(updated)
	}
	m.notifyJobFailed(ctx, job, stageName, message)
	m.checkQueueDrained(ctx)
}

func failureMessage(stageName string, stageErr error) string {
	if stageErr == nil {
		return stageTitle(stageName) + " failed"
	}
	if message := strings.TrimSpace(services.Message(stageErr)); message != "" {
		return message
	}
	return stageTitle(stageName) + " failed"
}
