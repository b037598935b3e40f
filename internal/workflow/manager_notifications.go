package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"lyrebird/internal/logging"
	"lyrebird/internal/notifications"
	"lyrebird/internal/registry"
)

// onJobStarted reports the first job of an idle-to-busy transition. Repeat
// claims while the queue is already active stay quiet.
func (m *Manager) onJobStarted(ctx context.Context) {
	if m.notifier == nil {
		return
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not get queue stats for start notification")
		} else {
			m.logger.Warn("queue stats unavailable for start notification; notification skipped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_stats_failed"),
				logging.String(logging.FieldErrorHint, "check registry database access"),
				logging.String(logging.FieldImpact, "start notification will not be sent"),
			)
		}
		return
	}

	m.mu.Lock()
	if m.queueActive {
		m.mu.Unlock()
		return
	}
	m.queueActive = true
	m.queueStart = time.Now()
	m.mu.Unlock()

	count := stats[registry.JobPending] + stats[registry.JobRunning]
	if err := m.notifier.Publish(ctx, notifications.EventQueueStarted, notifications.Payload{"count": count}); err != nil {
		m.logNotifyFailure(ctx, "queue start", err)
	}
}

// checkQueueDrained fires the drain notification once every submitted job has
// reached a terminal state.
func (m *Manager) checkQueueDrained(ctx context.Context) {
	if m.notifier == nil {
		return
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not check queue drain")
		} else {
			m.logger.Warn("queue stats unavailable for drain notification; notification skipped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_stats_failed"),
				logging.String(logging.FieldErrorHint, "check registry database access"),
				logging.String(logging.FieldImpact, "drain notification will not be sent"),
			)
		}
		return
	}
	if active := stats[registry.JobPending] + stats[registry.JobRunning]; active > 0 {
		return
	}

	m.mu.Lock()
	if !m.queueActive {
		m.mu.Unlock()
		return
	}
	start := m.queueStart
	m.queueActive = false
	m.queueStart = time.Time{}
	m.mu.Unlock()

	duration := time.Duration(0)
	if !start.IsZero() {
		duration = time.Since(start)
	}
	if err := m.notifier.Publish(ctx, notifications.EventQueueDrained, notifications.Payload{
		"processed": stats[registry.JobCompleted],
		"failed":    stats[registry.JobFailed],
		"duration":  duration,
	}); err != nil {
		m.logNotifyFailure(ctx, "queue drain", err)
	}
}

func (m *Manager) notifyJobCompleted(ctx context.Context, job *registry.Job) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, notifications.EventJobCompleted, notifications.Payload{
		"title": jobLabel(job),
	}); err != nil {
		m.logNotifyFailure(ctx, "job completion", err)
	}
}

func (m *Manager) notifyJobFailed(ctx context.Context, job *registry.Job, stageName, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, notifications.EventJobFailed, notifications.Payload{
		"title": jobLabel(job),
		"stage": stageName,
		"error": message,
	}); err != nil {
		m.logNotifyFailure(ctx, "job failure", err)
	}
}

func (m *Manager) logNotifyFailure(ctx context.Context, label string, err error) {
	if errors.Is(err, context.Canceled) {
		m.logger.Debug("daemon shutting down, could not send " + label + " notification")
		return
	}
	m.logger.Debug(label+" notification failed", logging.Error(err))
}

func jobLabel(job *registry.Job) string {
	if title := strings.TrimSpace(job.Title); title != "" {
		return title
	}
	if base := filepath.Base(strings.TrimSpace(job.SourcePath)); base != "" && base != "." && base != string(filepath.Separator) {
		return base
	}
	return job.ID
}
