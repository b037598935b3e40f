package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lyrebird/internal/logging"
	"lyrebird/internal/registry"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	for _, name := range registry.StageOrder() {
		if m.handlers[name] == nil {
			m.mu.Unlock()
			return fmt.Errorf("no handler registered for stage %s", name)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for in-flight jobs to
// observe the cancellation.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runLoop(ctx context.Context) {
	defer m.wg.Done()
	logger := logging.NewComponentLogger(m.logger, "workflow-runner")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.heartbeat.ReclaimStale(ctx, logger); err != nil {
			logger.Warn("reclaim stale jobs failed; stuck jobs may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check registry database access"),
			)
		}

		if !m.acquireSlot(ctx) {
			return
		}

		job, err := m.store.ClaimPending(ctx)
		if err != nil {
			m.releaseSlot()
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if job == nil {
			m.releaseSlot()
			m.waitForJobOrShutdown(ctx)
			continue
		}

		m.wg.Add(1)
		go func(job *registry.Job) {
			defer m.wg.Done()
			defer m.releaseSlot()
			_ = m.processJob(ctx, job)
		}(job)
	}
}

// acquireSlot blocks until a concurrency slot frees up. Returns false when the
// run context is cancelled first.
func (m *Manager) acquireSlot(ctx context.Context) bool {
	if m.slots == nil {
		return true
	}
	select {
	case m.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) releaseSlot() {
	if m.slots != nil {
		<-m.slots
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "claim_failed"),
		logging.String(logging.FieldErrorHint, "check registry database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second):
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
