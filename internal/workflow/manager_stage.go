package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"lyrebird/internal/artifacts"
	"lyrebird/internal/fileutil"
	"lyrebird/internal/gpu"
	"lyrebird/internal/logging"
	"lyrebird/internal/metrics"
	"lyrebird/internal/progress"
	"lyrebird/internal/registry"
	"lyrebird/internal/services"
	"lyrebird/internal/stage"
)

// runStage executes one stage of one job: skip it when the artifact cache
// already holds verified outputs, check prerequisites, reserve the stage's
// model variant, then run the handler under heartbeat and progress tracking.
// The caller owns failure handling; runStage only reports success states.
func (m *Manager) runStage(ctx context.Context, logger *slog.Logger, handler stage.Handler, job *registry.Job) error {
	name := handler.Name()

	record, err := m.store.GetStage(ctx, job.ID, name)
	if err != nil {
		return err
	}
	if record.Status.IsTerminalSuccess() {
		// Finished in an earlier run; a reclaimed job resumes after it.
		return nil
	}

	cached, ok, err := m.art.VerifiedForStage(ctx, job.Fingerprint, name)
	if err != nil {
		return fmt.Errorf("verify cached artifacts: %w", err)
	}
	if ok {
		return m.skipStage(ctx, logger, job, name, len(cached))
	}

	if err := m.checkPrerequisites(ctx, handler, job); err != nil {
		return err
	}

	handle, err := m.acquireModel(ctx, handler, job)
	if err != nil {
		return err
	}
	defer m.models.Release(handle)

	startMessage := stageTitle(name) + " started"
	if _, err := m.store.TransitionStage(ctx, job.ID, name, registry.StageActive, nil, startMessage); err != nil {
		return err
	}
	m.publishStage(job.ID, name, "running", 0, startMessage)

	stageStart := time.Now()
	startAttrs := []logging.Attr{
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("source_file", strings.TrimSpace(job.SourcePath)),
	}
	if handle != nil {
		startAttrs = append(startAttrs, logging.String("variant", handle.VariantKey))
	}
	logger.Info("stage started", logging.Args(startAttrs...)...)

	if err := handler.Prepare(ctx, job); err != nil {
		return err
	}

	reporter, stopProgress := m.startProgress(handler, job)
	result, execErr := m.executeWithHeartbeat(ctx, handler, job, reporter)
	stopProgress()
	m.models.Release(handle)
	if execErr != nil {
		return execErr
	}

	if err := m.recordArtifacts(ctx, job, name, result.Artifacts); err != nil {
		return err
	}

	doneMessage := strings.TrimSpace(result.Message)
	if doneMessage == "" {
		doneMessage = stageTitle(name) + " completed"
	}
	if _, err := m.store.TransitionStage(ctx, job.ID, name, registry.StageCompleted, nil, doneMessage); err != nil {
		return err
	}
	m.publishStage(job.ID, name, "completed", 100, doneMessage)
	metrics.StageFinished(name, "completed", time.Since(stageStart))
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("artifacts", len(result.Artifacts)),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	return nil
}

func (m *Manager) skipStage(ctx context.Context, logger *slog.Logger, job *registry.Job, name string, cachedCount int) error {
	message := fmt.Sprintf("Reused %d cached artifacts", cachedCount)
	if _, err := m.store.TransitionStage(ctx, job.ID, name, registry.StageSkipped, nil, message); err != nil {
		return err
	}
	m.publishStage(job.ID, name, "skipped", 100, message)
	metrics.StageFinished(name, "skipped", 0)
	logger.Info("stage skipped",
		logging.String(logging.FieldEventType, "stage_skip"),
		logging.Int("cached_artifacts", cachedCount),
	)
	return nil
}

// checkPrerequisites verifies the handler's declared artifact dependencies
// against the cache index before any model is reserved, so a job missing its
// inputs fails fast without holding VRAM.
func (m *Manager) checkPrerequisites(ctx context.Context, handler stage.Handler, job *registry.Job) error {
	for _, prereq := range handler.Prerequisites() {
		records, err := m.art.FindByFingerprint(ctx, job.Fingerprint, prereq.Stage)
		if err != nil {
			return fmt.Errorf("list %s artifacts: %w", prereq.Stage, err)
		}
		matched := false
		for _, record := range records {
			if prereq.Matches(record.Name) {
				matched = true
				break
			}
		}
		if !matched {
			return services.Wrap(services.ErrPrerequisite, handler.Name(), "check prerequisites",
				fmt.Sprintf("required artifact %s has not been produced", prereq.String()), nil)
		}
	}
	return nil
}

func (m *Manager) acquireModel(ctx context.Context, handler stage.Handler, job *registry.Job) (*gpu.ModelHandle, error) {
	variant := strings.TrimSpace(handler.Variant(job))
	if variant == "" {
		return nil, nil
	}
	return m.models.Acquire(ctx, variant)
}

// startProgress wires the stage's progress mode: measured stages get an
// updater fed by their tool's output, predictive stages get a timer curve
// sized from the job's media duration.
func (m *Manager) startProgress(handler stage.Handler, job *registry.Job) (stage.Reporter, func()) {
	if handler.Mode() == stage.ProgressMeasured {
		return m.tracker.StartMeasured(job.ID, handler.Name()), func() {}
	}
	estimate := progress.EstimateSeconds(handler.Name(), job.DurationSeconds)
	cancel := m.tracker.StartPredictive(job.ID, handler.Name(), estimate)
	return stage.NopReporter{}, cancel
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, handler stage.Handler, job *registry.Job, reporter stage.Reporter) (stage.Result, error) {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	result, err := handler.Execute(ctx, job, reporter)
	hbCancel()
	hbWG.Wait()
	return result, err
}

func (m *Manager) recordArtifacts(ctx context.Context, job *registry.Job, stageName string, produced []stage.Artifact) error {
	for _, artifact := range produced {
		digest, size, err := fileutil.HashFile(artifact.Path)
		if err != nil {
			return services.Wrap(services.ErrStageExecution, stageName, "index artifact",
				fmt.Sprintf("produced artifact %s is not readable", artifact.Name), err)
		}
		if err := m.art.Record(ctx, artifacts.Record{
			JobID:       job.ID,
			Fingerprint: job.Fingerprint,
			Stage:       stageName,
			Name:        artifact.Name,
			Path:        artifact.Path,
			SizeBytes:   size,
			SHA256:      digest,
		}); err != nil {
			return err
		}
	}
	return nil
}
