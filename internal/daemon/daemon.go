package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"lyrebird/internal/api"
	"lyrebird/internal/artifacts"
	"lyrebird/internal/config"
	"lyrebird/internal/deps"
	"lyrebird/internal/events"
	"lyrebird/internal/gpu"
	"lyrebird/internal/logging"
	"lyrebird/internal/notifications"
	"lyrebird/internal/preflight"
	"lyrebird/internal/registry"
	"lyrebird/internal/services"
	"lyrebird/internal/workflow"
)

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *registry.Store
	art      *artifacts.Store
	models   *gpu.Manager
	hub      *events.Hub
	workflow *workflow.Manager
	logPath  string

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	Workflow       workflow.StatusSummary
	Accelerator    gpu.Status
	Dependencies   []deps.Status
	RegistryDBPath string
	LockFilePath   string
}

// New constructs a daemon with initialized dependencies. The accelerator
// manager, artifact index, and event hub may be nil; the surfaces that need
// them degrade to empty responses.
func New(
	cfg *config.Config,
	store *registry.Store,
	art *artifacts.Store,
	models *gpu.Manager,
	hub *events.Hub,
	wf *workflow.Manager,
	logger *slog.Logger,
	logPath string,
) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "lyrebird.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		art:      art,
		models:   models,
		hub:      hub,
		workflow: wf,
		logPath:  logPath,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, requeues jobs interrupted by a previous
// crash, and launches the workflow manager and HTTP server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another lyrebird daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.logPreflight(d.ctx)

	if requeued, err := d.store.ResetStuckRunning(d.ctx); err != nil {
		d.logger.Warn("failed to requeue interrupted jobs",
			logging.Error(err),
			logging.String(logging.FieldEventType, "jobs_requeue_failed"),
			logging.String(logging.FieldErrorHint, "check registry database availability"))
	} else if requeued > 0 {
		d.logger.Info("requeued jobs interrupted by previous shutdown",
			logging.Int64("count", requeued),
			logging.String(logging.FieldEventType, "jobs_requeued"))
	}

	if err := d.workflow.Start(d.ctx); err != nil {
		d.releaseStartup()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.workflow.Stop()
		d.releaseStartup()
		return fmt.Errorf("start api server: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("lyrebird daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) releaseStartup() {
	_ = d.lock.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("lyrebird daemon stopped")
}

// Close releases resources held by the daemon, including resident models.
func (d *Daemon) Close() error {
	d.Stop()
	if d.models != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := d.models.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("accelerator shutdown incomplete", logging.Error(err))
		}
		cancel()
	}
	if d.hub != nil {
		d.hub.Close()
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

func (d *Daemon) logPreflight(ctx context.Context) {
	for _, result := range preflight.RunAll(ctx, d.cfg) {
		if result.Passed {
			continue
		}
		d.logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldEventType, "preflight_check_failed"))
	}
}

// SubmitOptions carries caller-provided submission parameters.
type SubmitOptions struct {
	SourcePath           string
	Title                string
	SeparationVariant    string
	TranscriptionVariant string
	Language             string
	IngestUpload         bool
}

// Submit registers a media file on behalf of the CLI or HTTP surface.
// Duplicate submissions return the existing job with isNew=false.
func (d *Daemon) Submit(ctx context.Context, opts SubmitOptions) (*registry.Job, bool, error) {
	if d.store == nil {
		return nil, false, errors.New("registry store unavailable")
	}
	outcome, err := api.Submit(ctx, api.SubmitRequest{
		Config:               d.cfg,
		Store:                d.store,
		Logger:               d.logger,
		SourcePath:           opts.SourcePath,
		Title:                opts.Title,
		SeparationVariant:    opts.SeparationVariant,
		TranscriptionVariant: opts.TranscriptionVariant,
		Language:             opts.Language,
		IngestUpload:         opts.IngestUpload,
	})
	if err != nil {
		return nil, false, err
	}
	return outcome.Job, outcome.IsNew, nil
}

// ListJobs returns registry jobs filtered by optional statuses.
func (d *Daemon) ListJobs(ctx context.Context, statuses []registry.JobStatus) ([]*registry.Job, error) {
	if d.store == nil {
		return nil, errors.New("registry store unavailable")
	}
	return d.store.List(ctx, statuses...)
}

// GetJob returns a single job, or nil when the id is unknown.
func (d *Daemon) GetJob(ctx context.Context, id string) (*registry.Job, error) {
	if d.store == nil {
		return nil, errors.New("registry store unavailable")
	}
	return d.store.GetJob(ctx, id)
}

// JobStages returns the per-stage records for a job in pipeline order.
func (d *Daemon) JobStages(ctx context.Context, jobID string) ([]*registry.StageRecord, error) {
	if d.store == nil {
		return nil, errors.New("registry store unavailable")
	}
	return d.store.StagesForJob(ctx, jobID)
}

// JobArtifacts returns the recorded artifacts for a job.
func (d *Daemon) JobArtifacts(ctx context.Context, jobID string) ([]*artifacts.Record, error) {
	if d.art == nil {
		return nil, errors.New("artifact index unavailable")
	}
	return d.art.ListForJob(ctx, jobID)
}

// RunStage executes a single stage for a job and waits for it to finish.
func (d *Daemon) RunStage(ctx context.Context, jobID, stageName string) error {
	if d.workflow == nil {
		return errors.New("workflow manager unavailable")
	}
	return d.workflow.RunStage(ctx, jobID, stageName)
}

// StartStage validates the request and runs a single stage in the
// background. Execution failures surface through job state and the event
// stream rather than the returned error.
func (d *Daemon) StartStage(jobID, stageName string) error {
	if !registry.IsStageName(stageName) {
		return services.Wrap(services.ErrValidation, stageName, "start stage", fmt.Sprintf("unknown stage %q", stageName), nil)
	}
	if !d.running.Load() || d.ctx == nil {
		return services.Wrap(services.ErrResourceUnavailable, stageName, "start stage", "daemon is not running", nil)
	}
	job, err := d.store.GetJob(d.ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, stageName, "start stage", fmt.Sprintf("job %s not found", jobID), nil)
	}

	runCtx := d.ctx
	go func() {
		if err := d.workflow.RunStage(runCtx, job.ID, stageName); err != nil {
			d.logger.Warn("background stage run failed",
				logging.Error(err),
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldStage, stageName),
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.String(logging.FieldEventType, "stage_run_failed"))
		}
	}()
	return nil
}

// FetchEvents returns buffered job events after the given cursor, blocking
// for new ones when wait is set.
func (d *Daemon) FetchEvents(ctx context.Context, jobID string, since uint64, limit int, wait bool) ([]events.Event, uint64, error) {
	if d.hub == nil {
		return nil, since, nil
	}
	return d.hub.Fetch(ctx, jobID, since, limit, wait)
}

// RemoveJobs deletes registry rows by id and reports each outcome.
func (d *Daemon) RemoveJobs(ctx context.Context, ids []string) (api.RemoveJobsResult, error) {
	if d.store == nil {
		return api.RemoveJobsResult{}, errors.New("registry store unavailable")
	}
	return api.RemoveJobsByID(ctx, d.store, ids)
}

// Clear removes all registry jobs.
func (d *Daemon) Clear(ctx context.Context) (int64, error) {
	if d.store == nil {
		return 0, errors.New("registry store unavailable")
	}
	return d.store.Clear(ctx)
}

// ClearCompleted removes only completed jobs.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	if d.store == nil {
		return 0, errors.New("registry store unavailable")
	}
	return d.store.ClearCompleted(ctx)
}

// ClearFailed removes only failed jobs.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	if d.store == nil {
		return 0, errors.New("registry store unavailable")
	}
	return d.store.ClearFailed(ctx)
}

// ResetStuck requeues running jobs whose owners are gone.
func (d *Daemon) ResetStuck(ctx context.Context) (int64, error) {
	if d.store == nil {
		return 0, errors.New("registry store unavailable")
	}
	return d.store.ResetStuckRunning(ctx)
}

// RegistryHealth returns aggregate job counts.
func (d *Daemon) RegistryHealth(ctx context.Context) (registry.HealthSummary, error) {
	if d.store == nil {
		return registry.HealthSummary{}, errors.New("registry store unavailable")
	}
	return d.store.Health(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (registry.DatabaseHealth, error) {
	if d.store == nil {
		return registry.DatabaseHealth{}, errors.New("registry store unavailable")
	}
	return d.store.CheckHealth(ctx)
}

// Dependencies reports the availability of the external tools.
func (d *Daemon) Dependencies() []deps.Status {
	return deps.Check(d.cfg)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// APIAddr returns the bound HTTP listener address, empty when the API is
// disabled or the daemon is stopped.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		Workflow:       d.workflow.Status(ctx),
		Dependencies:   deps.Check(d.cfg),
		RegistryDBPath: d.cfg.Paths.DatabasePath,
		LockFilePath:   d.lockPath,
	}
	if d.models != nil {
		status.Accelerator = d.models.Status()
	}
	return status
}
