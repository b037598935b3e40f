package workflow

import (
	"log/slog"
	"sync"
	"time"

	"lyrebird/internal/artifacts"
	"lyrebird/internal/config"
	"lyrebird/internal/events"
	"lyrebird/internal/gpu"
	"lyrebird/internal/karaoke"
	"lyrebird/internal/notifications"
	"lyrebird/internal/progress"
	"lyrebird/internal/registry"
	"lyrebird/internal/separation"
	"lyrebird/internal/stage"
	"lyrebird/internal/transcription"
)

// Manager coordinates job processing across the registered stage handlers.
type Manager struct {
	cfg      *config.Config
	store    *registry.Store
	art      *artifacts.Store
	models   *gpu.Manager
	hub      *events.Hub
	logger   *slog.Logger
	notifier notifications.Service
	tracker  *progress.Tracker

	handlers  map[string]stage.Handler
	heartbeat *HeartbeatMonitor

	pollInterval time.Duration
	slots        chan struct{}

	mu      sync.RWMutex
	running bool
	cancel  func()
	wg      sync.WaitGroup
	lastErr error
	lastJob *registry.Job

	queueActive bool
	queueStart  time.Time
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	notifier     notifications.Service
	progressTick time.Duration
}

// WithNotifier overrides the ntfy notifier built from the config (used in tests).
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(o *managerOptions) { o.notifier = notifier }
}

// WithProgressTick overrides the predictive progress emission interval.
func WithProgressTick(tick time.Duration) ManagerOption {
	return func(o *managerOptions) { o.progressTick = tick }
}

// NewManager constructs a workflow manager. Stage handlers are registered
// separately via ConfigureStages before Start.
func NewManager(
	cfg *config.Config,
	store *registry.Store,
	art *artifacts.Store,
	models *gpu.Manager,
	hub *events.Hub,
	logger *slog.Logger,
	opts ...ManagerOption,
) *Manager {
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	notifier := options.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	sink := &progressSink{store: store, hub: hub, logger: logger}
	trackerOpts := []progress.TrackerOption{}
	if options.progressTick > 0 {
		trackerOpts = append(trackerOpts, progress.WithTick(options.progressTick))
	}

	var slots chan struct{}
	if limit := cfg.Workflow.MaxConcurrentJobs; limit > 0 {
		slots = make(chan struct{}, limit)
	}

	return &Manager{
		cfg:          cfg,
		store:        store,
		art:          art,
		models:       models,
		hub:          hub,
		logger:       logger,
		notifier:     notifier,
		tracker:      progress.NewTracker(sink, trackerOpts...),
		handlers:     make(map[string]stage.Handler),
		pollInterval: time.Duration(cfg.Workflow.PollInterval) * time.Second,
		slots:        slots,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
	}
}

// StageSet bundles the concrete stage handlers the manager orchestrates.
type StageSet struct {
	Separation    stage.Handler
	Transcription stage.Handler
	Karaoke       stage.Handler
}

// DefaultStageSet builds the production handlers from the configuration.
func DefaultStageSet(cfg *config.Config) StageSet {
	return StageSet{
		Separation:    separation.NewHandler(cfg),
		Transcription: transcription.NewHandler(cfg),
		Karaoke:       karaoke.NewHandler(cfg),
	}
}

// ConfigureStages registers the stage handlers the workflow will run. Every
// pipeline stage must have a handler before Start.
func (m *Manager) ConfigureStages(set StageSet) {
	handlers := make(map[string]stage.Handler, 3)
	if set.Separation != nil {
		handlers[registry.StageSeparation] = set.Separation
	}
	if set.Transcription != nil {
		handlers[registry.StageTranscription] = set.Transcription
	}
	if set.Karaoke != nil {
		handlers[registry.StageKaraoke] = set.Karaoke
	}

	m.mu.Lock()
	m.handlers = handlers
	m.mu.Unlock()
}

func (m *Manager) handlerFor(stageName string) stage.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers[stageName]
}
