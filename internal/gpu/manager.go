package gpu

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"lyrebird/internal/config"
	"lyrebird/internal/logging"
	"lyrebird/internal/metrics"
	"lyrebird/internal/services"
)

const (
	// fallbackEstimateMB admits variants missing from the config estimates.
	fallbackEstimateMB = 4096

	unloadTimeout = 30 * time.Second
)

type entryState int

const (
	stateLoading entryState = iota
	stateReady
	stateFailed
)

func (s entryState) String() string {
	switch s {
	case stateLoading:
		return "loading"
	case stateReady:
		return "ready"
	default:
		return "failed"
	}
}

// entry tracks one variant's residency. readyCh closes exactly once, when the
// load settles; waiters then read state and loadErr under the manager mutex.
type entry struct {
	key      string
	state    entryState
	readyCh  chan struct{}
	loadErr  error
	instance *ModelInstance
	estMB    int
	refCount int
	lastUsed time.Time
}

// ModelHandle pins a resident variant. The variant cannot be evicted until
// every handle for it has been released.
type ModelHandle struct {
	VariantKey string
	Device     string
	EstVRAMMB  int

	manager *Manager
	entry   *entry
	once    sync.Once
}

// Release returns the handle to the manager. Releasing twice is harmless.
func (h *ModelHandle) Release() {
	if h != nil && h.manager != nil {
		h.manager.Release(h)
	}
}

// Manager owns model residency on the accelerator.
type Manager struct {
	cfg    *config.Config
	logger *slog.Logger
	loader Loader
	device Device

	mu        sync.Mutex
	entries   map[string]*entry
	usedEstMB int
	closed    bool

	janitorStop chan struct{}
	janitorDone chan struct{}
	unloadWG    sync.WaitGroup
}

// Option configures optional Manager behavior.
type Option func(*managerOptions)

type managerOptions struct {
	loader Loader
	device *Device
}

// WithLoader overrides the production loader (used in tests).
func WithLoader(loader Loader) Option {
	return func(o *managerOptions) { o.loader = loader }
}

// WithDevice injects a device instead of probing nvidia-smi (used in tests).
func WithDevice(device Device) Option {
	return func(o *managerOptions) { o.device = &device }
}

// NewManager constructs the resource manager and starts its idle janitor.
func NewManager(cfg *config.Config, logger *slog.Logger, opts ...Option) *Manager {
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	m := &Manager{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "gpu"),
		loader:  options.loader,
		entries: make(map[string]*entry),
	}
	if m.loader == nil {
		m.loader = NewExecLoader(cfg)
	}
	if options.device != nil {
		m.device = *options.device
	} else {
		m.device = ProbeDevice(context.Background(), cfg)
	}

	if m.device.Present {
		m.logger.Info("accelerator detected",
			logging.String("device", m.device.Name),
			logging.Int("index", m.device.Index),
			logging.Int("total_vram_mb", m.device.TotalVRAMMB),
			logging.Int("budget_mb", m.budgetMB()))
	} else {
		m.logger.Warn("no accelerator detected; model acquisition will fail",
			logging.String(logging.FieldEventType, "gpu_absent"),
			logging.String(logging.FieldErrorHint, "install nvidia drivers or point tools.nvidia_smi at the binary"))
	}

	if idle := time.Duration(cfg.GPU.IdleEvictSeconds) * time.Second; idle > 0 {
		m.janitorStop = make(chan struct{})
		m.janitorDone = make(chan struct{})
		go m.runJanitor(idle)
	}
	return m
}

// DeviceInfo reports the probed accelerator.
func (m *Manager) DeviceInfo() Device {
	return m.device
}

// Acquire returns a pinned handle for the variant, loading it if necessary.
// Concurrent acquisitions of the same variant share a single load; if that
// load fails, every waiter receives the same error. The load itself runs
// without the manager mutex held.
func (m *Manager) Acquire(ctx context.Context, variantKey string) (*ModelHandle, error) {
	variantKey = strings.ToLower(strings.TrimSpace(variantKey))
	if _, _, err := SplitVariantKey(variantKey); err != nil {
		return nil, err
	}
	if !m.device.Present {
		return nil, services.Wrap(services.ErrResourceUnavailable, "", "acquire model",
			"no accelerator detected", nil)
	}

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, services.Wrap(services.ErrResourceUnavailable, "", "acquire model",
				"resource manager is shut down", nil)
		}

		if e, ok := m.entries[variantKey]; ok {
			switch e.state {
			case stateReady:
				e.refCount++
				e.lastUsed = time.Now()
				handle := m.handleLocked(e)
				m.mu.Unlock()
				return handle, nil
			case stateLoading:
				ready := e.readyCh
				m.mu.Unlock()
				select {
				case <-ready:
				case <-ctx.Done():
					return nil, services.Wrap(services.ErrResourceUnavailable, "", "acquire model",
						variantKey, ctx.Err())
				}
				m.mu.Lock()
				if e.state == stateFailed {
					loadErr := e.loadErr
					m.mu.Unlock()
					return nil, loadErr
				}
				if m.entries[variantKey] == e && e.state == stateReady {
					e.refCount++
					e.lastUsed = time.Now()
					handle := m.handleLocked(e)
					m.mu.Unlock()
					return handle, nil
				}
				// Evicted or replaced between settle and wake; start over.
				m.mu.Unlock()
				continue
			}
		}

		estMB := m.estimateMB(variantKey)
		if err := m.admitLocked(variantKey, estMB); err != nil {
			m.mu.Unlock()
			return nil, err
		}
		e := &entry{
			key:     variantKey,
			state:   stateLoading,
			readyCh: make(chan struct{}),
			estMB:   estMB,
		}
		m.entries[variantKey] = e
		m.usedEstMB += estMB
		metrics.SetVRAMReserved(int64(m.usedEstMB))
		m.mu.Unlock()

		return m.load(ctx, e)
	}
}

// load runs the loader for a freshly registered entry and settles it.
func (m *Manager) load(ctx context.Context, e *entry) (*ModelHandle, error) {
	loadCtx := ctx
	if timeout := time.Duration(m.cfg.GPU.LoadTimeout) * time.Second; timeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	instance, err := m.loader.Load(loadCtx, e.key)

	m.mu.Lock()
	var orphan *ModelInstance
	if err == nil && (m.closed || m.entries[e.key] != e) {
		// Shutdown raced the load; the instance is resident but untracked.
		orphan = instance
		instance = nil
		err = errors.New("resource manager shut down during load")
	}
	if err != nil {
		e.state = stateFailed
		e.loadErr = services.Wrap(services.ErrResourceUnavailable, "", "load model", e.key, err)
		if m.entries[e.key] == e {
			delete(m.entries, e.key)
			m.usedEstMB -= e.estMB
			if m.usedEstMB < 0 {
				m.usedEstMB = 0
			}
			metrics.SetVRAMReserved(int64(m.usedEstMB))
		}
		close(e.readyCh)
		loadErr := e.loadErr
		m.mu.Unlock()
		m.unloadInstance(orphan)
		metrics.ModelLoad(e.key, metrics.LoadFailed)
		m.logger.Warn("model load failed",
			logging.String("variant", e.key),
			logging.Error(err),
			logging.String(logging.FieldEventType, "model_load_failed"),
			logging.String(logging.FieldErrorHint, "check tool installation and VRAM headroom"))
		return nil, loadErr
	}

	e.state = stateReady
	e.instance = instance
	e.refCount = 1
	e.lastUsed = time.Now()
	close(e.readyCh)
	handle := m.handleLocked(e)
	resident := m.residentsLocked()
	m.mu.Unlock()

	metrics.ModelLoad(e.key, metrics.LoadOK)
	metrics.SetModelsResident(resident)
	m.logger.Info("model resident",
		logging.String("variant", e.key),
		logging.Int("est_vram_mb", e.estMB),
		logging.Duration("load_time", time.Since(started)))
	return handle, nil
}

// Release unpins a handle and stamps last use for LRU ordering.
func (m *Manager) Release(h *ModelHandle) {
	if h == nil || h.entry == nil || h.manager != m {
		return
	}
	h.once.Do(func() {
		m.mu.Lock()
		if h.entry.refCount > 0 {
			h.entry.refCount--
		}
		h.entry.lastUsed = time.Now()
		m.mu.Unlock()
	})
}

// Shutdown stops the janitor, waits for outstanding handles to be released
// (bounded by ctx), and unloads every resident. Acquire fails once shutdown
// has begun.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stop := m.janitorStop
	m.janitorStop = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-m.janitorDone
	}

	drained := m.waitForRelease(ctx)

	m.mu.Lock()
	instances := make([]*ModelInstance, 0, len(m.entries))
	for _, e := range m.entries {
		if e.state == stateReady && e.instance != nil {
			instances = append(instances, e.instance)
			e.instance = nil
		}
	}
	m.entries = make(map[string]*entry)
	m.usedEstMB = 0
	m.mu.Unlock()
	metrics.SetModelsResident(0)
	metrics.SetVRAMReserved(0)

	for _, instance := range instances {
		m.unloadInstance(instance)
	}
	m.unloadWG.Wait()

	if !drained {
		return services.Wrap(services.ErrResourceUnavailable, "", "shutdown",
			"models were still pinned at the shutdown deadline", nil)
	}
	return nil
}

func (m *Manager) waitForRelease(ctx context.Context) bool {
	for {
		m.mu.Lock()
		pinned := 0
		for _, e := range m.entries {
			pinned += e.refCount
		}
		m.mu.Unlock()
		if pinned == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (m *Manager) handleLocked(e *entry) *ModelHandle {
	return &ModelHandle{
		VariantKey: e.key,
		Device:     m.device.Name,
		EstVRAMMB:  e.estMB,
		manager:    m,
		entry:      e,
	}
}

func (m *Manager) residentsLocked() int {
	n := 0
	for _, e := range m.entries {
		if e.state == stateReady {
			n++
		}
	}
	return n
}

func (m *Manager) estimateMB(variantKey string) int {
	if mb, ok := m.cfg.GPU.VRAMEstimatesMB[variantKey]; ok && mb > 0 {
		return mb
	}
	return fallbackEstimateMB
}

// budgetMB resolves the admission budget: explicit config wins, then the
// probed device capacity, otherwise unbounded.
func (m *Manager) budgetMB() int {
	if m.cfg.GPU.VRAMBudgetMB > 0 {
		return m.cfg.GPU.VRAMBudgetMB
	}
	return m.device.TotalVRAMMB
}

func (m *Manager) unloadInstance(instance *ModelInstance) {
	if instance == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancel()
	if err := m.loader.Unload(ctx, instance); err != nil {
		m.logger.Warn("model unload failed",
			logging.String("variant", instance.VariantKey),
			logging.Error(err))
	}
}
