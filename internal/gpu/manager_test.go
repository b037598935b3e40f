package gpu_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"lyrebird/internal/gpu"
	"lyrebird/internal/logging"
	"lyrebird/internal/services"
	"lyrebird/internal/testsupport"
)

type fakeLoader struct {
	mu      sync.Mutex
	loads   map[string]int
	unloads map[string]int
	failFor map[string]error
	delay   time.Duration
	gate    chan struct{}
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		loads:   make(map[string]int),
		unloads: make(map[string]int),
		failFor: make(map[string]error),
	}
}

func (f *fakeLoader) Load(ctx context.Context, variantKey string) (*gpu.ModelInstance, error) {
	f.mu.Lock()
	f.loads[variantKey]++
	failure := f.failFor[variantKey]
	delay := f.delay
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}
	return &gpu.ModelInstance{VariantKey: variantKey, LoadedAt: time.Now()}, nil
}

func (f *fakeLoader) Unload(ctx context.Context, instance *gpu.ModelInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads[instance.VariantKey]++
	return nil
}

func (f *fakeLoader) loadCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[key]
}

func (f *fakeLoader) unloadCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unloads[key]
}

func testDevice() gpu.Device {
	return gpu.Device{Present: true, Name: "Test GPU", TotalVRAMMB: 24000}
}

func newTestManager(t *testing.T, loader gpu.Loader, budgetMB int) *gpu.Manager {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithVRAMBudget(budgetMB))
	cfg.GPU.IdleEvictSeconds = 0
	manager := gpu.NewManager(cfg, logging.NewNop(), gpu.WithLoader(loader), gpu.WithDevice(testDevice()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})
	return manager
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAcquireLoadsOnceAndRefCounts(t *testing.T) {
	loader := newFakeLoader()
	manager := newTestManager(t, loader, 0)
	ctx := context.Background()

	first, err := manager.Acquire(ctx, "whisper:large")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	second, err := manager.Acquire(ctx, "whisper:large")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if got := loader.loadCount("whisper:large"); got != 1 {
		t.Fatalf("expected one load for a resident variant, got %d", got)
	}

	status := manager.Status()
	if len(status.Residents) != 1 || status.Residents[0].RefCount != 2 {
		t.Fatalf("unexpected status: %+v", status.Residents)
	}
	if status.Residents[0].State != "ready" {
		t.Fatalf("expected ready state, got %q", status.Residents[0].State)
	}

	first.Release()
	second.Release()
	status = manager.Status()
	if status.Residents[0].RefCount != 0 {
		t.Fatalf("expected refCount 0 after release, got %d", status.Residents[0].RefCount)
	}
}

func TestAcquireSingleFlightUnderConcurrency(t *testing.T) {
	loader := newFakeLoader()
	loader.delay = 50 * time.Millisecond
	manager := newTestManager(t, loader, 0)

	const callers = 8
	var wg sync.WaitGroup
	handles := make([]*gpu.ModelHandle, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			handles[idx], errs[idx] = manager.Acquire(context.Background(), "demucs:htdemucs")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := loader.loadCount("demucs:htdemucs"); got != 1 {
		t.Fatalf("expected a single shared load, got %d", got)
	}

	status := manager.Status()
	if status.Residents[0].RefCount != callers {
		t.Fatalf("expected refCount %d, got %d", callers, status.Residents[0].RefCount)
	}
	for _, h := range handles {
		h.Release()
	}
}

func TestAcquireSharesLoadFailureWithWaiters(t *testing.T) {
	loader := newFakeLoader()
	loader.failFor["whisper:large"] = errors.New("cuda out of memory")
	loader.gate = make(chan struct{})
	manager := newTestManager(t, loader, 0)

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = manager.Acquire(context.Background(), "whisper:large")
		}(i)
	}
	// Let every caller either start the load or queue on it before failing.
	time.Sleep(50 * time.Millisecond)
	close(loader.gate)
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			t.Fatalf("caller %d: expected the shared load error", i)
		}
		if !errors.Is(err, services.ErrResourceUnavailable) {
			t.Fatalf("caller %d: expected resource unavailable, got %v", i, err)
		}
		if !strings.Contains(err.Error(), "cuda out of memory") {
			t.Fatalf("caller %d: expected the loader failure in the chain, got %v", i, err)
		}
	}
	if got := loader.loadCount("whisper:large"); got != 1 {
		t.Fatalf("expected one failing load shared by all waiters, got %d", got)
	}

	// The failure is not sticky: the next acquisition retries the load.
	loader.mu.Lock()
	delete(loader.failFor, "whisper:large")
	loader.gate = nil
	loader.mu.Unlock()

	handle, err := manager.Acquire(context.Background(), "whisper:large")
	if err != nil {
		t.Fatalf("Acquire after failure: %v", err)
	}
	handle.Release()
	if got := loader.loadCount("whisper:large"); got != 2 {
		t.Fatalf("expected a fresh load after the failure, got %d", got)
	}
}

func TestAcquireWithoutAccelerator(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.GPU.IdleEvictSeconds = 0
	manager := gpu.NewManager(cfg, logging.NewNop(),
		gpu.WithLoader(newFakeLoader()),
		gpu.WithDevice(gpu.Device{Present: false}))

	_, err := manager.Acquire(context.Background(), "demucs:htdemucs")
	if !errors.Is(err, services.ErrResourceUnavailable) {
		t.Fatalf("expected resource unavailable without a device, got %v", err)
	}
	if !strings.Contains(err.Error(), "no accelerator") {
		t.Fatalf("expected the policy in the message, got %v", err)
	}
}

func TestAcquireRejectsMalformedVariantKey(t *testing.T) {
	manager := newTestManager(t, newFakeLoader(), 0)

	_, err := manager.Acquire(context.Background(), "htdemucs")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for a key without a family, got %v", err)
	}
}

func TestAcquireEvictsIdleResidentUnderPressure(t *testing.T) {
	loader := newFakeLoader()
	manager := newTestManager(t, loader, 12000)
	ctx := context.Background()

	// demucs:htdemucs is estimated at 7000 MB, whisper:large at 10500 MB.
	handle, err := manager.Acquire(ctx, "demucs:htdemucs")
	if err != nil {
		t.Fatalf("Acquire demucs: %v", err)
	}
	handle.Release()

	whisper, err := manager.Acquire(ctx, "whisper:large")
	if err != nil {
		t.Fatalf("Acquire whisper under pressure: %v", err)
	}
	defer whisper.Release()

	waitFor(t, "demucs eviction", func() bool {
		return loader.unloadCount("demucs:htdemucs") == 1
	})

	status := manager.Status()
	if len(status.Residents) != 1 || status.Residents[0].VariantKey != "whisper:large" {
		t.Fatalf("expected only whisper resident, got %+v", status.Residents)
	}
	if status.UsedEstMB != 10500 {
		t.Fatalf("expected accounting to follow the eviction, got %d", status.UsedEstMB)
	}
}

func TestAcquireRefusesWhenEveryResidentIsPinned(t *testing.T) {
	loader := newFakeLoader()
	manager := newTestManager(t, loader, 8000)
	ctx := context.Background()

	handle, err := manager.Acquire(ctx, "demucs:htdemucs")
	if err != nil {
		t.Fatalf("Acquire demucs: %v", err)
	}
	defer handle.Release()

	_, err = manager.Acquire(ctx, "whisper:small")
	if !errors.Is(err, services.ErrResourceUnavailable) {
		t.Fatalf("expected refusal while the budget is pinned, got %v", err)
	}
	if got := loader.loadCount("whisper:small"); got != 0 {
		t.Fatalf("expected no load attempt after refusal, got %d", got)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	manager := newTestManager(t, newFakeLoader(), 0)

	handle, err := manager.Acquire(context.Background(), "whisper:base")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	handle.Release()
	handle.Release()

	status := manager.Status()
	if status.Residents[0].RefCount != 0 {
		t.Fatalf("double release must not underflow, got refCount %d", status.Residents[0].RefCount)
	}

	again, err := manager.Acquire(context.Background(), "whisper:base")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	defer again.Release()
	if got := manager.Status().Residents[0].RefCount; got != 1 {
		t.Fatalf("expected refCount 1 after re-acquire, got %d", got)
	}
}

func TestShutdownUnloadsResidentsAndBlocksAcquire(t *testing.T) {
	loader := newFakeLoader()
	cfg := testsupport.NewConfig(t)
	cfg.GPU.IdleEvictSeconds = 0
	manager := gpu.NewManager(cfg, logging.NewNop(), gpu.WithLoader(loader), gpu.WithDevice(testDevice()))

	handle, err := manager.Acquire(context.Background(), "demucs:mdx")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	handle.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := loader.unloadCount("demucs:mdx"); got != 1 {
		t.Fatalf("expected resident unload on shutdown, got %d", got)
	}

	if _, err := manager.Acquire(context.Background(), "demucs:mdx"); !errors.Is(err, services.ErrResourceUnavailable) {
		t.Fatalf("expected acquire to fail after shutdown, got %v", err)
	}
	// A second shutdown is a no-op.
	if err := manager.Shutdown(context.Background()); err != nil {
		t.Fatalf("repeat Shutdown: %v", err)
	}
}

func TestShutdownReportsPinnedHandles(t *testing.T) {
	loader := newFakeLoader()
	cfg := testsupport.NewConfig(t)
	cfg.GPU.IdleEvictSeconds = 0
	manager := gpu.NewManager(cfg, logging.NewNop(), gpu.WithLoader(loader), gpu.WithDevice(testDevice()))

	handle, err := manager.Acquire(context.Background(), "whisper:tiny")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer handle.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := manager.Shutdown(ctx); !errors.Is(err, services.ErrResourceUnavailable) {
		t.Fatalf("expected shutdown to report pinned handles, got %v", err)
	}
}

func TestVariantKeyHelpers(t *testing.T) {
	if got := gpu.VariantKey("Demucs", " HTDemucs "); got != "demucs:htdemucs" {
		t.Fatalf("VariantKey normalization: got %q", got)
	}

	family, variant, err := gpu.SplitVariantKey("whisper:large")
	if err != nil {
		t.Fatalf("SplitVariantKey: %v", err)
	}
	if family != "whisper" || variant != "large" {
		t.Fatalf("unexpected split: %q %q", family, variant)
	}

	for _, bad := range []string{"", "whisper", ":large", "whisper:"} {
		if _, _, err := gpu.SplitVariantKey(bad); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("SplitVariantKey(%q): expected validation error, got %v", bad, err)
		}
	}
}

func TestExecLoaderBuildsWarmupCommands(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())

	var calls []string
	loader := gpu.NewExecLoader(cfg)
	loader.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		calls = append(calls, fmt.Sprintf("%s %s", name, strings.Join(args, " ")))
		return nil
	})

	if _, err := loader.Load(context.Background(), "demucs:htdemucs"); err != nil {
		t.Fatalf("Load demucs: %v", err)
	}
	if _, err := loader.Load(context.Background(), "whisper:large"); err != nil {
		t.Fatalf("Load whisper: %v", err)
	}

	want := []string{"demucs --help", "uvx whisperx --help"}
	if len(calls) != len(want) {
		t.Fatalf("expected %d warmup calls, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("warmup call %d: got %q, want %q", i, calls[i], want[i])
		}
	}

	if _, err := loader.Load(context.Background(), "llama:7b"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown family, got %v", err)
	}
}
