package gpu

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"lyrebird/internal/config"
	"lyrebird/internal/services"
)

// ModelInstance is what a Loader hands back once a variant is resident.
type ModelInstance struct {
	VariantKey string
	LoadedAt   time.Time
}

// Loader materializes model variants on the accelerator and tears them down.
// Implementations must not reach into the job registry; loads run while other
// goroutines are mid-transaction over there.
type Loader interface {
	Load(ctx context.Context, variantKey string) (*ModelInstance, error)
	Unload(ctx context.Context, instance *ModelInstance) error
}

// ExecLoader warms a variant by invoking its hosting tool once. demucs and
// whisperx resolve package and model caches lazily on first run, so paying
// that cost at load time keeps it off the stage timeline.
type ExecLoader struct {
	cfg           *config.Config
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewExecLoader creates the production loader backed by the configured tools.
func NewExecLoader(cfg *config.Config) *ExecLoader {
	return &ExecLoader{cfg: cfg}
}

// WithCommandRunner sets a custom command runner (for testing).
func (l *ExecLoader) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	l.commandRunner = runner
}

// Load warms the runtime that will host the variant.
func (l *ExecLoader) Load(ctx context.Context, variantKey string) (*ModelInstance, error) {
	family, _, err := SplitVariantKey(variantKey)
	if err != nil {
		return nil, err
	}
	binary, args, err := l.warmupCommand(family)
	if err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("locate %s: %w", binary, err)
	}
	if err := l.run(ctx, binary, args...); err != nil {
		return nil, err
	}
	return &ModelInstance{VariantKey: variantKey, LoadedAt: time.Now()}, nil
}

// Unload is a no-op for exec-hosted models: the stage tools run their models
// in per-invocation processes, so there is nothing resident to tear down
// beyond the manager's accounting.
func (l *ExecLoader) Unload(ctx context.Context, instance *ModelInstance) error {
	return nil
}

func (l *ExecLoader) warmupCommand(family string) (string, []string, error) {
	switch family {
	case FamilyDemucs:
		return l.cfg.Tools.Demucs, []string{"--help"}, nil
	case FamilyWhisper:
		return l.cfg.Tools.UVX, []string{"whisperx", "--help"}, nil
	default:
		return "", nil, services.Wrap(services.ErrValidation, "", "warm model runtime",
			fmt.Sprintf("unknown model family %q", family), nil)
	}
}

func (l *ExecLoader) run(ctx context.Context, name string, args ...string) error {
	if l.commandRunner != nil {
		return l.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
