package separation

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultVariant is the demucs model used when neither the job nor the
// config names one.
const DefaultVariant = "htdemucs"

// Stem file names demucs produces in two-stems vocals mode.
const (
	VocalsArtifact       = "vocals.mp3"
	InstrumentalArtifact = "no_vocals.mp3"
)

const errorTailLines = 12

var commandContext = exec.CommandContext

// Result reports where demucs wrote the stems.
type Result struct {
	VocalsPath       string
	InstrumentalPath string
}

// Option configures the CLI service.
type Option func(*Service)

// WithBinary overrides the default demucs binary name.
func WithBinary(binary string) Option {
	return func(s *Service) {
		if binary != "" {
			s.binary = binary
		}
	}
}

// WithDevice overrides the inference device passed to demucs.
func WithDevice(device string) Option {
	return func(s *Service) {
		if device != "" {
			s.device = device
		}
	}
}

// Service wraps the demucs command-line separator.
type Service struct {
	binary string
	device string
}

// NewService constructs a demucs service using defaults.
func NewService(opts ...Option) *Service {
	svc := &Service{binary: "demucs", device: "cuda"}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Separate runs a two-stems vocals split of inputPath and returns the stem
// locations. Demucs lays its output out as <outDir>/<variant>/<input stem>/.
// The progress callback receives the folded 0-100 percentage as the model
// (or model ensemble) advances; it never reaches 100, completion belongs to
// the caller.
func (s *Service) Separate(ctx context.Context, inputPath, outDir, variant string, progress func(percent float64, message string)) (Result, error) {
	var result Result

	if strings.TrimSpace(inputPath) == "" {
		return result, errors.New("separate: input path required")
	}
	if strings.TrimSpace(outDir) == "" {
		return result, errors.New("separate: output directory required")
	}
	variant = strings.TrimSpace(variant)
	if variant == "" {
		variant = DefaultVariant
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return result, fmt.Errorf("separate: ensure output dir: %w", err)
	}

	args := buildArgs(variant, s.device, outDir, inputPath)
	cmd := commandContext(ctx, s.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return result, fmt.Errorf("separate: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("start demucs: %w", err)
	}

	parser := newProgressParser()
	var tail []string
	scanner := bufio.NewScanner(stdout)
	scanner.Split(scanProgressLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail = appendTail(tail, line)
		if percent, ok := parser.observe(line); ok && progress != nil {
			progress(percent, "Separating vocals from instrumental")
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return result, fmt.Errorf("read demucs output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("demucs separate: %w", ctxErr)
		}
		return result, fmt.Errorf("%s: %w: %s", s.binary, err, strings.Join(tail, " | "))
	}

	stem := inputStem(inputPath)
	trackDir := filepath.Join(outDir, variant, stem)
	result.VocalsPath = filepath.Join(trackDir, VocalsArtifact)
	result.InstrumentalPath = filepath.Join(trackDir, InstrumentalArtifact)
	for _, path := range []string{result.VocalsPath, result.InstrumentalPath} {
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return Result{}, fmt.Errorf("demucs separate: expected stem %s was not produced", path)
		}
	}
	return result, nil
}

// buildArgs constructs the demucs command arguments for a two-stems split.
func buildArgs(variant, device, outDir, inputPath string) []string {
	return []string{
		"-n", variant,
		"--mp3",
		"--two-stems=vocals",
		"-d", device,
		"-o", outDir,
		inputPath,
	}
}

func inputStem(inputPath string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		return base
	}
	return stem
}

// scanProgressLines splits on both newlines and carriage returns so the
// in-place progress bars demucs redraws are surfaced as individual lines.
func scanProgressLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendTail(tail []string, line string) []string {
	if len(tail) == errorTailLines {
		copy(tail, tail[1:])
		tail = tail[:errorTailLines-1]
	}
	return append(tail, line)
}
