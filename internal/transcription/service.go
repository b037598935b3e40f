package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	langpkg "lyrebird/internal/language"
)

// Option configures the WhisperX service.
type Option func(*Service)

// WithUVXBinary overrides the default uvx binary name.
func WithUVXBinary(binary string) Option {
	return func(s *Service) {
		if binary != "" {
			s.uvxBinary = binary
		}
	}
}

// WithVADMethod selects the voice activity detection method.
func WithVADMethod(method string) Option {
	return func(s *Service) {
		if method != "" {
			s.vadMethod = method
		}
	}
}

// WithHFToken supplies the Hugging Face token required by pyannote VAD.
func WithHFToken(token string) Option {
	return func(s *Service) {
		s.hfToken = token
	}
}

// Service runs WhisperX transcriptions through uvx.
type Service struct {
	uvxBinary     string
	vadMethod     string
	hfToken       string
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates a WhisperX service using defaults.
func NewService(opts ...Option) *Service {
	svc := &Service{uvxBinary: "uvx", vadMethod: VADMethodSilero}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// Result contains the output of one transcription.
type Result struct {
	// JSONPath is the word-timed WhisperX JSON output.
	JSONPath string
	// Text is the plain transcription joined from all segments.
	Text string
	// Segments carry sentence-level timing with per-word detail.
	Segments []Segment
}

// Transcribe runs WhisperX over source and returns the parsed output.
// outputDir receives the raw WhisperX files, named after the source stem.
func (s *Service) Transcribe(ctx context.Context, source, outputDir, variant, language string) (Result, error) {
	var result Result

	if strings.TrimSpace(source) == "" {
		return result, errors.New("transcribe: source path required")
	}
	if outputDir == "" {
		outputDir = filepath.Dir(source)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return result, fmt.Errorf("transcribe: ensure output dir: %w", err)
	}

	args := s.buildArgs(source, outputDir, variant, language)
	if err := s.run(ctx, s.uvxBinary, args...); err != nil {
		return result, fmt.Errorf("whisperx: %w", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	result.JSONPath = filepath.Join(outputDir, baseName+".json")

	segments, err := LoadSegments(result.JSONPath)
	if err != nil {
		return result, fmt.Errorf("whisperx output: %w", err)
	}
	result.Segments = segments
	result.Text = SegmentsText(segments)
	return result, nil
}

// run executes a command, using the custom runner if set.
func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking
	// WhisperX/pyannote checkpoint loads. Force the legacy behavior.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// buildArgs constructs the uvx command arguments for WhisperX. The pipeline
// is accelerator-only, so the CUDA wheel index and device are always used.
func (s *Service) buildArgs(source, outputDir, variant, language string) []string {
	args := make([]string, 0, 32)

	args = append(args,
		"--index-url", CUDAIndexURL,
		"--extra-index-url", PypiIndexURL,
	)

	if variant == "" {
		variant = DefaultVariant
	}

	args = append(args,
		"whisperx",
		source,
		"--model", ModelName(variant),
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--chunk_size", ChunkSize,
		"--vad_onset", VADOnset,
		"--vad_offset", VADOffset,
		"--beam_size", BeamSize,
		"--best_of", BestOf,
		"--temperature", Temperature,
		"--patience", Patience,
	)

	vadMethod := s.vadMethod
	if vadMethod == "" {
		vadMethod = VADMethodSilero
	}
	args = append(args, "--vad_method", vadMethod)
	if vadMethod == VADMethodPyannote && s.hfToken != "" {
		args = append(args, "--hf_token", s.hfToken)
	}

	if lang := langpkg.ToISO2(language); lang != "" {
		args = append(args, "--language", lang)
	}

	args = append(args, "--device", CUDADevice)

	return args
}

// Word represents a single word with timing from WhisperX output.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words"`
}

// whisperXPayload is the JSON structure from WhisperX output.
type whisperXPayload struct {
	Segments []Segment `json:"segments"`
}

// LoadSegments loads segments from a WhisperX JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, err
	}
	var payload whisperXPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload.Segments, nil
}

// SegmentsText joins the trimmed segment texts into one transcript line.
func SegmentsText(segments []Segment) string {
	var parts []string
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
