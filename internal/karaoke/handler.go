package karaoke

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lyrebird/internal/config"
	"lyrebird/internal/media/ffprobe"
	"lyrebird/internal/registry"
	"lyrebird/internal/separation"
	"lyrebird/internal/services"
	"lyrebird/internal/stage"
	"lyrebird/internal/transcription"
)

// transcriptionGlob matches the JSON artifact of any transcription variant.
const transcriptionGlob = "transcription_*.json"

// transcriptionSearchOrder lists variants from best to worst, used when the
// job record does not pin one.
var transcriptionSearchOrder = []string{"large", "medium", "small", "base", "tiny"}

// HandlerOption configures the karaoke stage handler.
type HandlerOption func(*Handler)

// WithService overrides the karaoke service (for testing).
func WithService(service *Service) HandlerOption {
	return func(h *Handler) {
		if service != nil {
			h.service = service
		}
	}
}

// Handler assembles the karaoke package as the final stage. It runs on the
// CPU: no accelerator model is reserved for it.
type Handler struct {
	cfg     *config.Config
	service *Service
}

// NewHandler constructs the karaoke stage handler.
func NewHandler(cfg *config.Config, opts ...HandlerOption) *Handler {
	h := &Handler{
		cfg:     cfg,
		service: NewService(WithFFmpegBinary(cfg.Tools.FFmpeg)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Name() string {
	return registry.StageKaraoke
}

func (h *Handler) Mode() stage.ProgressMode {
	return stage.ProgressPredictive
}

func (h *Handler) Variant(job *registry.Job) string {
	return ""
}

// Prerequisites names the instrumental stem and any transcription JSON.
func (h *Handler) Prerequisites() []stage.Prerequisite {
	return []stage.Prerequisite{
		{Stage: registry.StageSeparation, Name: separation.InstrumentalArtifact},
		{Stage: registry.StageTranscription, Name: transcriptionGlob},
	}
}

// Prepare ensures the job output directory exists.
func (h *Handler) Prepare(ctx context.Context, job *registry.Job) error {
	if err := os.MkdirAll(h.cfg.JobOutputDir(job.ID), 0o755); err != nil {
		return services.Wrap(services.ErrStageExecution, registry.StageKaraoke, "prepare output dir", "", err)
	}
	return nil
}

// Execute builds the LRC file, the tagged instrumental and the sync manifest
// from the stems and transcription the earlier stages produced.
func (h *Handler) Execute(ctx context.Context, job *registry.Job, reporter stage.Reporter) (stage.Result, error) {
	outDir := h.cfg.JobOutputDir(job.ID)

	instrumental := filepath.Join(outDir, separation.InstrumentalArtifact)
	if _, err := os.Stat(instrumental); err != nil {
		return stage.Result{}, services.Wrap(services.ErrPrerequisite, registry.StageKaraoke, "locate instrumental",
			fmt.Sprintf("Artifact %s is missing; run the separation stage first", separation.InstrumentalArtifact), err)
	}

	jsonPath, err := h.findTranscription(outDir, job)
	if err != nil {
		return stage.Result{}, err
	}
	segments, err := transcription.LoadSegments(jsonPath)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrStageExecution, registry.StageKaraoke, "parse transcription",
			fmt.Sprintf("Transcription %s is unreadable", filepath.Base(jsonPath)), err)
	}

	res, err := h.service.Generate(ctx, Request{
		JobID:            job.ID,
		Title:            job.Title,
		Artist:           artistFromProbe(job.ProbeJSON),
		InstrumentalPath: instrumental,
		Segments:         segments,
		Text:             h.fallbackText(jsonPath, segments),
		DurationSeconds:  h.duration(ctx, job, instrumental),
		OutputDir:        outDir,
	})
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrStageExecution, registry.StageKaraoke, "generate package",
			"Karaoke generation failed; check the ffmpeg installation", err)
	}

	return stage.Result{
		Artifacts: []stage.Artifact{
			{Name: LRCArtifact(job.ID), Path: res.LRCPath},
			{Name: AudioArtifact(job.ID), Path: res.AudioPath},
			{Name: SyncArtifact(job.ID), Path: res.SyncPath},
		},
		Message: fmt.Sprintf("Generated karaoke package with %d synced lines", len(res.Lines)),
	}, nil
}

func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	return stage.BinaryHealth(registry.StageKaraoke, h.cfg.Tools.FFmpeg)
}

// findTranscription locates the transcription JSON, preferring the variant
// recorded on the job, then the best variant present on disk.
func (h *Handler) findTranscription(dir string, job *registry.Job) (string, error) {
	candidates := make([]string, 0, len(transcriptionSearchOrder)+1)
	if v := strings.ToLower(strings.TrimSpace(job.TranscriptionVariant)); v != "" {
		candidates = append(candidates, v)
	}
	candidates = append(candidates, transcriptionSearchOrder...)
	for _, variant := range candidates {
		path := filepath.Join(dir, transcription.JSONArtifact(variant))
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, transcriptionGlob)); len(matches) > 0 {
		sort.Strings(matches)
		return matches[0], nil
	}
	return "", services.Wrap(services.ErrPrerequisite, registry.StageKaraoke, "locate transcription",
		fmt.Sprintf("Artifact %s is missing; run the transcription stage first", transcriptionGlob), nil)
}

// fallbackText returns the plain transcript used when no segment carries
// timing: the .txt artifact beside the JSON, or the joined segment text.
func (h *Handler) fallbackText(jsonPath string, segments []transcription.Segment) string {
	textPath := strings.TrimSuffix(jsonPath, ".json") + ".txt"
	if data, err := os.ReadFile(textPath); err == nil {
		return string(data)
	}
	return transcription.SegmentsText(segments)
}

// duration prefers the probe result captured at submission and falls back to
// probing the instrumental when the registry has none.
func (h *Handler) duration(ctx context.Context, job *registry.Job, instrumental string) float64 {
	if job.DurationSeconds > 0 {
		return job.DurationSeconds
	}
	probe, err := ffprobe.Inspect(ctx, h.cfg.Tools.FFprobe, instrumental)
	if err != nil {
		return 0
	}
	return probe.DurationSeconds()
}

func artistFromProbe(probeJSON string) string {
	if probeJSON == "" {
		return ""
	}
	var probe ffprobe.Result
	if err := json.Unmarshal([]byte(probeJSON), &probe); err != nil {
		return ""
	}
	return probe.Format.Tag("artist")
}

var _ stage.Handler = (*Handler)(nil)
