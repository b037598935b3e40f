package transcription

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lyrebird/internal/config"
	"lyrebird/internal/fileutil"
	"lyrebird/internal/gpu"
	"lyrebird/internal/registry"
	"lyrebird/internal/separation"
	"lyrebird/internal/services"
	"lyrebird/internal/stage"
)

// JSONArtifact returns the transcription JSON artifact name for a variant.
func JSONArtifact(variant string) string {
	return fmt.Sprintf("transcription_%s.json", variant)
}

// TextArtifact returns the plain-text artifact name for a variant.
func TextArtifact(variant string) string {
	return fmt.Sprintf("transcription_%s.txt", variant)
}

// HandlerOption configures the transcription stage handler.
type HandlerOption func(*Handler)

// WithService overrides the WhisperX service (for testing).
func WithService(service *Service) HandlerOption {
	return func(h *Handler) {
		if service != nil {
			h.service = service
		}
	}
}

// Handler drives WhisperX as the transcription stage. It transcribes the
// isolated vocal stem rather than the original upload so the model hears
// lyrics without the instrumental bed.
type Handler struct {
	cfg     *config.Config
	service *Service
}

// NewHandler constructs the transcription stage handler.
func NewHandler(cfg *config.Config, opts ...HandlerOption) *Handler {
	h := &Handler{
		cfg:     cfg,
		service: NewService(WithUVXBinary(cfg.Tools.UVX)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Name() string {
	return registry.StageTranscription
}

func (h *Handler) Mode() stage.ProgressMode {
	return stage.ProgressPredictive
}

// Variant names the whisper model the job needs resident on the accelerator.
func (h *Handler) Variant(job *registry.Job) string {
	return gpu.VariantKey(gpu.FamilyWhisper, h.variantName(job))
}

func (h *Handler) Prerequisites() []stage.Prerequisite {
	return []stage.Prerequisite{
		{Stage: registry.StageSeparation, Name: separation.VocalsArtifact},
	}
}

// Prepare creates the stage scratch directory.
func (h *Handler) Prepare(ctx context.Context, job *registry.Job) error {
	if err := os.MkdirAll(h.workDir(job), 0o755); err != nil {
		return services.Wrap(services.ErrStageExecution, registry.StageTranscription, "prepare scratch dir", "", err)
	}
	return nil
}

// Execute transcribes the vocal stem and publishes the JSON and text artifacts.
func (h *Handler) Execute(ctx context.Context, job *registry.Job, reporter stage.Reporter) (stage.Result, error) {
	variant := h.variantName(job)
	vocals := filepath.Join(h.cfg.JobOutputDir(job.ID), separation.VocalsArtifact)
	workDir := h.workDir(job)

	res, err := h.service.Transcribe(ctx, vocals, workDir, variant, h.language(job))
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrStageExecution, registry.StageTranscription, "whisperx transcribe",
			"Transcription failed; check the uvx installation and accelerator drivers", err)
	}

	outDir := h.cfg.JobOutputDir(job.ID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return stage.Result{}, services.Wrap(services.ErrStageExecution, registry.StageTranscription, "ensure output dir", "", err)
	}

	jsonPath := filepath.Join(outDir, JSONArtifact(variant))
	if err := fileutil.MoveFile(res.JSONPath, jsonPath); err != nil {
		return stage.Result{}, services.Wrap(services.ErrStageExecution, registry.StageTranscription, "publish transcription json", "", err)
	}
	textPath := filepath.Join(outDir, TextArtifact(variant))
	if err := os.WriteFile(textPath, []byte(res.Text+"\n"), 0o644); err != nil {
		return stage.Result{}, services.Wrap(services.ErrStageExecution, registry.StageTranscription, "publish transcription text", "", err)
	}

	return stage.Result{
		Artifacts: []stage.Artifact{
			{Name: JSONArtifact(variant), Path: jsonPath},
			{Name: TextArtifact(variant), Path: textPath},
		},
		Message: fmt.Sprintf("Transcribed %d segments with whisper %s", len(res.Segments), variant),
	}, nil
}

func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	return stage.BinaryHealth(registry.StageTranscription, h.cfg.Tools.UVX)
}

func (h *Handler) variantName(job *registry.Job) string {
	if job != nil {
		if v := strings.TrimSpace(job.TranscriptionVariant); v != "" {
			return strings.ToLower(v)
		}
	}
	if v := strings.TrimSpace(h.cfg.Models.TranscriptionVariant); v != "" {
		return strings.ToLower(v)
	}
	return DefaultVariant
}

func (h *Handler) language(job *registry.Job) string {
	if job != nil && strings.TrimSpace(job.Language) != "" {
		return job.Language
	}
	return h.cfg.Models.Language
}

func (h *Handler) workDir(job *registry.Job) string {
	return filepath.Join(h.cfg.JobWorkDir(job.ID), registry.StageTranscription)
}

var _ stage.Handler = (*Handler)(nil)
