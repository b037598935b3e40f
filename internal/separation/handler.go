package separation

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
	"lyrebird/internal/services"
	"lyrebird/internal/stage"
)

// HandlerOption configures the separation stage handler.
type HandlerOption func(*Handler)

// WithService overrides the demucs service (for testing).
func WithService(service *Service) HandlerOption {
	return func(h *Handler) {
		if service != nil {
			h.service = service
		}
	}
}

// Handler drives demucs as the separation stage.
type Handler struct {
	cfg     *config.Config
	service *Service
}

// NewHandler constructs the separation stage handler.
func NewHandler(cfg *config.Config, opts ...HandlerOption) *Handler {
	h := &Handler{
		cfg:     cfg,
		service: NewService(WithBinary(cfg.Tools.Demucs)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Name() string {
	return registry.StageSeparation
}

func (h *Handler) Mode() stage.ProgressMode {
	return stage.ProgressMeasured
}

// Variant names the demucs model the job needs resident on the accelerator.
func (h *Handler) Variant(job *registry.Job) string {
	return gpu.VariantKey(gpu.FamilyDemucs, h.variantName(job))
}

func (h *Handler) Prerequisites() []stage.Prerequisite {
	return nil
}

// Prepare validates the upload and creates the stage scratch directory.
func (h *Handler) Prepare(ctx context.Context, job *registry.Job) error {
	info, err := os.Stat(job.SourcePath)
	if err != nil || info.IsDir() {
		return services.Wrap(services.ErrValidation, registry.StageSeparation, "locate upload",
			fmt.Sprintf("Uploaded file %s is missing; resubmit the job", job.SourcePath), err)
	}
	if err := os.MkdirAll(h.workDir(job), 0o755); err != nil {
		return services.Wrap(services.ErrStageExecution, registry.StageSeparation, "prepare scratch dir", "", err)
	}
	return nil
}

// Execute runs the split and publishes the stems as durable artifacts.
func (h *Handler) Execute(ctx context.Context, job *registry.Job, reporter stage.Reporter) (stage.Result, error) {
	variant := h.variantName(job)
	workDir := h.workDir(job)

	res, err := h.service.Separate(ctx, job.SourcePath, workDir, variant, reporter.Report)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrStageExecution, registry.StageSeparation, "demucs separate",
			"Source separation failed; check the demucs installation and accelerator drivers", err)
	}

	outDir := h.cfg.JobOutputDir(job.ID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return stage.Result{}, services.Wrap(services.ErrStageExecution, registry.StageSeparation, "ensure output dir", "", err)
	}

	vocals := filepath.Join(outDir, VocalsArtifact)
	instrumental := filepath.Join(outDir, InstrumentalArtifact)
	if err := fileutil.MoveFile(res.VocalsPath, vocals); err != nil {
		return stage.Result{}, services.Wrap(services.ErrStageExecution, registry.StageSeparation, "publish vocals stem", "", err)
	}
	if err := fileutil.MoveFile(res.InstrumentalPath, instrumental); err != nil {
		return stage.Result{}, services.Wrap(services.ErrStageExecution, registry.StageSeparation, "publish instrumental stem", "", err)
	}

	return stage.Result{
		Artifacts: []stage.Artifact{
			{Name: VocalsArtifact, Path: vocals},
			{Name: InstrumentalArtifact, Path: instrumental},
		},
		Message: fmt.Sprintf("Separated vocals with %s", variant),
	}, nil
}

func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	return stage.BinaryHealth(registry.StageSeparation, h.cfg.Tools.Demucs)
}

func (h *Handler) variantName(job *registry.Job) string {
	if job != nil {
		if v := strings.TrimSpace(job.SeparationVariant); v != "" {
			return strings.ToLower(v)
		}
	}
	if v := strings.TrimSpace(h.cfg.Models.SeparationVariant); v != "" {
		return strings.ToLower(v)
	}
	return DefaultVariant
}

func (h *Handler) workDir(job *registry.Job) string {
	return filepath.Join(h.cfg.JobWorkDir(job.ID), registry.StageSeparation)
}

var _ stage.Handler = (*Handler)(nil)
