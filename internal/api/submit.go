package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"lyrebird/internal/config"
	"lyrebird/internal/fileutil"
	"lyrebird/internal/fingerprint"
	"lyrebird/internal/language"
	"lyrebird/internal/logging"
	"lyrebird/internal/media/ffprobe"
	"lyrebird/internal/metrics"
	"lyrebird/internal/registry"
	"lyrebird/internal/services"
	"lyrebird/internal/textutil"
)

// allowedExtensions lists the audio container formats accepted at submission.
var allowedExtensions = map[string]struct{}{
	".mp3":  {},
	".wav":  {},
	".flac": {},
	".m4a":  {},
	".ogg":  {},
}

// AllowedExtensions returns the accepted submission file extensions without
// the leading dot, sorted for display.
func AllowedExtensions() []string {
	out := make([]string, 0, len(allowedExtensions))
	for ext := range allowedExtensions {
		out = append(out, strings.TrimPrefix(ext, "."))
	}
	slices.Sort(out)
	return out
}

// AllowedExtension reports whether ext (with leading dot, any case) is an
// accepted submission format.
func AllowedExtension(ext string) bool {
	_, ok := allowedExtensions[strings.ToLower(ext)]
	return ok
}

// SubmitRequest carries everything the submission workflow needs.
type SubmitRequest struct {
	Config *config.Config
	Store  *registry.Store
	Logger *slog.Logger

	// SourcePath points at the media file to register.
	SourcePath string
	// Title overrides the probed title when set.
	Title string
	// SeparationVariant and TranscriptionVariant override the configured
	// model defaults when set.
	SeparationVariant    string
	TranscriptionVariant string
	// Language hints the transcription language ("" = auto-detect or probe tag).
	Language string
	// IngestUpload moves the file into the configured upload directory under
	// its job ID. HTTP uploads set this; path submissions leave files in place.
	IngestUpload bool
}

// SubmitOutcome reports the registered job and whether it was newly created.
type SubmitOutcome struct {
	Job   *registry.Job
	IsNew bool
}

// Submit validates a media file, probes it, fingerprints it, and registers a
// job. Duplicate content returns the existing job with IsNew=false; a
// duplicate of a failed job is requeued by the registry. Validation failures
// are rejected before any job exists.
func Submit(ctx context.Context, req SubmitRequest) (SubmitOutcome, error) {
	cfg := req.Config
	if cfg == nil {
		return SubmitOutcome{}, fmt.Errorf("configuration is required")
	}
	if req.Store == nil {
		return SubmitOutcome{}, fmt.Errorf("registry store is required")
	}
	logger := req.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	source := strings.TrimSpace(req.SourcePath)
	if source == "" {
		return SubmitOutcome{}, rejectSubmission("validate source", "no input file given", nil)
	}
	ext := strings.ToLower(filepath.Ext(source))
	if !AllowedExtension(ext) {
		return SubmitOutcome{}, rejectSubmission("validate source",
			fmt.Sprintf("unsupported file extension %q, accepted: %s", ext, strings.Join(AllowedExtensions(), ", ")), nil)
	}
	info, err := os.Stat(source)
	if err != nil {
		return SubmitOutcome{}, rejectSubmission("validate source", fmt.Sprintf("cannot read %s", source), err)
	}
	if info.IsDir() {
		return SubmitOutcome{}, rejectSubmission("validate source", fmt.Sprintf("%s is a directory", source), nil)
	}

	sepVariant := strings.TrimSpace(req.SeparationVariant)
	if sepVariant == "" {
		sepVariant = cfg.Models.SeparationVariant
	}
	if !config.IsSeparationVariant(sepVariant) {
		return SubmitOutcome{}, rejectSubmission("validate variants",
			fmt.Sprintf("unknown separation variant %q, accepted: %s", sepVariant, strings.Join(config.SeparationVariants(), ", ")), nil)
	}
	trVariant := strings.TrimSpace(req.TranscriptionVariant)
	if trVariant == "" {
		trVariant = cfg.Models.TranscriptionVariant
	}
	if !config.IsTranscriptionVariant(trVariant) {
		return SubmitOutcome{}, rejectSubmission("validate variants",
			fmt.Sprintf("unknown transcription variant %q, accepted: %s", trVariant, strings.Join(config.TranscriptionVariants(), ", ")), nil)
	}

	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		lang = strings.TrimSpace(cfg.Models.Language)
	}
	if lang != "" {
		iso := language.ToISO2(lang)
		if iso == "" {
			return SubmitOutcome{}, rejectSubmission("validate language", fmt.Sprintf("unrecognized language %q", lang), nil)
		}
		lang = iso
	}

	probe, err := ffprobe.Inspect(ctx, cfg.Tools.FFprobe, source)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return SubmitOutcome{}, services.Wrap(services.ErrConfiguration, "", "probe media",
				"ffprobe is not installed or not on PATH", err)
		}
		return SubmitOutcome{}, rejectSubmission("probe media",
			fmt.Sprintf("ffprobe could not read %s", filepath.Base(source)), err)
	}
	if probe.AudioStreamCount() == 0 {
		return SubmitOutcome{}, rejectSubmission("probe media",
			fmt.Sprintf("%s contains no audio stream", filepath.Base(source)), nil)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = probe.Format.Tag("title")
	}
	if title == "" {
		title = textutil.TitleFromPath(source)
	}
	if lang == "" {
		if audio, ok := probe.FirstAudio(); ok {
			lang = language.ToISO2(language.ExtractFromTags(audio.Tags))
		}
		if lang == "" {
			lang = language.ToISO2(language.ExtractFromTags(probe.Format.Tags))
		}
	}

	fp, err := fingerprint.Compute(ctx, source)
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("fingerprint source: %w", err)
	}

	if req.IngestUpload {
		target := filepath.Join(cfg.Paths.UploadDir, fingerprint.JobID(fp)+ext)
		if target != source {
			if err := os.MkdirAll(cfg.Paths.UploadDir, 0o755); err != nil {
				return SubmitOutcome{}, fmt.Errorf("prepare upload dir: %w", err)
			}
			if err := fileutil.MoveFile(source, target); err != nil {
				return SubmitOutcome{}, fmt.Errorf("ingest upload: %w", err)
			}
			source = target
		}
	}

	params := registry.NewJobParams{
		Fingerprint:          fp,
		SourcePath:           source,
		Title:                title,
		DurationSeconds:      probe.DurationSeconds(),
		SizeBytes:            probe.SizeBytes(),
		SeparationVariant:    sepVariant,
		TranscriptionVariant: trVariant,
		Language:             lang,
		ProbeJSON:            string(probe.RawJSON()),
	}
	if params.SizeBytes == 0 {
		params.SizeBytes = info.Size()
	}

	job, isNew, err := req.Store.Submit(ctx, params)
	if err != nil {
		if req.IngestUpload && source != strings.TrimSpace(req.SourcePath) {
			if rmErr := os.Remove(source); rmErr != nil && !os.IsNotExist(rmErr) {
				logger.Warn("could not remove ingested upload after failed submit",
					logging.String("path", source),
					logging.Error(rmErr),
				)
			}
		}
		return SubmitOutcome{}, fmt.Errorf("submit job: %w", err)
	}

	if isNew {
		metrics.JobSubmitted(metrics.SubmitNew)
		logger.Info("job submitted",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("title", title),
			logging.String("separation_variant", sepVariant),
			logging.String("transcription_variant", trVariant),
			logging.String("language", lang),
			logging.Float64("duration_seconds", params.DurationSeconds),
			logging.String(logging.FieldEventType, "job_submitted"),
		)
	} else {
		metrics.JobSubmitted(metrics.SubmitDuplicate)
		logger.Info("duplicate submission matched existing job",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("status", string(job.Status)),
			logging.String(logging.FieldEventType, "submission_duplicate"),
		)
		if req.IngestUpload && job.SourcePath != source {
			// The daemon already holds a copy for this fingerprint; drop the
			// fresh one unless the recorded source has gone missing.
			if _, statErr := os.Stat(job.SourcePath); statErr == nil {
				if rmErr := os.Remove(source); rmErr != nil && !os.IsNotExist(rmErr) {
					logger.Warn("could not remove duplicate upload copy",
						logging.String("path", source),
						logging.Error(rmErr),
					)
				}
			}
		}
	}

	return SubmitOutcome{Job: job, IsNew: isNew}, nil
}

func rejectSubmission(operation, message string, err error) error {
	metrics.JobSubmitted(metrics.SubmitRejected)
	return services.Wrap(services.ErrValidation, "", operation, message, err)
}
