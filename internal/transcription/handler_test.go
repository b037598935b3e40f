package transcription

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lyrebird/internal/registry"
	"lyrebird/internal/separation"
	"lyrebird/internal/services"
	"lyrebird/internal/stage"
	"lyrebird/internal/testsupport"
)

func TestHandlerContract(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := NewHandler(cfg)

	if h.Name() != registry.StageTranscription {
		t.Fatalf("unexpected stage name %q", h.Name())
	}
	if h.Mode() != stage.ProgressPredictive {
		t.Fatalf("expected predictive progress mode, got %q", h.Mode())
	}
	prereqs := h.Prerequisites()
	if len(prereqs) != 1 || prereqs[0].Stage != registry.StageSeparation || prereqs[0].Name != separation.VocalsArtifact {
		t.Fatalf("expected the vocals stem prerequisite, got %+v", prereqs)
	}
}

func TestHandlerVariantSelection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := NewHandler(cfg)

	if got := h.Variant(&registry.Job{TranscriptionVariant: "Medium"}); got != "whisper:medium" {
		t.Fatalf("expected job variant to win, got %q", got)
	}
	cfg.Models.TranscriptionVariant = "small"
	if got := h.Variant(&registry.Job{}); got != "whisper:small" {
		t.Fatalf("expected config variant as fallback, got %q", got)
	}
	cfg.Models.TranscriptionVariant = ""
	if got := h.Variant(&registry.Job{}); got != "whisper:large" {
		t.Fatalf("expected built-in default, got %q", got)
	}
}

func TestHandlerExecutePublishesArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := NewService()
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		outDir := argValue(args, "--output_dir")
		source := whisperSource(args)
		base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
		return os.WriteFile(filepath.Join(outDir, base+".json"), []byte(sampleWhisperJSON), 0o644)
	})
	h := NewHandler(cfg, WithService(svc))

	job := &registry.Job{ID: "job-1", TranscriptionVariant: "large", Language: "en"}
	if err := h.Prepare(context.Background(), job); err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	result, err := h.Execute(context.Background(), job, stage.NopReporter{})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if len(result.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %+v", result.Artifacts)
	}
	jsonPath := filepath.Join(cfg.JobOutputDir(job.ID), "transcription_large.json")
	if result.Artifacts[0].Name != "transcription_large.json" || result.Artifacts[0].Path != jsonPath {
		t.Fatalf("unexpected json artifact %+v", result.Artifacts[0])
	}
	if _, err := os.Stat(jsonPath); err != nil {
		t.Fatalf("expected published json on disk: %v", err)
	}

	textPath := filepath.Join(cfg.JobOutputDir(job.ID), "transcription_large.txt")
	data, err := os.ReadFile(textPath)
	if err != nil {
		t.Fatalf("expected published text on disk: %v", err)
	}
	if !strings.Contains(string(data), "Hello darkness") {
		t.Fatalf("expected transcript text, got %q", string(data))
	}
	if !strings.Contains(result.Message, "2 segments") {
		t.Fatalf("expected message to count segments, got %q", result.Message)
	}
}

func TestHandlerExecuteWrapsToolFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := NewService()
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return errors.New("uvx: exit status 1: CUDA driver version is insufficient")
	})
	h := NewHandler(cfg, WithService(svc))

	job := &registry.Job{ID: "job-1"}
	_, err := h.Execute(context.Background(), job, stage.NopReporter{})
	if !errors.Is(err, services.ErrStageExecution) {
		t.Fatalf("expected stage execution error, got %v", err)
	}
	if !strings.Contains(err.Error(), "CUDA driver") {
		t.Fatalf("expected the tool failure detail to survive wrapping, got %v", err)
	}
}

func TestHandlerHealthCheck(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("uvx"))
	h := NewHandler(cfg)
	if health := h.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy stage with stubbed uvx, got %+v", health)
	}
}
