package api

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lyrebird/internal/artifacts"
	"lyrebird/internal/registry"
	"lyrebird/internal/services"
)

type mockJobReader struct {
	jobs     []*registry.Job
	stages   []*registry.StageRecord
	stats    map[registry.JobStatus]int
	jobErr   error
	statsErr error
}

func (m *mockJobReader) List(context.Context, ...registry.JobStatus) ([]*registry.Job, error) {
	return m.jobs, m.jobErr
}

func (m *mockJobReader) Stats(context.Context) (map[registry.JobStatus]int, error) {
	return m.stats, m.statsErr
}

func (m *mockJobReader) GetJob(_ context.Context, id string) (*registry.Job, error) {
	if m.jobErr != nil {
		return nil, m.jobErr
	}
	for _, job := range m.jobs {
		if job.ID == id {
			return job, nil
		}
	}
	return nil, nil
}

func (m *mockJobReader) StagesForJob(context.Context, string) ([]*registry.StageRecord, error) {
	return m.stages, nil
}

type mockArtifactReader struct {
	recs []*artifacts.Record
	err  error
}

func (m *mockArtifactReader) ListForJob(context.Context, string) ([]*artifacts.Record, error) {
	return m.recs, m.err
}

func TestJobService_List(t *testing.T) {
	now := time.Now().UTC()
	reader := &mockJobReader{
		jobs: []*registry.Job{{
			ID:        "a1b2c3d4e5f6",
			Title:     "Example",
			Status:    registry.JobPending,
			CreatedAt: now,
			UpdatedAt: now,
		}},
	}
	svc := NewJobService(reader, &mockArtifactReader{})
	got, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("unexpected job count: %d", len(got))
	}
	if got[0].Title != "Example" {
		t.Fatalf("unexpected title: %q", got[0].Title)
	}
	if got[0].Status != string(registry.JobPending) {
		t.Fatalf("unexpected status: %q", got[0].Status)
	}
	if got[0].CreatedAt == "" || got[0].UpdatedAt == "" {
		t.Fatalf("expected timestamps to be formatted")
	}
}

func TestJobService_ListError(t *testing.T) {
	errSentinel := errors.New("boom")
	svc := NewJobService(&mockJobReader{jobErr: errSentinel}, &mockArtifactReader{})
	_, err := svc.List(context.Background())
	if !errors.Is(err, errSentinel) {
		t.Fatalf("expected error %v, got %v", errSentinel, err)
	}
}

func TestJobService_Stats(t *testing.T) {
	svc := NewJobService(&mockJobReader{stats: map[registry.JobStatus]int{
		registry.JobPending: 2,
		registry.JobFailed:  1,
	}}, &mockArtifactReader{})
	got, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if got["pending"] != 2 || got["failed"] != 1 {
		t.Fatalf("unexpected stats: %+v", got)
	}
}

func TestJobService_Describe(t *testing.T) {
	reader := &mockJobReader{
		jobs: []*registry.Job{{ID: "a1b2c3d4e5f6", Title: "Example"}},
		stages: []*registry.StageRecord{
			{Name: registry.StageSeparation, Status: registry.StageWaiting},
			{Name: registry.StageTranscription, Status: registry.StageWaiting},
			{Name: registry.StageKaraoke, Status: registry.StageWaiting},
		},
	}
	svc := NewJobService(reader, &mockArtifactReader{})
	job, err := svc.Describe(context.Background(), "a1b2c3d4e5f6")
	if err != nil {
		t.Fatalf("Describe returned error: %v", err)
	}
	if job == nil {
		t.Fatal("Describe returned nil job")
	}
	if len(job.Stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(job.Stages))
	}
}

func TestJobService_DescribeMissing(t *testing.T) {
	svc := NewJobService(&mockJobReader{}, &mockArtifactReader{})
	job, err := svc.Describe(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Describe returned error: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil for missing job, got %+v", job)
	}
}

func TestJobService_NilReceiver(t *testing.T) {
	var svc *JobService
	if _, err := svc.List(context.Background()); err == nil {
		t.Fatal("expected error from nil service")
	}
	if _, err := svc.Describe(context.Background(), "x"); err == nil {
		t.Fatal("expected error from nil service")
	}
}

func TestJobService_FindArtifact(t *testing.T) {
	index := &mockArtifactReader{recs: []*artifacts.Record{
		{Stage: registry.StageSeparation, Name: "vocals.mp3", Path: "/out/vocals.mp3"},
		{Stage: registry.StageSeparation, Name: "no_vocals.mp3", Path: "/out/no_vocals.mp3"},
		{Stage: registry.StageKaraoke, Name: "song_karaoke.lrc", Path: "/out/song_karaoke.lrc"},
	}}
	svc := NewJobService(&mockJobReader{}, index)
	ctx := context.Background()

	rec, err := svc.FindArtifact(ctx, "a1b2c3d4e5f6", registry.StageKaraoke, "")
	if err != nil {
		t.Fatalf("FindArtifact single: %v", err)
	}
	if rec.Name != "song_karaoke.lrc" {
		t.Fatalf("unexpected artifact: %+v", rec)
	}

	rec, err = svc.FindArtifact(ctx, "a1b2c3d4e5f6", registry.StageSeparation, "no_vocals.mp3")
	if err != nil {
		t.Fatalf("FindArtifact named: %v", err)
	}
	if rec.Name != "no_vocals.mp3" {
		t.Fatalf("unexpected named artifact: %+v", rec)
	}

	_, err = svc.FindArtifact(ctx, "a1b2c3d4e5f6", registry.StageSeparation, "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for ambiguous lookup, got %v", err)
	}
	if !strings.Contains(err.Error(), "vocals.mp3") {
		t.Fatalf("expected candidates in error, got %v", err)
	}

	_, err = svc.FindArtifact(ctx, "a1b2c3d4e5f6", registry.StageTranscription, "")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}
