package api

import (
	"context"
	"fmt"
	"strings"

	"lyrebird/internal/artifacts"
	"lyrebird/internal/registry"
	"lyrebird/internal/services"
)

// JobReader captures the registry operations needed by read-side API surfaces.
type JobReader interface {
	List(ctx context.Context, statuses ...registry.JobStatus) ([]*registry.Job, error)
	Stats(ctx context.Context) (map[registry.JobStatus]int, error)
	GetJob(ctx context.Context, id string) (*registry.Job, error)
	StagesForJob(ctx context.Context, jobID string) ([]*registry.StageRecord, error)
}

// ArtifactReader captures the artifact index lookups the API exposes.
type ArtifactReader interface {
	ListForJob(ctx context.Context, jobID string) ([]*artifacts.Record, error)
}

// JobService bundles job queries shared by the IPC server and HTTP handlers.
type JobService struct {
	store JobReader
	index ArtifactReader
}

// NewJobService wires a job service around the registry store and artifact index.
func NewJobService(store JobReader, index ArtifactReader) *JobService {
	return &JobService{store: store, index: index}
}

// List returns jobs as API DTOs, optionally filtered by status.
func (s *JobService) List(ctx context.Context, statuses ...registry.JobStatus) ([]Job, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("job service is not initialized")
	}
	jobs, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// Stats returns job counts keyed by status string.
func (s *JobService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("job service is not initialized")
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Describe returns one job with its stage records, or nil when missing.
func (s *JobService) Describe(ctx context.Context, id string) (*Job, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("job service is not initialized")
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	stages, err := s.store.StagesForJob(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := FromJob(job)
	dto.Stages = FromStageRecords(stages)
	return &dto, nil
}

// Artifacts returns the recorded artifacts of one job.
func (s *JobService) Artifacts(ctx context.Context, jobID string) ([]Artifact, error) {
	if s == nil || s.index == nil {
		return nil, fmt.Errorf("job service is not initialized")
	}
	recs, err := s.index.ListForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return FromArtifacts(recs), nil
}

// FindArtifact resolves one artifact of a job for download. The name is
// optional when the stage recorded exactly one output; with several outputs
// an empty name is rejected and the error lists the candidates.
func (s *JobService) FindArtifact(ctx context.Context, jobID, stageName, name string) (*artifacts.Record, error) {
	if s == nil || s.index == nil {
		return nil, fmt.Errorf("job service is not initialized")
	}
	recs, err := s.index.ListForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	matched := make([]*artifacts.Record, 0, len(recs))
	for _, rec := range recs {
		if rec.Stage != stageName {
			continue
		}
		if name != "" && rec.Name != name {
			continue
		}
		matched = append(matched, rec)
	}

	switch len(matched) {
	case 0:
		return nil, services.Wrap(services.ErrNotFound, stageName, "find artifact",
			fmt.Sprintf("no recorded artifact for stage %q", stageName), nil)
	case 1:
		return matched[0], nil
	default:
		names := make([]string, 0, len(matched))
		for _, rec := range matched {
			names = append(names, rec.Name)
		}
		return nil, services.Wrap(services.ErrValidation, stageName, "find artifact",
			fmt.Sprintf("stage has %d artifacts, pass one of: %s", len(matched), strings.Join(names, ", ")), nil)
	}
}
