package api

import "context"

// JobRemoveService captures registry operations needed by per-job remove workflows.
type JobRemoveService interface {
	Remove(ctx context.Context, id string) (bool, error)
}

type RemoveJobOutcome string

const (
	RemoveJobRemoved  RemoveJobOutcome = "removed"
	RemoveJobNotFound RemoveJobOutcome = "not_found"
)

type RemoveJobResult struct {
	ID      string           `json:"id"`
	Outcome RemoveJobOutcome `json:"outcome"`
}

type RemoveJobsResult struct {
	RemovedCount int               `json:"removedCount"`
	Jobs         []RemoveJobResult `json:"jobs"`
}

// RemoveJobsByID removes jobs one-by-one so each ID can report removed/not_found.
func RemoveJobsByID(ctx context.Context, service JobRemoveService, ids []string) (RemoveJobsResult, error) {
	result := RemoveJobsResult{Jobs: make([]RemoveJobResult, 0, len(ids))}
	for _, id := range ids {
		removed, err := service.Remove(ctx, id)
		if err != nil {
			return RemoveJobsResult{}, err
		}
		if removed {
			result.RemovedCount++
			result.Jobs = append(result.Jobs, RemoveJobResult{ID: id, Outcome: RemoveJobRemoved})
			continue
		}
		result.Jobs = append(result.Jobs, RemoveJobResult{ID: id, Outcome: RemoveJobNotFound})
	}
	return result, nil
}
