package api

import (
	"encoding/json"
	"slices"
	"time"

	"lyrebird/internal/artifacts"
	"lyrebird/internal/deps"
	"lyrebird/internal/registry"
	"lyrebird/internal/stage"
	"lyrebird/internal/workflow"
)

// FromJob converts a registry record to its API representation.
func FromJob(job *registry.Job) Job {
	if job == nil {
		return Job{}
	}

	dto := Job{
		ID:           job.ID,
		Title:        job.Title,
		SourcePath:   job.SourcePath,
		Status:       string(job.Status),
		CurrentStage: job.CurrentStage,
		Progress: JobProgress{
			Stage:   job.ProgressStage,
			Percent: job.ProgressPercent,
			Message: job.ProgressMessage,
		},
		ErrorMessage:         job.ErrorMessage,
		Fingerprint:          job.Fingerprint,
		DurationSeconds:      job.DurationSeconds,
		SizeBytes:            job.SizeBytes,
		SeparationVariant:    job.SeparationVariant,
		TranscriptionVariant: job.TranscriptionVariant,
		Language:             job.Language,
	}

	if !job.CreatedAt.IsZero() {
		dto.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		dto.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if job.StartedAt != nil && !job.StartedAt.IsZero() {
		dto.StartedAt = job.StartedAt.UTC().Format(dateTimeFormat)
	}
	if job.FinishedAt != nil && !job.FinishedAt.IsZero() {
		dto.FinishedAt = job.FinishedAt.UTC().Format(dateTimeFormat)
	}
	if raw := job.ProbeJSON; raw != "" {
		dto.Probe = json.RawMessage(raw)
	}
	return dto
}

// FromJobs converts a slice of registry records into API DTOs.
func FromJobs(jobs []*registry.Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromStageRecord converts a stage row to its API representation.
func FromStageRecord(rec *registry.StageRecord) StageRecord {
	if rec == nil {
		return StageRecord{}
	}
	dto := StageRecord{
		Name:            rec.Name,
		Status:          string(rec.Status),
		ProgressPercent: rec.ProgressPercent,
		Message:         rec.Message,
		ErrorMessage:    rec.ErrorMessage,
	}
	if rec.StartedAt != nil && !rec.StartedAt.IsZero() {
		dto.StartedAt = rec.StartedAt.UTC().Format(dateTimeFormat)
	}
	if rec.FinishedAt != nil && !rec.FinishedAt.IsZero() {
		dto.FinishedAt = rec.FinishedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromStageRecords converts stage rows in registry order into API DTOs.
func FromStageRecords(recs []*registry.StageRecord) []StageRecord {
	if len(recs) == 0 {
		return nil
	}
	out := make([]StageRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromStageRecord(rec))
	}
	return out
}

// FromArtifact converts an artifact index row to its API representation.
func FromArtifact(rec *artifacts.Record) Artifact {
	if rec == nil {
		return Artifact{}
	}
	dto := Artifact{
		Stage:     rec.Stage,
		Name:      rec.Name,
		Path:      rec.Path,
		SizeBytes: rec.SizeBytes,
		SHA256:    rec.SHA256,
	}
	if !rec.CreatedAt.IsZero() {
		dto.CreatedAt = rec.CreatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromArtifacts converts artifact index rows into API DTOs.
func FromArtifacts(recs []*artifacts.Record) []Artifact {
	if len(recs) == 0 {
		return nil
	}
	out := make([]Artifact, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromArtifact(rec))
	}
	return out
}

// FromStatusSummary converts an orchestrator status summary to an API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:     summary.Running,
		QueueStats:  MergeQueueStats(summary.QueueStats),
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	if summary.LastError != "" {
		wf.LastError = summary.LastError
	}
	if summary.LastJob != nil {
		last := FromJob(summary.LastJob)
		wf.LastJob = &last
	}
	return wf
}

// MergeQueueStats produces a string-keyed representation of job counts.
func MergeQueueStats(stats map[registry.JobStatus]int) map[string]int {
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// StageHealthSlice converts a stage health map into a deterministic slice.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromDependencyStatuses converts dependency check results into API DTOs.
func FromDependencyStatuses(statuses []deps.Status) []DependencyStatus {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]DependencyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, DependencyStatus{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Optional:    s.Optional,
			Available:   s.Available,
			Detail:      s.Detail,
			Severity:    dependencySeverity(s.Available, s.Optional),
		})
	}
	return out
}

func dependencySeverity(available, optional bool) string {
	if available {
		return "ok"
	}
	if optional {
		return "warn"
	}
	return "error"
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
