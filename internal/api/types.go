package api

import (
	"encoding/json"

	"lyrebird/internal/events"
	"lyrebird/internal/gpu"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a pipeline job in a transport-friendly format.
type Job struct {
	ID                   string          `json:"id"`
	Title                string          `json:"title"`
	SourcePath           string          `json:"sourcePath"`
	Status               string          `json:"status"`
	CurrentStage         string          `json:"currentStage,omitempty"`
	Progress             JobProgress     `json:"progress"`
	ErrorMessage         string          `json:"errorMessage"`
	Fingerprint          string          `json:"fingerprint,omitempty"`
	DurationSeconds      float64         `json:"durationSeconds,omitempty"`
	SizeBytes            int64           `json:"sizeBytes,omitempty"`
	SeparationVariant    string          `json:"separationVariant,omitempty"`
	TranscriptionVariant string          `json:"transcriptionVariant,omitempty"`
	Language             string          `json:"language,omitempty"`
	CreatedAt            string          `json:"createdAt,omitempty"`
	UpdatedAt            string          `json:"updatedAt,omitempty"`
	StartedAt            string          `json:"startedAt,omitempty"`
	FinishedAt           string          `json:"finishedAt,omitempty"`
	Stages               []StageRecord   `json:"stages,omitempty"`
	Probe                json.RawMessage `json:"probe,omitempty"`
}

// JobProgress captures live progress information for a job.
type JobProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// StageRecord describes one stage of a job.
type StageRecord struct {
	Name            string  `json:"name"`
	Status          string  `json:"status"`
	ProgressPercent float64 `json:"progressPercent"`
	Message         string  `json:"message,omitempty"`
	ErrorMessage    string  `json:"errorMessage,omitempty"`
	StartedAt       string  `json:"startedAt,omitempty"`
	FinishedAt      string  `json:"finishedAt,omitempty"`
}

// Artifact describes one recorded stage output.
type Artifact struct {
	Stage     string `json:"stage"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes"`
	SHA256    string `json:"sha256,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// WorkflowStatus summarizes orchestrator execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *Job           `json:"lastJob,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool               `json:"running"`
	PID            int                `json:"pid"`
	RegistryDBPath string             `json:"registryDbPath"`
	LockFilePath   string             `json:"lockFilePath"`
	Workflow       WorkflowStatus     `json:"workflow"`
	Accelerator    gpu.Status         `json:"accelerator"`
	Dependencies   []DependencyStatus `json:"dependencies"`
}

// SubmitResult reports the job created or matched by a submission.
type SubmitResult struct {
	JobID string `json:"jobId"`
	IsNew bool   `json:"isNew"`
}

// JobListResponse wraps a collection of jobs for API responses.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// QueueStatsResponse provides a normalized job count payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// ArtifactListResponse wraps the recorded artifacts of one job.
type ArtifactListResponse struct {
	Artifacts []Artifact `json:"artifacts"`
}

// EventPage carries one long-poll batch of progress events plus the cursor
// to resume from.
type EventPage struct {
	Events []events.Event `json:"events"`
	Next   uint64         `json:"next"`
}
