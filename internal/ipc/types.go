package ipc

import (
	"lyrebird/internal/api"
	"lyrebird/internal/events"
	"lyrebird/internal/gpu"
)

// Job mirrors the HTTP API job DTO for internal IPC callers.
type Job = api.Job

// StageHealth describes readiness of a pipeline stage.
type StageHealth = api.StageHealth

// DependencyStatus describes availability of an external dependency.
type DependencyStatus = api.DependencyStatus

// Artifact describes one recorded stage output.
type Artifact = api.Artifact

// Event is one progress event from the daemon's hub.
type Event = events.Event

// RemoveResult reports the outcome for one removed job ID.
type RemoveResult = api.RemoveJobResult

// StartRequest triggers daemon workflow startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops daemon workflow.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon/workflow status information.
type StatusResponse struct {
	Running        bool               `json:"running"`
	QueueStats     map[string]int     `json:"queue_stats"`
	LastError      string             `json:"last_error"`
	LastJob        *Job               `json:"last_job"`
	LockPath       string             `json:"lock_path"`
	RegistryDBPath string             `json:"registry_db_path"`
	StageHealth    []StageHealth      `json:"stage_health"`
	Dependencies   []DependencyStatus `json:"dependencies"`
	Accelerator    gpu.Status         `json:"accelerator"`
	PID            int                `json:"pid"`

	// Filled client-side by daemonctl.BuildStatusSnapshot; the daemon's
	// Status RPC leaves them empty.
	SystemChecks      []api.StatusLine      `json:"system_checks,omitempty"`
	WorkspacePaths    []api.StatusLine      `json:"workspace_paths,omitempty"`
	DependencySummary api.DependencySummary `json:"dependency_summary,omitzero"`
}

// SubmitRequest registers a local audio file for processing. The file stays
// in place; only HTTP uploads are ingested into the upload directory.
type SubmitRequest struct {
	Path                 string `json:"path"`
	Title                string `json:"title"`
	SeparationVariant    string `json:"separation_variant"`
	TranscriptionVariant string `json:"transcription_variant"`
	Language             string `json:"language"`
}

// SubmitResponse reports the registered job and whether it is new.
type SubmitResponse struct {
	Job   Job  `json:"job"`
	IsNew bool `json:"is_new"`
}

// JobListRequest filters job listing by status.
type JobListRequest struct {
	Statuses []string `json:"statuses"`
}

// JobListResponse contains registry entries.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobDescribeRequest fetches a single job by ID.
type JobDescribeRequest struct {
	ID string `json:"id"`
}

// JobDescribeResponse contains one job with its stage records and recorded
// artifacts.
type JobDescribeResponse struct {
	Job       Job        `json:"job"`
	Artifacts []Artifact `json:"artifacts"`
}

// JobRemoveRequest removes specific jobs by ID.
type JobRemoveRequest struct {
	IDs []string `json:"ids"`
}

// JobRemoveResponse reports per-ID removal outcomes.
type JobRemoveResponse struct {
	Removed int            `json:"removed"`
	Jobs    []RemoveResult `json:"jobs"`
}

// RunStageRequest executes one stage of a job synchronously.
type RunStageRequest struct {
	ID    string `json:"id"`
	Stage string `json:"stage"`
}

// RunStageResponse reports stage completion.
type RunStageResponse struct {
	Completed bool `json:"completed"`
}

// EventsRequest fetches progress events past a cursor. WaitMillis > 0 blocks
// until an event arrives or the wait elapses.
type EventsRequest struct {
	JobID      string `json:"job_id"`
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	WaitMillis int    `json:"wait_millis"`
}

// EventsResponse returns events and the cursor to resume from.
type EventsResponse struct {
	Events []Event `json:"events"`
	Next   uint64  `json:"next"`
}

// ClearRequest removes all jobs.
type ClearRequest struct{}

// ClearResponse reports number of removed entries.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// ClearCompletedRequest removes completed jobs.
type ClearCompletedRequest struct{}

// ClearCompletedResponse reports number of removed entries.
type ClearCompletedResponse struct {
	Removed int64 `json:"removed"`
}

// ClearFailedRequest removes failed jobs.
type ClearFailedRequest struct{}

// ClearFailedResponse reports number of removed entries.
type ClearFailedResponse struct {
	Removed int64 `json:"removed"`
}

// ResetRequest requeues jobs stuck in the running state.
type ResetRequest struct{}

// ResetResponse reports number of jobs reset.
type ResetResponse struct {
	Updated int64 `json:"updated"`
}

// RegistryHealthRequest fetches aggregate job counts.
type RegistryHealthRequest struct{}

// RegistryHealthResponse reports registry health information.
type RegistryHealthResponse struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// DatabaseHealthRequest fetches detailed database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports database health information.
type DatabaseHealthResponse struct {
	DBPath           string   `json:"db_path"`
	DatabaseExists   bool     `json:"database_exists"`
	DatabaseReadable bool     `json:"database_readable"`
	SchemaVersion    string   `json:"schema_version"`
	TableExists      bool     `json:"table_exists"`
	ColumnsPresent   []string `json:"columns_present"`
	MissingColumns   []string `json:"missing_columns"`
	IntegrityCheck   bool     `json:"integrity_check"`
	TotalJobs        int      `json:"total_jobs"`
	Error            string   `json:"error"`
}

// DepsCheckRequest fetches external dependency availability.
type DepsCheckRequest struct{}

// DepsCheckResponse reports dependency availability.
type DepsCheckResponse struct {
	Dependencies []DependencyStatus `json:"dependencies"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}
