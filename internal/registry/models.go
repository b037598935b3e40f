package registry

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// StageStatus represents the lifecycle of a single stage within a job.
type StageStatus string

const (
	StageWaiting   StageStatus = "waiting"
	StageActive    StageStatus = "active"
	StageSkipped   StageStatus = "skipped"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// Stage names in pipeline order.
const (
	StageSeparation    = "separation"
	StageTranscription = "transcription"
	StageKaraoke       = "karaoke"
)

var stageOrder = []string{StageSeparation, StageTranscription, StageKaraoke}

var allJobStatuses = []JobStatus{JobPending, JobRunning, JobCompleted, JobFailed}

var jobStatusSet = func() map[JobStatus]struct{} {
	set := make(map[JobStatus]struct{}, len(allJobStatuses))
	for _, status := range allJobStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// DaemonStopReason is the error message set when jobs are failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

// StageOrder returns the fixed pipeline stage names in execution order.
func StageOrder() []string {
	cp := make([]string, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// StagePosition returns the zero-based position of a stage name in the pipeline.
func StagePosition(name string) (int, bool) {
	for i, stage := range stageOrder {
		if stage == name {
			return i, true
		}
	}
	return 0, false
}

// IsStageName reports whether name is a known pipeline stage.
func IsStageName(name string) bool {
	_, ok := StagePosition(name)
	return ok
}

// AllJobStatuses returns the ordered list of known job statuses.
func AllJobStatuses() []JobStatus {
	cp := make([]JobStatus, len(allJobStatuses))
	copy(cp, allJobStatuses)
	return cp
}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := jobStatusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the job has finished, successfully or not.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// IsTerminal reports whether the stage has finished, successfully or not.
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageCompleted, StageSkipped, StageFailed:
		return true
	default:
		return false
	}
}

// IsTerminalSuccess reports whether the stage finished without failing.
// Skipped stages count: their outputs were served from the artifact cache.
func (s StageStatus) IsTerminalSuccess() bool {
	return s == StageCompleted || s == StageSkipped
}

// Job represents a submitted pipeline job persisted in SQLite.
type Job struct {
	ID                   string
	Fingerprint          string
	SourcePath           string
	Title                string
	Status               JobStatus
	CurrentStage         string
	ErrorMessage         string
	DurationSeconds      float64
	SizeBytes            int64
	SeparationVariant    string
	TranscriptionVariant string
	Language             string
	ProbeJSON            string
	ProgressStage        string
	ProgressPercent      float64
	ProgressMessage      string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	StartedAt            *time.Time
	FinishedAt           *time.Time
	LastHeartbeat        *time.Time
}

// IsProcessing returns true when the job is claimed by the workflow manager.
func (j Job) IsProcessing() bool {
	return j.Status == JobRunning
}

// StageRecord tracks one stage of one job.
type StageRecord struct {
	JobID           string
	Name            string
	Position        int
	Status          StageStatus
	ProgressPercent float64
	Message         string
	ErrorMessage    string
	StartedAt       *time.Time
	FinishedAt      *time.Time
	UpdatedAt       time.Time
}

// NewJobParams carries the fields captured at submission time.
type NewJobParams struct {
	Fingerprint          string
	SourcePath           string
	Title                string
	DurationSeconds      float64
	SizeBytes            int64
	SeparationVariant    string
	TranscriptionVariant string
	Language             string
	ProbeJSON            string
}

// DatabaseHealth captures diagnostic information about the registry database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
}
