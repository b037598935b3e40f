// Package api defines wire-format types, converters, and transport-agnostic
// workflows shared by the IPC and HTTP layers. It translates internal registry
// models into DTOs that CLI and web consumers can render without coupling to
// internal types.
//
// # Key Types
//
// Job: transport representation of a pipeline job with progress, per-stage
// records, and the raw ffprobe payload.
//
// WorkflowStatus: orchestrator running state, queue stats, stage health, and
// the most recently finished job.
//
// DaemonStatus: aggregated runtime information including accelerator state
// and external dependencies.
//
// SubmitResult: the {jobId, isNew} receipt returned for every submission,
// duplicate or not.
//
// # Converters
//
// FromJob: registry.Job -> Job with UTC timestamp formatting and probe JSON
// passthrough.
//
// FromStatusSummary: workflow.StatusSummary -> WorkflowStatus.
//
// StageHealthSlice: deterministic ordering of the stage health map.
//
// # Workflows
//
// Submit validates a media file, probes it, fingerprints it, and registers
// the job; it is the single submission path for uploads, CLI, and IPC.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Internal
// enums (registry.JobStatus, registry.StageStatus) are exposed as lowercase
// strings. Timestamps use RFC3339 with milliseconds. Probe payloads are
// passed through as json.RawMessage to avoid double-encoding.
//
// Duplicate submissions are not errors: the converter layer never sees them,
// Submit reports the existing job with isNew=false and the caller decides how
// to present that.
package api
