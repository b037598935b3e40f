package stage

import (
	"context"

	"lyrebird/internal/registry"
)

// ProgressMode selects how a stage reports progress while it executes.
type ProgressMode string

const (
	// ProgressMeasured stages emit ground-truth percentages through the
	// Reporter as their underlying tool reports them.
	ProgressMeasured ProgressMode = "measured"
	// ProgressPredictive stages run opaquely; the manager drives a timer
	// curve from the stage's duration estimate instead.
	ProgressPredictive ProgressMode = "predictive"
)

// Reporter receives measured progress from an executing stage.
type Reporter interface {
	Report(percent float64, message string)
}

// NopReporter discards progress. The manager hands it to stages that run
// under the predictive estimator.
type NopReporter struct{}

func (NopReporter) Report(float64, string) {}

// Artifact names one file a stage produced.
type Artifact struct {
	Name string
	Path string
}

// Result reports what a completed stage execution produced.
type Result struct {
	Artifacts []Artifact
	Message   string
}

// Handler describes the contract the workflow manager needs from each stage.
type Handler interface {
	// Name returns the pipeline stage name this handler implements.
	Name() string
	// Mode selects measured or predictive progress for Execute.
	Mode() ProgressMode
	// Variant returns the accelerator model variant the stage needs for the
	// given job, or "" when the stage runs without one.
	Variant(job *registry.Job) string
	// Prerequisites lists cached artifacts, beyond the previous stage having
	// finished, that must exist before Execute may run.
	Prerequisites() []Prerequisite
	Prepare(ctx context.Context, job *registry.Job) error
	Execute(ctx context.Context, job *registry.Job, reporter Reporter) (Result, error)
	HealthCheck(ctx context.Context) Health
}
