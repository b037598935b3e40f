// Package metrics exposes the pipeline's Prometheus instrumentation. All
// collectors live on the default registry; the daemon serves them at
// /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values for the jobs_submitted_total result dimension.
const (
	SubmitNew       = "new"
	SubmitDuplicate = "duplicate"
	SubmitRejected  = "rejected"
)

// Label values for the model_loads_total result dimension.
const (
	LoadOK     = "ok"
	LoadFailed = "failed"
)

var (
	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lyrebird",
			Name:      "jobs_submitted_total",
			Help:      "Total job submissions by result",
		},
		[]string{"result"},
	)

	stagesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lyrebird",
			Name:      "stages_completed_total",
			Help:      "Total finished stage runs by stage and terminal status",
		},
		[]string{"stage", "status"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lyrebird",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of stage executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"stage"},
	)

	modelLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lyrebird",
			Name:      "model_loads_total",
			Help:      "Total accelerator model loads by variant and result",
		},
		[]string{"variant", "result"},
	)

	modelsResident = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lyrebird",
			Name:      "models_resident",
			Help:      "Models currently resident on the accelerator",
		},
	)

	vramReserved = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lyrebird",
			Name:      "vram_reserved_mb",
			Help:      "Estimated accelerator memory reserved by resident models in MiB",
		},
	)

	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lyrebird",
			Name:      "events_dropped_total",
			Help:      "Progress events dropped because a subscriber fell behind",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmitted, stagesCompleted, stageDuration, modelLoads,
		modelsResident, vramReserved, eventsDropped)
}

// JobSubmitted counts one submission outcome.
func JobSubmitted(result string) {
	jobsSubmitted.WithLabelValues(result).Inc()
}

// StageFinished counts one finished stage run and records its duration.
// Skips record a zero-duration completion so cache hits stay visible.
func StageFinished(stage, status string, elapsed time.Duration) {
	stagesCompleted.WithLabelValues(stage, status).Inc()
	stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ModelLoad counts one load attempt for an accelerator model variant.
func ModelLoad(variant, result string) {
	modelLoads.WithLabelValues(variant, result).Inc()
}

// SetModelsResident records the current resident model count.
func SetModelsResident(count int) {
	modelsResident.Set(float64(count))
}

// SetVRAMReserved records the estimated reserved accelerator memory in MiB.
func SetVRAMReserved(mb int64) {
	vramReserved.Set(float64(mb))
}

// EventDropped counts one progress event lost to a slow subscriber.
func EventDropped() {
	eventsDropped.Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
