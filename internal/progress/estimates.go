package progress

import "lyrebird/internal/registry"

// DefaultEstimateSeconds is used when a stage has no duration information and
// no stage-specific fallback applies.
const DefaultEstimateSeconds = 180.0

// EstimateSeconds predicts a stage's wall time from the source duration.
// Separation dominates (demucs runs slower than realtime); transcription pays
// a model spin-up before scaling with duration; karaoke assembly is nearly
// flat. Unknown durations fall back to per-stage constants.
func EstimateSeconds(stage string, durationSeconds float64) float64 {
	if durationSeconds <= 0 {
		switch stage {
		case registry.StageSeparation:
			return 180
		case registry.StageTranscription:
			return 45
		case registry.StageKaraoke:
			return 15
		default:
			return DefaultEstimateSeconds
		}
	}
	switch stage {
	case registry.StageSeparation:
		return 1.5 * durationSeconds
	case registry.StageTranscription:
		return 20 + 0.5*durationSeconds
	case registry.StageKaraoke:
		return 10 + 0.05*durationSeconds
	default:
		return DefaultEstimateSeconds
	}
}
