package progress

import "math"

const (
	// PredictiveCap bounds the predictive stream. The curve flattens here and
	// stays until the stage itself reports completion as a jump to 100.
	PredictiveCap = 95.0

	// sigmoidSpan and sigmoidK shape the curve: with span 12 and k 0.5 the
	// stream passes ~25% a third of the way through the estimate, ~48% at the
	// midpoint, and ~90% as the estimate runs out.
	sigmoidSpan = 12.0
	sigmoidK    = 0.5
)

// PredictedPercent maps elapsed seconds onto the sigmoid used for stages that
// cannot report true fractional progress.
func PredictedPercent(elapsedSeconds, estimatedTotalSeconds float64) float64 {
	if estimatedTotalSeconds <= 0 {
		return 0
	}
	x := (elapsedSeconds/estimatedTotalSeconds)*sigmoidSpan - sigmoidSpan/2
	percent := PredictiveCap / (1 + math.Exp(-sigmoidK*x))
	switch {
	case percent < 0:
		return 0
	case percent > PredictiveCap:
		return PredictiveCap
	default:
		return percent
	}
}
