package progress

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultTick is the predictive emission interval.
	DefaultTick = 500 * time.Millisecond

	// minEmitDelta drops points that moved less than one percent. A jump to
	// 100 is always emitted.
	minEmitDelta = 1.0
)

// Sink consumes progress points. Emission happens on stage and timer
// goroutines, so implementations must not block on slow consumers.
type Sink interface {
	Publish(jobID, stage string, percent float64, message string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(jobID, stage string, percent float64, message string)

func (f SinkFunc) Publish(jobID, stage string, percent float64, message string) {
	f(jobID, stage, percent, message)
}

// Tracker fans progress points out to a sink. One tracker serves the whole
// daemon; per-stage state lives in the Updater or timer it hands out.
type Tracker struct {
	sink Sink
	tick time.Duration
}

// TrackerOption configures optional Tracker behavior.
type TrackerOption func(*Tracker)

// WithTick overrides the predictive emission interval (used in tests).
func WithTick(tick time.Duration) TrackerOption {
	return func(t *Tracker) {
		if tick > 0 {
			t.tick = tick
		}
	}
}

// NewTracker constructs a tracker emitting into sink.
func NewTracker(sink Sink, opts ...TrackerOption) *Tracker {
	t := &Tracker{sink: sink, tick: DefaultTick}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartMeasured returns an Updater for a stage that reports real progress.
func (t *Tracker) StartMeasured(jobID, stage string) *Updater {
	return &Updater{sink: t.sink, jobID: jobID, stage: stage}
}

// StartPredictive begins the sigmoid ticker for a stage that only knows its
// estimated wall time. The returned cancel is safe to call more than once and
// guarantees that no event is emitted after it returns.
func (t *Tracker) StartPredictive(jobID, stage string, estimatedTotalSeconds float64) (cancel func()) {
	if estimatedTotalSeconds <= 0 {
		estimatedTotalSeconds = DefaultEstimateSeconds
	}
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go t.runPredictive(ctx, done, jobID, stage, estimatedTotalSeconds)
	return func() {
		stop()
		<-done
	}
}

func (t *Tracker) runPredictive(ctx context.Context, done chan<- struct{}, jobID, stage string, estimated float64) {
	defer close(done)

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	start := time.Now()
	label := stageLabel(stage)
	last := 0.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start).Seconds()
			if elapsed >= estimated {
				// The estimate ran out; hold at the cap until the stage
				// itself reports completion or failure.
				return
			}
			percent := PredictedPercent(elapsed, estimated)
			if percent-last < minEmitDelta {
				continue
			}
			last = percent
			remaining := estimated - elapsed
			t.sink.Publish(jobID, stage, percent,
				fmt.Sprintf("%s... %ds elapsed, ~%ds remaining", label, int(elapsed), int(remaining)))
		}
	}
}

// Updater carries measured progress for one stage invocation.
type Updater struct {
	sink  Sink
	jobID string
	stage string

	mu      sync.Mutex
	last    float64
	emitted bool
}

// Report pushes ground-truth progress. Points below the last emission are
// dropped (the stream never moves backward), as are points that advance less
// than one percent; the first report and a jump to 100 always go through.
func (u *Updater) Report(percent float64, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	u.mu.Lock()
	if u.emitted {
		if percent < u.last {
			u.mu.Unlock()
			return
		}
		if percent-u.last < minEmitDelta && percent != 100 {
			u.mu.Unlock()
			return
		}
		if percent == 100 && u.last == 100 {
			u.mu.Unlock()
			return
		}
	}
	u.last = percent
	u.emitted = true
	u.mu.Unlock()

	u.sink.Publish(u.jobID, u.stage, percent, message)
}

func stageLabel(stage string) string {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return "Processing"
	}
	r, size := utf8.DecodeRuneInString(stage)
	return string(unicode.ToUpper(r)) + stage[size:]
}
