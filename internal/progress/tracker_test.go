package progress_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"lyrebird/internal/progress"
	"lyrebird/internal/registry"
)

type emission struct {
	jobID   string
	stage   string
	percent float64
	message string
}

type recordingSink struct {
	mu     sync.Mutex
	events []emission
}

func (s *recordingSink) Publish(jobID, stage string, percent float64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, emission{jobID: jobID, stage: stage, percent: percent, message: message})
}

func (s *recordingSink) snapshot() []emission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emission(nil), s.events...)
}

func TestPredictiveStreamIsMonotoneAndCapped(t *testing.T) {
	sink := &recordingSink{}
	tracker := progress.NewTracker(sink, progress.WithTick(5*time.Millisecond))

	cancel := tracker.StartPredictive("job1", registry.StageSeparation, 0.5)
	time.Sleep(200 * time.Millisecond)
	cancel()

	events := sink.snapshot()
	if len(events) < 2 {
		t.Fatalf("expected several predictive emissions, got %d", len(events))
	}
	last := -1.0
	for i, ev := range events {
		if ev.jobID != "job1" || ev.stage != registry.StageSeparation {
			t.Fatalf("event %d addressed wrong stream: %+v", i, ev)
		}
		if ev.percent > progress.PredictiveCap {
			t.Fatalf("event %d exceeds the cap: %.2f", i, ev.percent)
		}
		if ev.percent <= last {
			t.Fatalf("event %d did not advance: %.2f after %.2f", i, ev.percent, last)
		}
		if i > 0 && ev.percent-last < 1 {
			t.Fatalf("event %d advanced less than a point: %.2f after %.2f", i, ev.percent, last)
		}
		if !strings.Contains(ev.message, "elapsed") {
			t.Fatalf("event %d missing elapsed time in message: %q", i, ev.message)
		}
		last = ev.percent
	}
}

func TestPredictiveCancelStopsEmissionImmediately(t *testing.T) {
	sink := &recordingSink{}
	tracker := progress.NewTracker(sink, progress.WithTick(5*time.Millisecond))

	cancel := tracker.StartPredictive("job2", registry.StageTranscription, 60)
	time.Sleep(40 * time.Millisecond)
	cancel()

	seen := len(sink.snapshot())
	time.Sleep(50 * time.Millisecond)
	if got := len(sink.snapshot()); got != seen {
		t.Fatalf("events were emitted after cancel returned: %d -> %d", seen, got)
	}

	// Cancelling again is harmless.
	cancel()
}

func TestPredictiveCancelBeforeFirstTickEmitsNothing(t *testing.T) {
	sink := &recordingSink{}
	tracker := progress.NewTracker(sink, progress.WithTick(time.Hour))

	cancel := tracker.StartPredictive("job3", registry.StageKaraoke, 60)
	cancel()

	if events := sink.snapshot(); len(events) != 0 {
		t.Fatalf("expected no emissions before the first tick, got %d", len(events))
	}
}

func TestPredictiveStopsWhenEstimateRunsOut(t *testing.T) {
	sink := &recordingSink{}
	tracker := progress.NewTracker(sink, progress.WithTick(2*time.Millisecond))

	cancel := tracker.StartPredictive("job4", registry.StageSeparation, 0.05)
	time.Sleep(150 * time.Millisecond)

	events := sink.snapshot()
	if len(events) == 0 {
		t.Fatal("expected emissions before the estimate ran out")
	}
	final := events[len(events)-1].percent
	if final > progress.PredictiveCap {
		t.Fatalf("stream passed the cap: %.2f", final)
	}

	// The ticker has parked at the cap; nothing further arrives.
	time.Sleep(50 * time.Millisecond)
	if got := len(sink.snapshot()); got != len(events) {
		t.Fatalf("events kept flowing past the estimate: %d -> %d", len(events), got)
	}
	cancel()
}

func TestUpdaterEmissionRules(t *testing.T) {
	sink := &recordingSink{}
	tracker := progress.NewTracker(sink)
	updater := tracker.StartMeasured("job5", registry.StageSeparation)

	updater.Report(0, "starting")
	updater.Report(5, "warming up")
	updater.Report(5.4, "drop: under a point")
	updater.Report(4, "drop: moved backward")
	updater.Report(7, "keep")
	updater.Report(99.5, "keep")
	updater.Report(100, "keep: completion jump")
	updater.Report(100, "drop: already complete")

	events := sink.snapshot()
	wantPercents := []float64{0, 5, 7, 99.5, 100}
	if len(events) != len(wantPercents) {
		t.Fatalf("expected %d emissions, got %d: %+v", len(wantPercents), len(events), events)
	}
	for i, want := range wantPercents {
		if events[i].percent != want {
			t.Fatalf("emission %d: got %.2f, want %.2f", i, events[i].percent, want)
		}
	}
	if events[len(events)-1].message != "keep: completion jump" {
		t.Fatalf("unexpected final message: %q", events[len(events)-1].message)
	}
}

func TestUpdaterClampsOutOfRangeReports(t *testing.T) {
	sink := &recordingSink{}
	updater := progress.NewTracker(sink).StartMeasured("job6", registry.StageKaraoke)

	updater.Report(-20, "below range")
	updater.Report(150, "above range")

	events := sink.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 emissions, got %d", len(events))
	}
	if events[0].percent != 0 || events[1].percent != 100 {
		t.Fatalf("expected clamping to [0,100], got %.2f and %.2f", events[0].percent, events[1].percent)
	}
}
