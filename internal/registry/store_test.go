package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lyrebird/internal/registry"
	"lyrebird/internal/services"
	"lyrebird/internal/testsupport"
)

func TestSubmitCreatesJobAndStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	fp := testsupport.PadFingerprint("first-track")
	job, isNew, err := store.Submit(ctx, registry.NewJobParams{
		Fingerprint:     fp,
		SourcePath:      "/uploads/first-track.mp3",
		Title:           "First Track",
		DurationSeconds: 214.5,
		SizeBytes:       4 << 20,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !isNew {
		t.Fatal("expected isNew=true for a fresh fingerprint")
	}
	if job.ID != fp[:12] {
		t.Fatalf("expected job ID %s, got %s", fp[:12], job.ID)
	}
	if job.Status != registry.JobPending {
		t.Fatalf("expected pending job, got %s", job.Status)
	}

	stages, err := store.StagesForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("StagesForJob: %v", err)
	}
	order := registry.StageOrder()
	if len(stages) != len(order) {
		t.Fatalf("expected %d stages, got %d", len(order), len(stages))
	}
	for i, record := range stages {
		if record.Name != order[i] {
			t.Fatalf("stage %d: expected %s, got %s", i, order[i], record.Name)
		}
		if record.Status != registry.StageWaiting {
			t.Fatalf("stage %s: expected waiting, got %s", record.Name, record.Status)
		}
	}
}

func TestSubmitDuplicateReturnsExistingJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	fp := testsupport.PadFingerprint("duplicate-track")
	first, isNew, err := store.Submit(ctx, registry.NewJobParams{Fingerprint: fp, Title: "Original"})
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if !isNew {
		t.Fatal("expected first submission to be new")
	}

	second, isNew, err := store.Submit(ctx, registry.NewJobParams{Fingerprint: fp, Title: "Renamed Copy"})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if isNew {
		t.Fatal("expected duplicate submission to report isNew=false")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same job ID, got %s and %s", first.ID, second.ID)
	}
	if second.Title != "Original" {
		t.Fatalf("duplicate submission should not overwrite fields, got title %q", second.Title)
	}
}

func TestSubmitConcurrentSameFingerprint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	fp := testsupport.PadFingerprint("contended-track")

	const submitters = 8
	results := make(chan bool, submitters)
	errs := make(chan error, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, isNew, err := store.Submit(ctx, registry.NewJobParams{Fingerprint: fp})
			if err != nil {
				errs <- err
				return
			}
			results <- isNew
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent Submit: %v", err)
	}
	newCount := 0
	total := 0
	for isNew := range results {
		total++
		if isNew {
			newCount++
		}
	}
	if total != submitters {
		t.Fatalf("expected %d results, got %d", submitters, total)
	}
	if newCount != 1 {
		t.Fatalf("expected exactly one isNew=true, got %d", newCount)
	}

	stages, err := store.StagesForJob(ctx, fp[:12])
	if err != nil {
		t.Fatalf("StagesForJob: %v", err)
	}
	if len(stages) != len(registry.StageOrder()) {
		t.Fatalf("expected stages seeded once, got %d rows", len(stages))
	}
}

func TestSubmitRejectsEmptyFingerprint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	_, _, err := store.Submit(context.Background(), registry.NewJobParams{Fingerprint: "   "})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitRequeuesFailedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	fp := testsupport.PadFingerprint("requeue-track")
	job, _, err := store.Submit(ctx, registry.NewJobParams{Fingerprint: fp})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	mustTransition(t, store, job.ID, registry.StageSeparation, registry.StageActive, "")
	mustTransition(t, store, job.ID, registry.StageSeparation, registry.StageCompleted, "stems ready")
	mustTransition(t, store, job.ID, registry.StageTranscription, registry.StageActive, "")
	mustTransition(t, store, job.ID, registry.StageTranscription, registry.StageFailed, "whisper crashed")
	if err := store.MarkFailed(ctx, job.ID, "whisper crashed"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	requeued, isNew, err := store.Submit(ctx, registry.NewJobParams{Fingerprint: fp})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if isNew {
		t.Fatal("resubmission should not be new")
	}
	if requeued.Status != registry.JobPending {
		t.Fatalf("expected requeued job pending, got %s", requeued.Status)
	}
	if requeued.ErrorMessage != "" {
		t.Fatalf("expected error cleared, got %q", requeued.ErrorMessage)
	}

	stages, err := store.StagesForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("StagesForJob: %v", err)
	}
	byName := stagesByName(stages)
	if byName[registry.StageSeparation].Status != registry.StageCompleted {
		t.Fatalf("completed separation should survive requeue, got %s", byName[registry.StageSeparation].Status)
	}
	if byName[registry.StageTranscription].Status != registry.StageWaiting {
		t.Fatalf("failed transcription should reset to waiting, got %s", byName[registry.StageTranscription].Status)
	}
	if byName[registry.StageKaraoke].Status != registry.StageWaiting {
		t.Fatalf("karaoke should stay waiting, got %s", byName[registry.StageKaraoke].Status)
	}
}

func TestTransitionStageWalksHappyPath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.SubmitJob(t, store, "happy-track", "Happy Track")

	record := mustTransition(t, store, job.ID, registry.StageSeparation, registry.StageActive, "loading model")
	if record.Status != registry.StageActive {
		t.Fatalf("expected active, got %s", record.Status)
	}

	running, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if running.Status != registry.JobRunning {
		t.Fatalf("activating a stage should mark the job running, got %s", running.Status)
	}
	if running.CurrentStage != registry.StageSeparation {
		t.Fatalf("expected current stage separation, got %s", running.CurrentStage)
	}
	if running.LastHeartbeat == nil {
		t.Fatal("expected heartbeat set on activation")
	}

	record = mustTransition(t, store, job.ID, registry.StageSeparation, registry.StageCompleted, "stems ready")
	if record.ProgressPercent != 100 {
		t.Fatalf("completed stage should read 100, got %f", record.ProgressPercent)
	}
	if record.FinishedAt == nil {
		t.Fatal("expected finished timestamp")
	}

	mustTransition(t, store, job.ID, registry.StageTranscription, registry.StageSkipped, "cached")
	mustTransition(t, store, job.ID, registry.StageKaraoke, registry.StageActive, "")
	mustTransition(t, store, job.ID, registry.StageKaraoke, registry.StageCompleted, "")

	if err := store.MarkCompleted(ctx, job.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	done, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if done.Status != registry.JobCompleted {
		t.Fatalf("expected completed job, got %s", done.Status)
	}
	if done.ProgressPercent != 100 {
		t.Fatalf("expected job progress 100, got %f", done.ProgressPercent)
	}
	if done.LastHeartbeat != nil {
		t.Fatal("expected heartbeat cleared on completion")
	}
}

func TestTransitionStageRejectsOutOfOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.SubmitJob(t, store, "strict-track", "Strict Track")

	// Transcription cannot start while separation is still waiting.
	_, err := store.TransitionStage(ctx, job.ID, registry.StageTranscription, registry.StageActive, nil, "")
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	// A waiting stage cannot jump straight to completed.
	_, err = store.TransitionStage(ctx, job.ID, registry.StageSeparation, registry.StageCompleted, nil, "")
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	mustTransition(t, store, job.ID, registry.StageSeparation, registry.StageActive, "")
	mustTransition(t, store, job.ID, registry.StageSeparation, registry.StageCompleted, "")

	// Terminal stages stay terminal.
	_, err = store.TransitionStage(ctx, job.ID, registry.StageSeparation, registry.StageActive, nil, "")
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on re-activation, got %v", err)
	}

	// Unknown stages are a validation error, not an ordering one.
	_, err = store.TransitionStage(ctx, job.ID, "mastering", registry.StageActive, nil, "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransitionStageRejectsTerminalJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.SubmitJob(t, store, "halted-track", "Halted Track")
	if err := store.MarkFailed(ctx, job.ID, "disk full"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	_, err := store.TransitionStage(ctx, job.ID, registry.StageSeparation, registry.StageActive, nil, "")
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on failed job, got %v", err)
	}
	if err := store.MarkCompleted(ctx, job.ID); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition completing failed job, got %v", err)
	}
	if err := store.MarkFailed(ctx, job.ID, "again"); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition failing twice, got %v", err)
	}
}

func TestStageProgressNeverDecreases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.SubmitJob(t, store, "monotone-track", "Monotone Track")
	mustTransition(t, store, job.ID, registry.StageSeparation, registry.StageActive, "")

	steps := []struct {
		report float64
		want   float64
	}{
		{report: 25, want: 25},
		{report: 60.5, want: 60.5},
		{report: 40, want: 60.5},
		{report: 61, want: 61},
		{report: 150, want: 100},
	}
	for _, step := range steps {
		if err := store.UpdateStageProgress(ctx, job.ID, registry.StageSeparation, step.report, "separating"); err != nil {
			t.Fatalf("UpdateStageProgress(%f): %v", step.report, err)
		}
		record, err := store.GetStage(ctx, job.ID, registry.StageSeparation)
		if err != nil {
			t.Fatalf("GetStage: %v", err)
		}
		if record.ProgressPercent != step.want {
			t.Fatalf("after reporting %f expected %f, got %f", step.report, step.want, record.ProgressPercent)
		}
	}

	// Samples for non-active stages are ignored.
	if err := store.UpdateStageProgress(ctx, job.ID, registry.StageKaraoke, 50, "early"); err != nil {
		t.Fatalf("UpdateStageProgress waiting stage: %v", err)
	}
	record, err := store.GetStage(ctx, job.ID, registry.StageKaraoke)
	if err != nil {
		t.Fatalf("GetStage: %v", err)
	}
	if record.ProgressPercent != 0 {
		t.Fatalf("waiting stage should ignore progress, got %f", record.ProgressPercent)
	}
}

func TestMarkCompletedRequiresAllStagesFinished(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.SubmitJob(t, store, "eager-track", "Eager Track")
	mustTransition(t, store, job.ID, registry.StageSeparation, registry.StageActive, "")
	mustTransition(t, store, job.ID, registry.StageSeparation, registry.StageCompleted, "")

	err := store.MarkCompleted(ctx, job.ID)
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition with unfinished stages, got %v", err)
	}
}

func TestClaimPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.SubmitJob(t, store, "claim-a", "Claim A")
	second := testsupport.SubmitJob(t, store, "claim-b", "Claim B")

	claimed, err := store.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected oldest job %s claimed, got %#v", first.ID, claimed)
	}
	if claimed.Status != registry.JobRunning {
		t.Fatalf("claimed job should be running, got %s", claimed.Status)
	}
	if claimed.LastHeartbeat == nil {
		t.Fatal("claimed job should carry a heartbeat")
	}

	next, err := store.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("second ClaimPending: %v", err)
	}
	if next == nil || next.ID != second.ID {
		t.Fatalf("expected second job claimed, got %#v", next)
	}

	empty, err := store.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("third ClaimPending: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected no pending jobs, got %#v", empty)
	}
}

func TestReclaimStaleRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	stale := testsupport.SubmitJob(t, store, "stale-track", "Stale Track")
	fresh := testsupport.SubmitJob(t, store, "fresh-track", "Fresh Track")

	mustTransition(t, store, stale.ID, registry.StageSeparation, registry.StageActive, "")
	mustTransition(t, store, fresh.ID, registry.StageSeparation, registry.StageActive, "")

	// Only the stale job's heartbeat predates the cutoff.
	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(10 * time.Millisecond)
	if err := store.UpdateHeartbeat(ctx, fresh.ID); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	reclaimed, err := store.ReclaimStaleRunning(ctx, cutoff)
	if err != nil {
		t.Fatalf("ReclaimStaleRunning: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 job reclaimed, got %d", reclaimed)
	}

	recovered, err := store.GetJob(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetJob stale: %v", err)
	}
	if recovered.Status != registry.JobPending {
		t.Fatalf("expected stale job pending, got %s", recovered.Status)
	}
	if recovered.LastHeartbeat != nil {
		t.Fatal("expected stale heartbeat cleared")
	}
	record, err := store.GetStage(ctx, stale.ID, registry.StageSeparation)
	if err != nil {
		t.Fatalf("GetStage: %v", err)
	}
	if record.Status != registry.StageWaiting {
		t.Fatalf("expected active stage rolled back to waiting, got %s", record.Status)
	}

	untouched, err := store.GetJob(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetJob fresh: %v", err)
	}
	if untouched.Status != registry.JobRunning {
		t.Fatalf("expected fresh job untouched, got %s", untouched.Status)
	}
}

func TestResetStuckRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.SubmitJob(t, store, "stuck-track", "Stuck Track")
	mustTransition(t, store, job.ID, registry.StageSeparation, registry.StageActive, "")

	count, err := store.ResetStuckRunning(ctx)
	if err != nil {
		t.Fatalf("ResetStuckRunning: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 job reset, got %d", count)
	}

	reset, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if reset.Status != registry.JobPending {
		t.Fatalf("expected pending after reset, got %s", reset.Status)
	}
}

func TestListAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	a := testsupport.SubmitJob(t, store, "list-a", "List A")
	b := testsupport.SubmitJob(t, store, "list-b", "List B")
	if err := store.MarkFailed(ctx, b.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}
	if all[0].ID != a.ID || all[1].ID != b.ID {
		t.Fatalf("expected creation order, got %s then %s", all[0].ID, all[1].ID)
	}

	failed, err := store.List(ctx, registry.JobFailed)
	if err != nil {
		t.Fatalf("filtered List: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != b.ID {
		t.Fatalf("unexpected filtered result: %#v", failed)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[registry.JobPending] != 1 || stats[registry.JobFailed] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Failed != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

func TestCheckHealthReportsSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.SubmitJob(t, store, "health-track", "Health Track")

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists {
		t.Fatalf("unexpected health flags: %#v", health)
	}
	if len(health.MissingColumns) != 0 {
		t.Fatalf("expected no missing columns, got %v", health.MissingColumns)
	}
	if !health.IntegrityCheck {
		t.Fatal("expected integrity check to pass")
	}
	if health.TotalJobs != 1 {
		t.Fatalf("expected 1 job, got %d", health.TotalJobs)
	}
}

func mustTransition(t *testing.T, store *registry.Store, jobID, stage string, to registry.StageStatus, message string) *registry.StageRecord {
	t.Helper()
	record, err := store.TransitionStage(context.Background(), jobID, stage, to, nil, message)
	if err != nil {
		t.Fatalf("TransitionStage(%s, %s): %v", stage, to, err)
	}
	return record
}

func stagesByName(stages []*registry.StageRecord) map[string]*registry.StageRecord {
	byName := make(map[string]*registry.StageRecord, len(stages))
	for _, record := range stages {
		byName[record.Name] = record
	}
	return byName
}
