package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"lyrebird/internal/logging"
	"lyrebird/internal/registry"
	"lyrebird/internal/testsupport"
	"lyrebird/internal/workflow"
)

func TestHeartbeatLoopStampsRunningJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.SubmitJob(t, store, "hb-stamp", "Heartbeat Song")
	claimed, err := store.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("ClaimPending failed: %v", err)
	}
	if claimed == nil || claimed.LastHeartbeat == nil {
		t.Fatal("claimed job should carry an initial heartbeat")
	}
	initial := *claimed.LastHeartbeat

	monitor := workflow.NewHeartbeatMonitor(store, logging.NewNop(), 10*time.Millisecond, time.Minute)

	loopCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go monitor.StartLoop(loopCtx, &wg, claimed.ID)

	deadline := time.After(5 * time.Second)
	for {
		job, err := store.GetJob(ctx, claimed.ID)
		if err != nil {
			cancel()
			t.Fatalf("GetJob failed: %v", err)
		}
		if job.LastHeartbeat != nil && job.LastHeartbeat.After(initial) {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("heartbeat never advanced")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()
	wg.Wait()
}

func TestReclaimStaleReturnsJobToQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.SubmitJob(t, store, "hb-stale", "Abandoned Song")
	claimed, err := store.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("ClaimPending failed: %v", err)
	}
	if _, err := store.TransitionStage(ctx, claimed.ID, registry.StageSeparation, registry.StageActive, nil, "Separation started"); err != nil {
		t.Fatalf("TransitionStage failed: %v", err)
	}

	// The heartbeat is now in the past relative to this timeout.
	time.Sleep(20 * time.Millisecond)
	monitor := workflow.NewHeartbeatMonitor(store, logging.NewNop(), time.Minute, 10*time.Millisecond)
	if err := monitor.ReclaimStale(ctx, logging.NewNop()); err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}

	job, err := store.GetJob(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != registry.JobPending {
		t.Fatalf("job = %s, want pending after reclaim", job.Status)
	}
	if job.LastHeartbeat != nil {
		t.Fatal("reclaimed job should have no heartbeat")
	}
	if job.ProgressStage != "Reclaimed after stale heartbeat" {
		t.Fatalf("progress stage = %q", job.ProgressStage)
	}

	record, err := store.GetStage(ctx, claimed.ID, registry.StageSeparation)
	if err != nil {
		t.Fatalf("GetStage failed: %v", err)
	}
	if record.Status != registry.StageWaiting {
		t.Fatalf("separation = %s, want waiting after reclaim", record.Status)
	}

	// A fresh heartbeat keeps the job out of the next reclaim sweep.
	reclaimable, err := store.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("ClaimPending failed: %v", err)
	}
	if reclaimable == nil || reclaimable.ID != claimed.ID {
		t.Fatal("reclaimed job should be claimable again")
	}
	patient := workflow.NewHeartbeatMonitor(store, logging.NewNop(), time.Minute, time.Minute)
	if err := patient.ReclaimStale(ctx, logging.NewNop()); err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	job, err = store.GetJob(ctx, reclaimable.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != registry.JobRunning {
		t.Fatalf("freshly claimed job = %s, want running", job.Status)
	}
}
