package main

import (
	"context"
	"encoding/json"
	"testing"

	"lyrebird/internal/testsupport"
)

func TestDaemonStartAndStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"start"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Daemon started")

	ctx := context.Background()
	testsupport.SubmitJob(t, env.store, "alpha", "Alpha Song")
	beta := testsupport.SubmitJob(t, env.store, "beta", "Beta Song")
	if err := env.store.MarkFailed(ctx, beta.ID, "separation crashed"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	out, _, err = runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "Dependencies")
	requireContains(t, out, "Workspace Paths")
	requireContains(t, out, "Queue Status")
	requireContains(t, out, "Pending")
	requireContains(t, out, "Failed")
	requireContains(t, out, "Lyrebird")
}

func TestDaemonStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"start"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("start: %v", err)
	}
	testsupport.SubmitJob(t, env.store, "gamma", "Gamma Song")

	out, _, err := runCLI(t, []string{"status", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid JSON: %v\noutput: %s", err, out)
	}
	running, ok := payload["running"].(bool)
	if !ok || !running {
		t.Fatalf("expected running=true, got %v", payload["running"])
	}
	stats, ok := payload["queue_stats"].(map[string]any)
	if !ok {
		t.Fatalf("expected queue_stats object, got %v", payload["queue_stats"])
	}
	if stats["pending"] != float64(1) {
		t.Fatalf("expected 1 pending job, got %v", stats["pending"])
	}
	if _, ok := payload["system_checks"]; !ok {
		t.Fatalf("expected system_checks in snapshot, got keys %v", payload)
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	// Point at a socket nobody listens on; the snapshot falls back to
	// direct registry access.
	out, _, err := runCLI(t, []string{"status"}, env.socketPath+".missing", env.configPath)
	if err != nil {
		t.Fatalf("status offline: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "Not running")
}
