package daemonrun_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"lyrebird/internal/daemonrun"
	"lyrebird/internal/ipc"
	"lyrebird/internal/testsupport"
)

func TestRunStartsAndShutsDown(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.API.Bind = ""
	cfg.Workflow.PollInterval = 3600
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{LogLevel: "error"})
	}()

	socket := filepath.Join(cfg.Paths.LogDir, "lyrebird.sock")
	var client *ipc.Client
	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case err := <-done:
			if err != nil && strings.Contains(err.Error(), "operation not permitted") {
				t.Skipf("unix sockets unavailable in sandbox: %v", err)
			}
			t.Fatalf("daemon exited before socket came up: %v", err)
		default:
		}
		var err error
		client, err = ipc.Dial(socket)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon socket never became available: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("status over IPC: %v", err)
	}
	if !status.Running {
		t.Fatal("expected workflow to be running after daemon boot")
	}
	_ = client.Close()

	pidData, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "lyrebird.pid"))
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil || pid != os.Getpid() {
		t.Fatalf("expected pid file with %d, got %q (%v)", os.Getpid(), pidData, err)
	}

	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "lyrebird.log")); err != nil {
		t.Fatalf("expected current log pointer: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down after cancel")
	}

	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "lyrebird.pid")); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removal after shutdown, got %v", err)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := daemonrun.Run(context.Background(), nil, daemonrun.Options{}); err == nil {
		t.Fatal("expected error without config")
	}
}
