package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lyrebird/internal/config"
	"lyrebird/internal/daemon"
	"lyrebird/internal/events"
	"lyrebird/internal/gpu"
	"lyrebird/internal/ipc"
	"lyrebird/internal/logging"
	"lyrebird/internal/registry"
	"lyrebird/internal/stage"
	"lyrebird/internal/testsupport"
	"lyrebird/internal/workflow"
)

type noopStage struct {
	name string
}

func (s noopStage) Name() string                                 { return s.name }
func (s noopStage) Mode() stage.ProgressMode                     { return stage.ProgressMeasured }
func (s noopStage) Variant(*registry.Job) string                 { return "" }
func (s noopStage) Prerequisites() []stage.Prerequisite          { return nil }
func (s noopStage) Prepare(context.Context, *registry.Job) error { return nil }
func (s noopStage) HealthCheck(context.Context) stage.Health     { return stage.Healthy(s.name) }
func (s noopStage) Execute(_ context.Context, _ *registry.Job, _ stage.Reporter) (stage.Result, error) {
	return stage.Result{Message: s.name + " done"}, nil
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *registry.Store
	hub        *events.Hub
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	baseDir    string
	logPath    string
	cancel     context.CancelFunc
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.API.Bind = ""
	cfg.Workflow.PollInterval = 3600

	logPath := filepath.Join(cfg.Paths.LogDir, "lyrebird-test.log")
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		if err := os.WriteFile(logPath, nil, 0o644); err != nil {
			t.Fatalf("create log file: %v", err)
		}
	}

	configPath := filepath.Join(homeDir, ".config", "lyrebird", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	art := testsupport.MustOpenArtifacts(t, cfg)
	hub := events.NewHub()

	logger := logging.NewNop()
	models := gpu.NewManager(cfg, logger)

	mgr := workflow.NewManager(cfg, store, art, models, hub, logger)
	mgr.ConfigureStages(workflow.StageSet{
		Separation:    noopStage{name: registry.StageSeparation},
		Transcription: noopStage{name: registry.StageTranscription},
		Karaoke:       noopStage{name: registry.StageKaraoke},
	})

	d, err := daemon.New(cfg, store, art, models, hub, mgr, logger, logPath)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.Paths.LogDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	env := &cliTestEnv{
		cfg:        cfg,
		store:      store,
		hub:        hub,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		baseDir:    base,
		logPath:    logPath,
		cancel:     cancel,
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return env
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nupload_dir = %q\noutput_dir = %q\nwork_dir = %q\nlog_dir = %q\ndatabase_path = %q\n\n[workflow]\npoll_interval = %d\n\n[api]\nbind = %q\n",
		cfg.Paths.UploadDir,
		cfg.Paths.OutputDir,
		cfg.Paths.WorkDir,
		cfg.Paths.LogDir,
		cfg.Paths.DatabasePath,
		cfg.Workflow.PollInterval,
		cfg.API.Bind,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
