// Package daemonrun assembles and runs the lyrebird daemon process: logging,
// pid file, registry and artifact stores, accelerator manager, workflow, and
// the IPC socket. The CLI invokes it from the hidden `lyrebird daemon`
// command; everything else talks to the daemon over IPC or HTTP.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lyrebird/internal/artifacts"
	"lyrebird/internal/config"
	"lyrebird/internal/daemon"
	"lyrebird/internal/deps"
	"lyrebird/internal/events"
	"lyrebird/internal/gpu"
	"lyrebird/internal/ipc"
	"lyrebird/internal/logging"
	"lyrebird/internal/registry"
	"lyrebird/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the lyrebird daemon runtime loop and blocks until the context
// is canceled or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("lyrebird-%s.log", runID))

	level := strings.TrimSpace(opts.LogLevel)
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update lyrebird.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "lyrebird-*.log", Exclude: []string{logPath}},
	)
	pidPath := filepath.Join(cfg.Paths.LogDir, "lyrebird.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := registry.Open(cfg)
	if err != nil {
		logger.Error("open registry store", logging.Error(err))
		return err
	}

	art, err := artifacts.Open(cfg)
	if err != nil {
		logger.Error("open artifact store", logging.Error(err))
		_ = store.Close()
		return err
	}
	defer art.Close()

	hub := events.NewHub()
	models := gpu.NewManager(cfg, logger)

	workflowManager := workflow.NewManager(cfg, store, art, models, hub, logger)
	workflowManager.ConfigureStages(workflow.DefaultStageSet(cfg))

	d, err := daemon.New(cfg, store, art, models, hub, workflowManager, logger, logPath)
	if err != nil {
		_ = art.Close()
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	// Close stops the workflow and releases the store, hub, and accelerator.
	defer d.Close()

	socketPath := filepath.Join(cfg.Paths.LogDir, "lyrebird.sock")
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and registry database access"),
			logging.String(logging.FieldImpact, "daemon will not process jobs until started over IPC"),
		)
	}

	<-signalCtx.Done()
	logger.Info("lyrebird daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "lyrebird.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
	}
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	for _, status := range deps.Check(cfg) {
		key := replacer.Replace(strings.ToLower(status.Name))
		attrs = append(attrs, logging.Bool(key+"_available", status.Available))
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, "dependency snapshot", attrs...)
}
