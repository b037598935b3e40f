package preflight

import (
	"context"
	"strings"

	"lyrebird/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// minFreeDiskMB is the least free space the work and output volumes should
// have before a job starts. Demucs writes full-length stem WAVs, so a single
// track can need several hundred MB of scratch.
const minFreeDiskMB = 1024

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDiskSpace("Work disk space", cfg.Paths.WorkDir, minFreeDiskMB),
		CheckDiskSpace("Output disk space", cfg.Paths.OutputDir, minFreeDiskMB),
		CheckDependencies(cfg),
		CheckAccelerator(ctx, cfg),
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}

	return results
}
