package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"lyrebird/internal/config"
	"lyrebird/internal/deps"
	"lyrebird/internal/gpu"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDiskSpace verifies the filesystem holding path has at least minFreeMB
// megabytes available to unprivileged writes.
func CheckDiskSpace(name, path string, minFreeMB uint64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	freeMB := stat.Bavail * uint64(stat.Bsize) / (1 << 20)
	if freeMB < minFreeMB {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%d MB free, need %d MB)", path, freeMB, minFreeMB)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d MB free)", path, freeMB)}
}

// CheckDependencies summarizes the external binary table into one result.
// Optional tools never fail the check.
func CheckDependencies(cfg *config.Config) Result {
	const name = "Dependencies"

	var missing []string
	for _, status := range deps.Check(cfg) {
		if status.Available || status.Optional {
			continue
		}
		missing = append(missing, status.Name)
	}
	if len(missing) > 0 {
		return Result{Name: name, Detail: fmt.Sprintf("missing: %s", strings.Join(missing, ", "))}
	}
	return Result{Name: name, Passed: true, Detail: "all required binaries found"}
}

// CheckAccelerator probes for the configured accelerator device. Stages
// reserve models on it before running, so an absent device means every job
// will fail at reservation.
func CheckAccelerator(ctx context.Context, cfg *config.Config) Result {
	const name = "Accelerator"

	device := gpu.ProbeDevice(ctx, cfg)
	if !device.Present {
		return Result{Name: name, Detail: "no accelerator detected"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d MB VRAM)", device.Name, device.TotalVRAMMB)}
}

// CheckNtfy verifies the configured ntfy topic is reachable without
// publishing anything, using the one-shot poll endpoint.
func CheckNtfy(ctx context.Context, topicURL string) Result {
	const name = "ntfy"

	endpoint := strings.TrimRight(strings.TrimSpace(topicURL), "/")
	if endpoint == "" {
		return Result{Name: name, Detail: "missing topic url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, endpoint+"/json?poll=1", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%v)", err)}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%v)", err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (topic requires credentials)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%d)", resp.StatusCode)}
	}
}
