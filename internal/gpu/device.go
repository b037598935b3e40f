package gpu

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"lyrebird/internal/config"
)

const probeTimeout = 10 * time.Second

// Device describes the accelerator found at startup. Present is false when
// nvidia-smi is missing or reports no usable device.
type Device struct {
	Present     bool   `json:"present"`
	Index       int    `json:"index"`
	Name        string `json:"name"`
	TotalVRAMMB int    `json:"totalVramMb"`
}

// ProbeDevice queries nvidia-smi for the configured device. A missing binary
// or a failing query yields an absent device rather than an error; callers
// decide how loudly to complain.
func ProbeDevice(ctx context.Context, cfg *config.Config) Device {
	binary := cfg.Tools.NvidiaSMI
	if strings.TrimSpace(binary) == "" {
		return Device{}
	}
	if _, err := exec.LookPath(binary); err != nil {
		return Device{}
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, binary,
		"--query-gpu=name,memory.total",
		"--format=csv,noheader,nounits",
		fmt.Sprintf("--id=%d", cfg.GPU.DeviceIndex),
	)
	output, err := cmd.Output()
	if err != nil {
		return Device{}
	}
	return parseDeviceQuery(cfg.GPU.DeviceIndex, string(output))
}

// parseDeviceQuery reads one "name, memory" CSV line from nvidia-smi output.
func parseDeviceQuery(index int, output string) Device {
	line := strings.TrimSpace(output)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if line == "" {
		return Device{}
	}
	name := line
	totalMB := 0
	if idx := strings.LastIndexByte(line, ','); idx >= 0 {
		name = strings.TrimSpace(line[:idx])
		if mb, err := strconv.Atoi(strings.TrimSpace(line[idx+1:])); err == nil {
			totalMB = mb
		}
	}
	if name == "" {
		return Device{}
	}
	return Device{Present: true, Index: index, Name: name, TotalVRAMMB: totalMB}
}
