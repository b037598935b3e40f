package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"lyrebird/internal/config"
)

// Requirement defines an external binary the pipeline shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements builds the dependency table for the configured tool commands.
func Requirements(tools config.Tools) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     tools.FFmpeg,
			Description: "Instrumental mixdown and audio conversion",
		},
		{
			Name:        "FFprobe",
			Command:     tools.FFprobe,
			Description: "Media inspection at submission",
		},
		{
			Name:        "Demucs",
			Command:     tools.Demucs,
			Description: "Vocal and instrumental stem separation",
		},
		{
			Name:        "uvx",
			Command:     tools.UVX,
			Description: "Runs WhisperX from the uv tool cache",
		},
		{
			Name:        "nvidia-smi",
			Command:     tools.NvidiaSMI,
			Description: "Accelerator device probe",
			Optional:    true,
		},
	}
}

// Check evaluates every configured dependency, including the WhisperX
// resolution that rides on uvx.
func Check(cfg *config.Config) []Status {
	results := CheckBinaries(Requirements(cfg.Tools))
	return append(results, CheckWhisperXViaUVX(cfg.Tools.UVX))
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
