package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// CheckWhisperXViaUVX reports how the transcription stage will resolve
// WhisperX.
//
// WhisperX is never expected on PATH. The stage invokes it through uvx, which
// materializes the tool into the uv cache on first use, so WhisperX is
// reachable exactly when uvx is. This helper mirrors that resolution so
// status output matches the stage's behaviour.
func CheckWhisperXViaUVX(uvxCommand string) Status {
	result := Status{
		Name:        "WhisperX",
		Description: "Word-timed transcription, resolved through uvx",
	}

	uvxBinary := strings.TrimSpace(uvxCommand)
	if uvxBinary == "" {
		uvxBinary = "uvx"
	}

	resolved, err := exec.LookPath(uvxBinary)
	if err != nil {
		result.Command = uvxBinary
		result.Available = false
		result.Detail = fmt.Sprintf("binary %q not found", uvxBinary)
		return result
	}

	result.Command = resolved
	result.Available = true
	return result
}
