package preflight

import (
	"context"
	"fmt"
	"strings"

	"lyrebird/internal/config"
	"lyrebird/internal/gpu"
)

// CheckNotificationsFromConfig evaluates ntfy status from config and connectivity.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	check := CheckNtfy(context.Background(), cfg.Notifications.NtfyTopic)
	if check.Passed {
		return Result{Name: name, Passed: true, Detail: check.Detail}
	}
	return Result{Name: name, Detail: check.Detail}
}

// DeviceDetail renders a display-friendly accelerator summary for status UIs.
func DeviceDetail(device gpu.Device) string {
	if !device.Present {
		return "No accelerator detected"
	}
	if device.TotalVRAMMB > 0 {
		return fmt.Sprintf("%s (%d MB VRAM) on device %d", device.Name, device.TotalVRAMMB, device.Index)
	}
	return fmt.Sprintf("%s on device %d", device.Name, device.Index)
}
