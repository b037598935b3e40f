package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateGPU(); err != nil {
		return err
	}
	if err := c.validateModels(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.poll_interval":        c.Workflow.PollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":   c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":    c.Workflow.HeartbeatTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	if c.Workflow.MaxConcurrentJobs < 0 {
		return errors.New("workflow.max_concurrent_jobs must be zero (unbounded) or positive")
	}
	return nil
}

func (c *Config) validateGPU() error {
	if c.GPU.DeviceIndex < 0 {
		return errors.New("gpu.device_index must not be negative")
	}
	if c.GPU.VRAMBudgetMB < 0 {
		return errors.New("gpu.vram_budget_mb must be zero (probe device) or positive")
	}
	if err := ensurePositiveMap(map[string]int{
		"gpu.idle_evict_seconds": c.GPU.IdleEvictSeconds,
		"gpu.load_timeout":       c.GPU.LoadTimeout,
	}); err != nil {
		return err
	}
	for key, value := range c.GPU.VRAMEstimatesMB {
		if value <= 0 {
			return fmt.Errorf("gpu.vram_estimates_mb[%q] must be positive", key)
		}
	}
	return nil
}

func (c *Config) validateModels() error {
	if !IsSeparationVariant(c.Models.SeparationVariant) {
		return fmt.Errorf("models.separation_variant %q is not a known demucs variant", c.Models.SeparationVariant)
	}
	if !IsTranscriptionVariant(c.Models.TranscriptionVariant) {
		return fmt.Errorf("models.transcription_variant %q is not a known whisper size", c.Models.TranscriptionVariant)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.MaxUploadMB <= 0 {
		return errors.New("api.max_upload_mb must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero (disabled) or positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
