package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeGPU()
	c.normalizeModels()
	c.normalizeTools()
	c.normalizeAPI()
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.DatabasePath, err = expandPath(c.Paths.DatabasePath); err != nil {
		return fmt.Errorf("paths.database_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeGPU() {
	// User overrides extend the defaults rather than replacing the whole map,
	// so a config file only needs entries for the variants it changes.
	merged := defaultVRAMEstimatesMB()
	for key, value := range c.GPU.VRAMEstimatesMB {
		merged[strings.ToLower(strings.TrimSpace(key))] = value
	}
	c.GPU.VRAMEstimatesMB = merged
}

func (c *Config) normalizeModels() {
	c.Models.SeparationVariant = strings.ToLower(strings.TrimSpace(c.Models.SeparationVariant))
	if c.Models.SeparationVariant == "" {
		c.Models.SeparationVariant = defaultSeparationVariant
	}
	c.Models.TranscriptionVariant = strings.ToLower(strings.TrimSpace(c.Models.TranscriptionVariant))
	if c.Models.TranscriptionVariant == "" {
		c.Models.TranscriptionVariant = defaultTranscriptionVariant
	}
	c.Models.Language = strings.TrimSpace(c.Models.Language)
}

func (c *Config) normalizeTools() {
	if strings.TrimSpace(c.Tools.FFmpeg) == "" {
		c.Tools.FFmpeg = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Tools.FFprobe) == "" {
		c.Tools.FFprobe = defaultFFprobeBinary
	}
	if strings.TrimSpace(c.Tools.Demucs) == "" {
		c.Tools.Demucs = defaultDemucsBinary
	}
	if strings.TrimSpace(c.Tools.UVX) == "" {
		c.Tools.UVX = defaultUVXBinary
	}
	if strings.TrimSpace(c.Tools.NvidiaSMI) == "" {
		c.Tools.NvidiaSMI = defaultNvidiaSMIBinary
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("LYREBIRD_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("LYREBIRD_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}
