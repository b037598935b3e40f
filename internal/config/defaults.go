package config

const (
	defaultUploadDir            = "~/.local/share/lyrebird/uploads"
	defaultOutputDir            = "~/.local/share/lyrebird/outputs"
	defaultWorkDir              = "~/.local/share/lyrebird/work"
	defaultLogDir               = "~/.local/share/lyrebird/logs"
	defaultDatabasePath         = "~/.local/share/lyrebird/lyrebird.db"
	defaultLogRetentionDays     = 30
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultPollInterval         = 2
	defaultErrorRetryInterval   = 10
	defaultHeartbeatInterval    = 15
	defaultHeartbeatTimeout     = 120
	defaultIdleEvictSeconds     = 300
	defaultLoadTimeout          = 180
	defaultAPIBind              = "127.0.0.1:7643"
	defaultMaxUploadMB          = 100
	defaultSeparationVariant    = "htdemucs"
	defaultTranscriptionVariant = "large"
	defaultNotifyRequestTimeout = 10
	defaultFFmpegBinary         = "ffmpeg"
	defaultFFprobeBinary        = "ffprobe"
	defaultDemucsBinary         = "demucs"
	defaultUVXBinary            = "uvx"
	defaultNvidiaSMIBinary      = "nvidia-smi"
)

// defaultVRAMEstimatesMB carries rough per-variant VRAM requirements used for
// admission when the user does not override them. Values are intentionally
// conservative so the manager evicts before the device over-commits.
func defaultVRAMEstimatesMB() map[string]int {
	return map[string]int{
		"demucs:htdemucs":    7000,
		"demucs:htdemucs_ft": 7000,
		"demucs:htdemucs_6s": 7000,
		"demucs:hdemucs_mmi": 7000,
		"demucs:mdx":         4200,
		"demucs:mdx_extra":   4200,
		"demucs:mdx_q":       3000,
		"demucs:mdx_extra_q": 3000,
		"whisper:tiny":       1200,
		"whisper:base":       1600,
		"whisper:small":      2800,
		"whisper:medium":     5500,
		"whisper:large":      10500,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			UploadDir:    defaultUploadDir,
			OutputDir:    defaultOutputDir,
			WorkDir:      defaultWorkDir,
			LogDir:       defaultLogDir,
			DatabasePath: defaultDatabasePath,
		},
		Workflow: Workflow{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			MaxConcurrentJobs:  0,
		},
		GPU: GPU{
			DeviceIndex:      0,
			VRAMBudgetMB:     0,
			IdleEvictSeconds: defaultIdleEvictSeconds,
			LoadTimeout:      defaultLoadTimeout,
			VRAMEstimatesMB:  defaultVRAMEstimatesMB(),
		},
		Models: Models{
			SeparationVariant:    defaultSeparationVariant,
			TranscriptionVariant: defaultTranscriptionVariant,
		},
		Tools: Tools{
			FFmpeg:    defaultFFmpegBinary,
			FFprobe:   defaultFFprobeBinary,
			Demucs:    defaultDemucsBinary,
			UVX:       defaultUVXBinary,
			NvidiaSMI: defaultNvidiaSMIBinary,
		},
		API: API{
			Bind:        defaultAPIBind,
			MaxUploadMB: defaultMaxUploadMB,
			EnableCORS:  true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobCompleted:   true,
			JobFailed:      true,
		},
	}
}
