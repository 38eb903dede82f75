package config

const (
	defaultWatchFolder           = "/var/watch/videos"
	defaultFFmpegPath            = "ffmpeg"
	defaultPreset                = "medium"
	defaultCRF                   = 23
	defaultAudioBitrate          = "128k"
	defaultSegmentDuration       = 4
	defaultDebounceSeconds       = 3
	defaultRescanIntervalSeconds = 0
	defaultMaxConcurrent         = 1
	defaultQueueSize             = 256
	defaultJobTimeoutSeconds     = 6 * 60 * 60
	defaultShutdownGraceSeconds  = 30
	defaultToolAlertThreshold    = 3
	defaultStateDir              = "~/.local/share/dashwatch"
	defaultLogDirName            = "logs"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	defaultNotifyRequestTimeout  = 10
)

var defaultExtensions = []string{"mp4", "avi", "mkv", "mov", "wmv", "flv"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Watch: Watch{
			Folder:                defaultWatchFolder,
			Extensions:            append([]string(nil), defaultExtensions...),
			DebounceSeconds:       defaultDebounceSeconds,
			RescanIntervalSeconds: defaultRescanIntervalSeconds,
			CreateMissing:         true,
		},
		Encoding: Encoding{
			FFmpegPath:      defaultFFmpegPath,
			Preset:          defaultPreset,
			CRF:             defaultCRF,
			AudioBitrate:    defaultAudioBitrate,
			SegmentDuration: defaultSegmentDuration,
		},
		Jobs: Jobs{
			MaxConcurrent:        defaultMaxConcurrent,
			QueueSize:            defaultQueueSize,
			TimeoutSeconds:       defaultJobTimeoutSeconds,
			ShutdownGraceSeconds: defaultShutdownGraceSeconds,
			ToolAlertThreshold:   defaultToolAlertThreshold,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Failures:       true,
		},
	}
}
