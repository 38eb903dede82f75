package config

import (
	"strconv"
	"strings"
)

// Environment variables honoured by Load. Names match the deployment units the
// watcher has always been configured with.
const (
	EnvWatchFolder     = "WATCH_FOLDER"
	EnvExtensions      = "VIDEO_EXTENSIONS"
	EnvFFmpegPath      = "FFMPEG_PATH"
	EnvSegmentDuration = "SEGMENT_DURATION"
	EnvPreset          = "FFMPEG_PRESET"
	EnvCRF             = "FFMPEG_CRF"
	EnvAudioBitrate    = "AUDIO_BITRATE"
	EnvMaxConcurrent   = "MAX_CONCURRENT_JOBS"
	EnvQueueSize       = "QUEUE_SIZE"
	EnvDebounce        = "DEBOUNCE_SECONDS"
	EnvRescanInterval  = "RESCAN_INTERVAL_SECONDS"
	EnvJobTimeout      = "JOB_TIMEOUT_SECONDS"
	EnvShutdownGrace   = "SHUTDOWN_GRACE_SECONDS"
	EnvStateDir        = "STATE_DIR"
	EnvLogDir          = "LOG_DIR"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
	EnvLogRetention    = "LOG_RETENTION_DAYS"
	EnvNtfyTopic       = "NTFY_TOPIC"
)

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := []struct {
		key string
		dst *string
	}{
		{EnvWatchFolder, &c.Watch.Folder},
		{EnvFFmpegPath, &c.Encoding.FFmpegPath},
		{EnvPreset, &c.Encoding.Preset},
		{EnvAudioBitrate, &c.Encoding.AudioBitrate},
		{EnvStateDir, &c.Paths.StateDir},
		{EnvLogDir, &c.Paths.LogDir},
		{EnvLogLevel, &c.Logging.Level},
		{EnvLogFormat, &c.Logging.Format},
		{EnvNtfyTopic, &c.Notifications.NtfyTopic},
	}
	for _, s := range strs {
		if value, ok := lookup(s.key); ok {
			*s.dst = strings.TrimSpace(value)
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvSegmentDuration, &c.Encoding.SegmentDuration},
		{EnvCRF, &c.Encoding.CRF},
		{EnvMaxConcurrent, &c.Jobs.MaxConcurrent},
		{EnvQueueSize, &c.Jobs.QueueSize},
		{EnvDebounce, &c.Watch.DebounceSeconds},
		{EnvRescanInterval, &c.Watch.RescanIntervalSeconds},
		{EnvJobTimeout, &c.Jobs.TimeoutSeconds},
		{EnvShutdownGrace, &c.Jobs.ShutdownGraceSeconds},
		{EnvLogRetention, &c.Logging.RetentionDays},
	}
	for _, i := range ints {
		value, ok := lookup(i.key)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return invalid("%s: %q is not an integer", i.key, value)
		}
		*i.dst = parsed
	}

	if value, ok := lookup(EnvExtensions); ok {
		c.Watch.Extensions = strings.Split(value, ",")
	}
	return nil
}
