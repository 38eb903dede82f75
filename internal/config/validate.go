package config

import (
	"math"
	"regexp"
	"strings"
	"time"
)

var validPresets = map[string]struct{}{
	"ultrafast": {},
	"superfast": {},
	"veryfast":  {},
	"faster":    {},
	"fast":      {},
	"medium":    {},
	"slow":      {},
	"slower":    {},
	"veryslow":  {},
	"placebo":   {},
}

var bitratePattern = regexp.MustCompile(`^[1-9][0-9]*[kKmM]?$`)

// maxSeconds is the largest second count a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWatch(); err != nil {
		return err
	}
	if err := c.validateEncoding(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateWatch() error {
	if strings.TrimSpace(c.Watch.Folder) == "" {
		return invalid("watch.folder must be set (WATCH_FOLDER)")
	}
	if len(c.Watch.Extensions) == 0 {
		return invalid("watch.extensions must list at least one extension (VIDEO_EXTENSIONS)")
	}
	if c.Watch.DebounceSeconds <= 0 {
		return invalid("watch.debounce_seconds must be positive")
	}
	if c.Watch.RescanIntervalSeconds < 0 {
		return invalid("watch.rescan_interval_seconds must be zero or positive")
	}
	if err := checkSeconds("watch.debounce_seconds", c.Watch.DebounceSeconds); err != nil {
		return err
	}
	if err := checkSeconds("watch.rescan_interval_seconds", c.Watch.RescanIntervalSeconds); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEncoding() error {
	if c.Encoding.FFmpegPath == "" {
		return invalid("encoding.ffmpeg_path must be set (FFMPEG_PATH)")
	}
	if _, ok := validPresets[c.Encoding.Preset]; !ok {
		return invalid("encoding.preset %q is not a libx264 preset", c.Encoding.Preset)
	}
	if c.Encoding.CRF < 0 || c.Encoding.CRF > 51 {
		return invalid("encoding.crf must be between 0 and 51, got %d", c.Encoding.CRF)
	}
	if !bitratePattern.MatchString(c.Encoding.AudioBitrate) {
		return invalid("encoding.audio_bitrate %q must look like 128k", c.Encoding.AudioBitrate)
	}
	if c.Encoding.SegmentDuration <= 0 {
		return invalid("encoding.segment_duration must be positive")
	}
	return nil
}

func (c *Config) validateJobs() error {
	if c.Jobs.MaxConcurrent <= 0 {
		return invalid("jobs.max_concurrent must be positive")
	}
	if c.Jobs.QueueSize <= 0 {
		return invalid("jobs.queue_size must be positive")
	}
	if c.Jobs.TimeoutSeconds <= 0 {
		return invalid("jobs.timeout_seconds must be positive")
	}
	if c.Jobs.ShutdownGraceSeconds < 0 {
		return invalid("jobs.shutdown_grace_seconds must be zero or positive")
	}
	if err := checkSeconds("jobs.timeout_seconds", c.Jobs.TimeoutSeconds); err != nil {
		return err
	}
	return checkSeconds("jobs.shutdown_grace_seconds", c.Jobs.ShutdownGraceSeconds)
}

func checkSeconds(key string, seconds int) error {
	if int64(seconds) > maxSeconds {
		return invalid("%s must be at most %d, got %d", key, maxSeconds, seconds)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return invalid("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return invalid("logging.retention_days must be zero or positive")
	}
	return nil
}
