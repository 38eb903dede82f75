package config

import (
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if strings.TrimSpace(c.Watch.Folder) != "" {
		if c.Watch.Folder, err = expandPath(strings.TrimSpace(c.Watch.Folder)); err != nil {
			return invalid("watch.folder: %v", err)
		}
	}
	c.Watch.Extensions = NormalizeExtensions(c.Watch.Extensions)

	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return invalid("paths.state_dir: %v", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, defaultLogDirName)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return invalid("paths.log_dir: %v", err)
	}

	c.Encoding.FFmpegPath = strings.TrimSpace(c.Encoding.FFmpegPath)
	c.Encoding.Preset = strings.ToLower(strings.TrimSpace(c.Encoding.Preset))
	c.Encoding.AudioBitrate = strings.TrimSpace(c.Encoding.AudioBitrate)

	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	if c.Jobs.ToolAlertThreshold <= 0 {
		c.Jobs.ToolAlertThreshold = defaultToolAlertThreshold
	}
	return nil
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

// NormalizeExtensions lowercases, trims, strips leading dots and dedupes the
// configured extension list, preserving order.
func NormalizeExtensions(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		ext := strings.ToLower(strings.TrimSpace(value))
		ext = strings.TrimLeft(ext, ".")
		if ext == "" {
			continue
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}
