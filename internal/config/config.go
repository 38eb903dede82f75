package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"dashwatch/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Watch describes the monitored folder and how candidates are detected.
type Watch struct {
	Folder                string   `toml:"folder"`
	Extensions            []string `toml:"extensions"`
	DebounceSeconds       int      `toml:"debounce_seconds"`
	RescanIntervalSeconds int      `toml:"rescan_interval_seconds"`
	CreateMissing         bool     `toml:"create_missing"`
}

// Encoding holds the ffmpeg DASH transcode parameters.
type Encoding struct {
	FFmpegPath      string `toml:"ffmpeg_path"`
	Preset          string `toml:"preset"`
	CRF             int    `toml:"crf"`
	AudioBitrate    string `toml:"audio_bitrate"`
	SegmentDuration int    `toml:"segment_duration"`
}

// Jobs bounds dispatch concurrency and per-job runtime.
type Jobs struct {
	MaxConcurrent        int `toml:"max_concurrent"`
	QueueSize            int `toml:"queue_size"`
	TimeoutSeconds       int `toml:"timeout_seconds"`
	ShutdownGraceSeconds int `toml:"shutdown_grace_seconds"`
	ToolAlertThreshold   int `toml:"tool_alert_threshold"`
}

// Paths contains daemon state locations. The watch folder lives in Watch.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Success        bool   `toml:"success"`
	Failures       bool   `toml:"failures"`
}

// Config encapsulates all configuration values for dashwatch.
type Config struct {
	Watch         Watch         `toml:"watch"`
	Encoding      Encoding      `toml:"encoding"`
	Jobs          Jobs          `toml:"jobs"`
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/dashwatch/config.toml")
}

// Load locates and parses an optional configuration file, applies environment
// overrides, and validates the result. Every failure wraps services.ErrConfigInvalid.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("DASHWATCH_CONFIG"))
	}
	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, invalid("%v", err)
	}

	if exists {
		if err := decodeFile(resolvedPath, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return invalid("open config: %v", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return invalid("parse config %s: %s", path, strict.String())
		}
		return invalid("parse config %s: %v", path, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("dashwatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories. The watch folder
// is handled by the daemon so a missing mount is reported, not papered over.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DebounceWindow is how long a file must stay unchanged before it is stable.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Watch.DebounceSeconds) * time.Second
}

// RescanInterval returns the periodic rescan period; zero disables rescans.
func (c *Config) RescanInterval() time.Duration {
	return time.Duration(c.Watch.RescanIntervalSeconds) * time.Second
}

// JobTimeout bounds a single encoding run.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutSeconds) * time.Second
}

// ShutdownGrace is how long running jobs may continue after a stop request.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Jobs.ShutdownGraceSeconds) * time.Second
}

// LedgerPath returns the job history database location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "dashwatch.lock")
}

// FFmpegBinary returns the configured encoder executable.
func (c *Config) FFmpegBinary() string {
	return c.Encoding.FFmpegPath
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", services.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
