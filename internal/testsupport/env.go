package testsupport

import (
	"os"
	"testing"

	"dashwatch/internal/config"
)

// IsolateEnv points HOME at a fresh temp directory and clears every
// environment override config.Load honours. It returns the new HOME.
func IsolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"DASHWATCH_CONFIG",
		config.EnvWatchFolder, config.EnvExtensions, config.EnvFFmpegPath,
		config.EnvSegmentDuration, config.EnvPreset, config.EnvCRF,
		config.EnvAudioBitrate, config.EnvMaxConcurrent, config.EnvQueueSize,
		config.EnvDebounce, config.EnvRescanInterval, config.EnvJobTimeout,
		config.EnvShutdownGrace, config.EnvStateDir, config.EnvLogDir,
		config.EnvLogLevel, config.EnvLogFormat, config.EnvLogRetention,
		config.EnvNtfyTopic,
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return home
}
