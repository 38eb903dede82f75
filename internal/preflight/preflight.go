package preflight

import (
	"context"

	"dashwatch/internal/config"
	"dashwatch/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// MinFreeBytes is the free space below which the watch folder check fails.
const MinFreeBytes uint64 = 1 << 30

// RunAll executes the directory checks for cfg.
func RunAll(_ context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckDirectoryAccess("Watch folder", cfg.Watch.Folder),
		CheckFreeSpace("Watch folder space", cfg.Watch.Folder, MinFreeBytes),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
}

// CheckSystemDeps evaluates the external binaries for cfg. Both the daemon and
// the CLI status command use it.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return []deps.Status{deps.CheckFFmpeg(cfg.FFmpegBinary())}
}
