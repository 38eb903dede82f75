package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"dashwatch/internal/config"
	"dashwatch/internal/daemon"
	"dashwatch/internal/deps"
	"dashwatch/internal/ledger"
	"dashwatch/internal/logging"
	"dashwatch/internal/notifications"
)

// PIDFileName is written to the state directory while the daemon runs.
const PIDFileName = "dashwatch.pid"

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the daemon and blocks until cmdCtx is cancelled or SIGINT/SIGTERM
// arrives. Running jobs get the configured grace period before being killed.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := logging.RunLogPath(cfg.Paths.LogDir, runID)

	logOpts := logging.OptionsFromConfig(cfg, logPath)
	if strings.TrimSpace(opts.LogLevel) != "" {
		logOpts.Level = opts.LogLevel
	}
	logOpts.Development = opts.Development
	logger, err := logging.New(logOpts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := logging.UpdateLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update dashwatch.log link: %v\n", err)
	}
	if pruned := logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "dashwatch-*.log", Exclude: []string{logPath}},
	); pruned > 0 {
		logger.Debug("pruned old run logs", logging.Int("count", pruned))
	}

	logStartupBanner(logger, cfg, runID, logPath)
	logDependencySnapshot(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, PIDFileName)
	if running, lockErr := daemon.InstanceRunning(cfg); lockErr == nil && running {
		return daemon.ErrAlreadyRunning
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := ledger.Open(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "job ledger unavailable", "ledger_open_failed",
			logging.Error(err),
			logging.String("ledger", cfg.LedgerPath()),
			logging.String(logging.FieldErrorHint, ledgerHint(err)),
			logging.String(logging.FieldImpact, "job history is not recorded; failed sources may be retried after restart"),
		)
		store = nil
	}

	d, err := daemon.New(cfg, store, logger, notifications.NewService(cfg))
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the watch folder and that no other instance is running"),
			logging.String(logging.FieldImpact, "no files will be encoded"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("dashwatch daemon shutting down",
		logging.Duration("grace", cfg.ShutdownGrace()),
		logging.String(logging.FieldEventType, "daemon_shutdown"),
	)
	return nil
}

func ledgerHint(err error) string {
	if errors.Is(err, ledger.ErrSchemaMismatch) {
		return "delete the ledger file under state_dir to reset job history"
	}
	return "check state_dir permissions and free space"
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logStartupBanner(logger *slog.Logger, cfg *config.Config, runID, logPath string) {
	logger.Info("dashwatch starting",
		logging.String(logging.FieldEventType, "startup_banner"),
		logging.String("run_id", runID),
		logging.String("watch_folder", cfg.Watch.Folder),
		logging.Strings("extensions", cfg.Watch.Extensions),
		logging.Duration("debounce", cfg.DebounceWindow()),
		logging.String("preset", cfg.Encoding.Preset),
		logging.Int("crf", cfg.Encoding.CRF),
		logging.String("audio_bitrate", cfg.Encoding.AudioBitrate),
		logging.Int("segment_duration", cfg.Encoding.SegmentDuration),
		logging.Int("max_concurrent_jobs", cfg.Jobs.MaxConcurrent),
		logging.Duration("job_timeout", cfg.JobTimeout()),
		logging.String("log_file", logPath),
	)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	status := deps.CheckFFmpeg(cfg.FFmpegBinary())
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("ffmpeg_available", status.Available),
		logging.String("ffmpeg_binary", status.Command),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	}
	if status.Available {
		if version, err := deps.FFmpegVersion(ctx, status.Command); err == nil {
			attrs = append(attrs, logging.String("ffmpeg_version", version))
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
