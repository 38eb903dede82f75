package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"dashwatch/internal/config"
	"dashwatch/internal/dispatch"
	"dashwatch/internal/eligibility"
	"dashwatch/internal/ledger"
	"dashwatch/internal/logging"
	"dashwatch/internal/notifications"
	"dashwatch/internal/preflight"
	"dashwatch/internal/services"
	"dashwatch/internal/transcode"
	"dashwatch/internal/watch"
)

const notifyTimeout = 15 * time.Second

// ErrAlreadyRunning is returned when another daemon holds the state lock.
var ErrAlreadyRunning = errors.New("another dashwatch daemon instance is already running")

// Option customizes a Daemon.
type Option func(*Daemon)

// WithRunner replaces the ffmpeg worker.
func WithRunner(r dispatch.Runner) Option {
	return func(d *Daemon) {
		if r != nil {
			d.runner = r
		}
	}
}

// Daemon owns the watch loop and dispatcher for one watch folder.
type Daemon struct {
	cfg      *config.Config
	base     *slog.Logger
	logger   *slog.Logger
	store    *ledger.Store
	notifier notifications.Service
	runner   dispatch.Runner
	filter   *eligibility.Filter

	lockPath string
	lock     *flock.Flock

	mu         sync.Mutex
	dispatcher *dispatch.Dispatcher
	loop       *watch.Loop
	loopCancel context.CancelFunc
	loopDone   chan error
	startedAt  time.Time

	running       atomic.Bool
	notifyWG      sync.WaitGroup
	launchFailMu  sync.Mutex
	launchFailRun int
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	StartedAt    time.Time
	WatchFolder  string
	Settling     int
	Stats        dispatch.Stats
	Jobs         []dispatch.Job
	LedgerPath   string
	LockFilePath string
}

// New constructs a daemon. store may be nil, in which case job history is not
// persisted.
func New(cfg *config.Config, store *ledger.Store, logger *slog.Logger, notifier notifications.Service, opts ...Option) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	d := &Daemon{
		cfg:      cfg,
		base:     logger,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		notifier: notifier,
		filter:   eligibility.New(cfg.Watch.Folder, cfg.Watch.Extensions),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.runner = transcode.NewWorker(transcode.ParamsFromConfig(cfg), transcode.WithLogger(logger))
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the daemon lock, restores failed jobs from the ledger and
// begins watching.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return services.Wrap(services.ErrIO, "daemon", "ensure directories", "", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	if err := d.ensureWatchFolder(); err != nil {
		_ = d.lock.Unlock()
		return err
	}
	d.runPreflight(ctx)

	dispatchOpts := []dispatch.Option{
		dispatch.WithWorkers(d.cfg.Jobs.MaxConcurrent),
		dispatch.WithQueueSize(d.cfg.Jobs.QueueSize),
		dispatch.WithVerifier(d.filter),
		dispatch.WithOnFinish(d.onJobFinished),
		dispatch.WithLogger(d.base),
	}
	if d.store != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithRecorder(d.store))
	}
	dispatcher := dispatch.New(d.runner, dispatchOpts...)
	d.seedFromLedger(ctx, dispatcher)

	if err := dispatcher.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start dispatcher: %w", err)
	}

	loop := watch.New(d.filter, dispatcher, d.cfg.DebounceWindow(),
		watch.WithRescanInterval(d.cfg.RescanInterval()),
		watch.WithLogger(d.base),
	)
	loopCtx, loopCancel := context.WithCancel(ctx)
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- loop.Run(loopCtx)
	}()

	select {
	case <-loop.Ready():
	case err := <-loopDone:
		loopCancel()
		dispatcher.Stop(0)
		_ = d.lock.Unlock()
		if err == nil {
			err = context.Cause(ctx)
		}
		return fmt.Errorf("start watch loop: %w", err)
	}

	d.mu.Lock()
	d.dispatcher = dispatcher
	d.loop = loop
	d.loopCancel = loopCancel
	d.loopDone = loopDone
	d.startedAt = time.Now()
	d.mu.Unlock()

	d.running.Store(true)
	d.logger.Info("dashwatch daemon started",
		logging.String("lock", d.lockPath),
		logging.String("watch_folder", d.filter.Root()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops watching, drains running jobs for the configured grace period
// and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	dispatcher, loopCancel, loopDone := d.dispatcher, d.loopCancel, d.loopDone
	d.mu.Unlock()

	if loopCancel != nil {
		loopCancel()
		if err := <-loopDone; err != nil {
			d.logger.Warn("watch loop exited with error", logging.Error(err))
		}
	}
	if dispatcher != nil {
		dispatcher.Stop(d.cfg.ShutdownGrace())
	}
	d.notifyWG.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("dashwatch daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and closes the ledger.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		WatchFolder:  d.filter.Root(),
		LockFilePath: d.lockPath,
	}
	if d.store != nil {
		status.LedgerPath = d.store.Path()
	}
	d.mu.Lock()
	dispatcher, loop := d.dispatcher, d.loop
	status.StartedAt = d.startedAt
	d.mu.Unlock()
	if dispatcher != nil {
		status.Stats = dispatcher.Stats()
		status.Jobs = dispatcher.Jobs()
	}
	if loop != nil {
		status.Settling = loop.Pending()
	}
	return status
}

// InstanceRunning reports whether another process holds the daemon lock for
// cfg's state directory.
func InstanceRunning(cfg *config.Config) (bool, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

func (d *Daemon) ensureWatchFolder() error {
	folder := d.filter.Root()
	info, err := os.Stat(folder)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return services.Wrap(services.ErrConfigInvalid, "daemon", "watch folder", folder+" is not a directory", nil)
	case !errors.Is(err, os.ErrNotExist):
		return services.Wrap(services.ErrIO, "daemon", "watch folder", folder, err)
	case !d.cfg.Watch.CreateMissing:
		return services.Wrap(services.ErrConfigInvalid, "daemon", "watch folder", folder+" does not exist", err)
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return services.Wrap(services.ErrIO, "daemon", "create watch folder", folder, err)
	}
	logging.WarnWithContext(d.logger, "watch folder did not exist; created it", "watch_folder_created",
		logging.String("watch_folder", folder),
		logging.String(logging.FieldErrorHint, "verify WATCH_FOLDER points at the intended directory"),
		logging.String(logging.FieldImpact, "the folder starts empty"),
	)
	return nil
}

func (d *Daemon) runPreflight(ctx context.Context) {
	for _, result := range preflight.RunAll(ctx, d.cfg) {
		if result.Passed {
			d.logger.Debug("preflight passed", logging.String("check", result.Name), logging.String("detail", result.Detail))
			continue
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported path before files arrive"),
			logging.String(logging.FieldImpact, "jobs may fail with io_error"),
		)
	}
	for _, status := range preflight.CheckSystemDeps(d.cfg) {
		if status.Available {
			continue
		}
		logging.WarnWithContext(d.logger, "encoder not found", "dependency_missing",
			logging.String("dependency", status.Name),
			logging.String("command", status.Command),
			logging.String("detail", status.Detail),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set FFMPEG_PATH"),
			logging.String(logging.FieldImpact, "jobs will fail with tool_launch_failed"),
		)
	}
}

func (d *Daemon) seedFromLedger(ctx context.Context, dispatcher *dispatch.Dispatcher) {
	if d.store == nil {
		return
	}
	if reset, err := d.store.ResetInterrupted(ctx); err != nil {
		d.logger.Warn("reset interrupted jobs failed", logging.Error(err))
	} else if reset > 0 {
		d.logger.Info("interrupted jobs marked for retry", logging.Int64("count", reset))
	}
	failed, err := d.store.FailedJobs(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "load failed jobs from ledger", "ledger_read_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the ledger database under state_dir"),
			logging.String(logging.FieldImpact, "previously failed sources may be retried"),
		)
		return
	}
	if seeded := dispatcher.Seed(failed); seeded > 0 {
		d.logger.Info("restored failed jobs from ledger",
			logging.Int("count", seeded),
			logging.String(logging.FieldEventType, "ledger_seeded"),
		)
	}
}

func (d *Daemon) onJobFinished(job dispatch.Job) {
	d.trackLaunchFailures(job)
	switch {
	case job.State == dispatch.StateSucceeded:
		d.notify(job, d.notifier.NotifyJobSucceeded)
	case job.ErrorKind != services.KindCancelled:
		d.notify(job, d.notifier.NotifyJobFailed)
	}
}

func (d *Daemon) trackLaunchFailures(job dispatch.Job) {
	d.launchFailMu.Lock()
	if job.ErrorKind != services.KindToolLaunch {
		if job.ErrorKind != services.KindCancelled {
			d.launchFailRun = 0
		}
		d.launchFailMu.Unlock()
		return
	}
	d.launchFailRun++
	consecutive := d.launchFailRun
	d.launchFailMu.Unlock()

	if consecutive != d.cfg.Jobs.ToolAlertThreshold {
		return
	}
	binary := d.cfg.FFmpegBinary()
	logging.ErrorWithContext(d.logger, "encoder unavailable", "tool_unavailable",
		logging.Alert("tool_unavailable"),
		logging.String("binary", binary),
		logging.Int("consecutive_failures", consecutive),
		logging.String(logging.FieldErrorHint, "install ffmpeg or fix FFMPEG_PATH; new files keep failing until then"),
		logging.String(logging.FieldImpact, "no files can be encoded"),
	)
	cause := errors.New(job.ErrorMessage)
	d.notifyWG.Add(1)
	go func() {
		defer d.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := d.notifier.NotifyToolUnavailable(ctx, binary, consecutive, cause); err != nil {
			d.logger.Warn("tool alert notification failed", logging.Error(err))
		}
	}()
}

func (d *Daemon) notify(job dispatch.Job, send func(context.Context, dispatch.Job) error) {
	d.notifyWG.Add(1)
	go func() {
		defer d.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := send(ctx, job); err != nil {
			d.logger.Warn("notification failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
		}
	}()
}
