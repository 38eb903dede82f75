package watch

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dashwatch/internal/dispatch"
	"dashwatch/internal/eligibility"
	"dashwatch/internal/logging"
	"dashwatch/internal/services"
	"dashwatch/internal/stability"
)

// Sink receives settled candidates. *dispatch.Dispatcher satisfies it.
type Sink interface {
	Submit(path string) (dispatch.Job, error)
	Forget(path string)
}

// Option customizes a Loop.
type Option func(*Loop)

// WithRescanInterval re-reads the folder periodically. Zero disables it.
func WithRescanInterval(interval time.Duration) Option {
	return func(l *Loop) {
		if interval > 0 {
			l.rescan = interval
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logging.NewComponentLogger(logger, "watch") }
}

// WithStabilityOptions forwards options to the loop's stability detector.
func WithStabilityOptions(opts ...stability.Option) Option {
	return func(l *Loop) { l.stabilityOpts = append(l.stabilityOpts, opts...) }
}

// Loop watches one folder.
type Loop struct {
	filter        *eligibility.Filter
	sink          Sink
	window        time.Duration
	rescan        time.Duration
	logger        *slog.Logger
	stabilityOpts []stability.Option

	detector  *stability.Detector
	ready     chan struct{}
	readyOnce sync.Once
}

// New constructs a Loop that waits window of quiet before submitting a path.
func New(filter *eligibility.Filter, sink Sink, window time.Duration, opts ...Option) *Loop {
	l := &Loop{
		filter: filter,
		sink:   sink,
		window: window,
		logger: logging.NewComponentLogger(nil, "watch"),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	detectorOpts := append([]stability.Option{stability.WithLogger(l.logger)}, l.stabilityOpts...)
	l.detector = stability.New(window, l.handleStable, detectorOpts...)
	return l
}

// Ready is closed once the watch is registered and the startup scan has run.
func (l *Loop) Ready() <-chan struct{} {
	return l.ready
}

// Pending returns how many paths are still settling.
func (l *Loop) Pending() int {
	return l.detector.Pending()
}

// Run watches until ctx is cancelled. It fails only when the watch cannot be
// established.
func (l *Loop) Run(ctx context.Context) error {
	root := l.filter.Root()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return services.Wrap(services.ErrIO, "watch", "create watcher", root, err)
	}
	defer watcher.Close()
	defer l.detector.Stop()

	if err := watcher.Add(root); err != nil {
		return services.Wrap(services.ErrIO, "watch", "add watch", root, err)
	}
	l.logger.Info("watching folder",
		logging.String("folder", root),
		logging.Duration("debounce", l.window),
		logging.Duration("rescan_interval", l.rescan),
		logging.String(logging.FieldEventType, "watch_started"),
	)
	l.scan("startup")
	l.readyOnce.Do(func() { close(l.ready) })

	var rescan <-chan time.Time
	if l.rescan > 0 {
		ticker := time.NewTicker(l.rescan)
		defer ticker.Stop()
		rescan = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("watch stopped", logging.String(logging.FieldEventType, "watch_stopped"))
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			l.handleEvent(event)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(l.logger, "watcher error", "watch_error",
				logging.Error(werr),
				logging.String(logging.FieldErrorHint, "events may have been missed; the folder will be rescanned"),
				logging.String(logging.FieldImpact, "new files may be picked up late"),
			)
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				l.scan("overflow")
			}
		case <-rescan:
			l.scan("periodic")
		}
	}
}

func (l *Loop) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if filepath.Dir(path) != l.filter.Root() {
		return
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		l.detector.Forget(path)
		l.sink.Forget(path)
		l.logger.Debug("candidate removed",
			logging.String(logging.FieldSource, path),
			logging.String("op", event.Op.String()),
		)
		return
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Chmod) {
		return
	}
	if !l.filter.HasAllowedExtension(path) {
		return
	}
	l.detector.Observe(path)
}

func (l *Loop) scan(trigger string) {
	decisions, err := ScanFolder(l.filter)
	if err != nil {
		logging.WarnWithContext(l.logger, "folder scan failed", "watch_scan_failed",
			logging.String("trigger", trigger),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the watch folder exists and is readable"),
			logging.String(logging.FieldImpact, "existing files were not considered"),
		)
		return
	}
	observed := 0
	for _, decision := range decisions {
		if !decision.Eligible {
			continue
		}
		l.detector.Observe(decision.Path)
		observed++
	}
	l.logger.Debug("folder scanned",
		logging.String("trigger", trigger),
		logging.Int("candidates", len(decisions)),
		logging.Int("observed", observed),
	)
}

func (l *Loop) handleStable(path string) {
	decision := l.filter.Check(path)
	logger := l.logger.With(logging.String(logging.FieldSource, path))
	if !decision.Eligible {
		logger.Debug("candidate skipped",
			logging.String("reason", string(decision.Reason)),
			logging.String(logging.FieldEventType, "candidate_skipped"),
		)
		return
	}

	job, err := l.sink.Submit(path)
	switch {
	case err == nil:
		logger.Info("candidate submitted",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldEventType, "candidate_submitted"),
		)
	case errors.Is(err, dispatch.ErrDuplicate):
		logger.Debug("candidate already queued",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldEventType, "candidate_duplicate"),
		)
	case errors.Is(err, dispatch.ErrPreviouslyFailed):
		logger.Info("candidate skipped; previous attempt failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("output_dir", job.OutputDir),
			logging.String(logging.FieldErrorHint, "delete the output directory to retry"),
			logging.String(logging.FieldEventType, "candidate_previously_failed"),
		)
	case errors.Is(err, dispatch.ErrOutputBusy):
		logging.WarnWithContext(logger, "candidate skipped; output directory in use", "candidate_output_busy",
			logging.String("output_dir", job.OutputDir),
			logging.String("owner", job.Source),
			logging.String(logging.FieldErrorHint, "rename one of the sources so their names differ"),
			logging.String(logging.FieldImpact, "file is not encoded while the other source owns the directory"),
		)
	case errors.Is(err, dispatch.ErrStopped):
		logger.Debug("candidate ignored during shutdown", logging.String(logging.FieldEventType, "candidate_ignored"))
	default:
		logging.WarnWithContext(logger, "candidate not submitted", "candidate_rejected",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise QUEUE_SIZE or MAX_CONCURRENT_JOBS"),
			logging.String(logging.FieldImpact, "file will be retried on its next change or rescan"),
		)
	}
}
