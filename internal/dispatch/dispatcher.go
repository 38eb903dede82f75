package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dashwatch/internal/eligibility"
	"dashwatch/internal/logging"
	"dashwatch/internal/services"
)

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the maximum number of concurrently running jobs.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize bounds the number of pending jobs.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithVerifier re-checks eligibility right before launch.
func WithVerifier(v Verifier) Option {
	return func(d *Dispatcher) { d.verifier = v }
}

// WithRecorder persists running and terminal transitions.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithOnFinish registers a callback invoked after every terminal transition.
func WithOnFinish(fn func(Job)) Option {
	return func(d *Dispatcher) { d.onFinish = fn }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.NewComponentLogger(logger, "dispatch") }
}

type entry struct {
	job       Job
	cancel    context.CancelFunc
	cancelled bool
}

// Dispatcher deduplicates, queues and runs jobs.
type Dispatcher struct {
	runner    Runner
	verifier  Verifier
	recorder  Recorder
	onFinish  func(Job)
	logger    *slog.Logger
	workers   int
	queueSize int
	queue     chan *entry
	now       func() time.Time

	mu       sync.Mutex
	active   map[string]*entry
	finished map[string]Job
	running  bool
	stopping bool

	loopCancel context.CancelFunc
	jobCancel  context.CancelFunc
	wg         sync.WaitGroup
}

// New constructs a Dispatcher that executes jobs with runner.
func New(runner Runner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runner:    runner,
		logger:    logging.NewComponentLogger(nil, "dispatch"),
		workers:   1,
		queueSize: 256,
		now:       time.Now,
		active:    make(map[string]*entry),
		finished:  make(map[string]Job),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan *entry, d.queueSize)
	return d
}

// Start launches the worker pool. Cancelling ctx stops intake of new jobs;
// running jobs are only interrupted by Stop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("dispatcher already running")
	}
	if d.stopping {
		return ErrStopped
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	jobCtx, jobCancel := context.WithCancel(context.WithoutCancel(ctx))
	d.loopCancel = loopCancel
	d.jobCancel = jobCancel
	d.running = true

	d.wg.Add(d.workers)
	for range d.workers {
		go d.work(loopCtx, jobCtx)
	}
	d.logger.Info("dispatcher started",
		logging.Int("workers", d.workers),
		logging.Int("queue_size", d.queueSize),
		logging.String(logging.FieldEventType, "dispatcher_started"),
	)
	return nil
}

// Stop stops intake, lets running jobs finish for up to grace, then cancels
// them and waits for every worker to exit. Pending jobs are abandoned; their
// sources are untouched and will be picked up on the next start.
func (d *Dispatcher) Stop(grace time.Duration) {
	d.mu.Lock()
	if !d.running || d.stopping {
		d.stopping = true
		d.mu.Unlock()
		return
	}
	d.stopping = true
	loopCancel, jobCancel := d.loopCancel, d.jobCancel
	running := d.countLocked(StateRunning)
	d.mu.Unlock()

	loopCancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	if running > 0 && grace > 0 {
		d.logger.Info("waiting for running jobs",
			logging.Int("running", running),
			logging.Duration("grace", grace),
			logging.String(logging.FieldEventType, "dispatcher_draining"),
		)
		select {
		case <-done:
		case <-time.After(grace):
		}
	}
	jobCancel()
	<-done

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	d.logger.Info("dispatcher stopped", logging.String(logging.FieldEventType, "dispatcher_stopped"))
}

// Submit enqueues a job for path unless one is already pending or running.
// It never blocks.
func (d *Dispatcher) Submit(path string) (Job, error) {
	path = filepath.Clean(path)

	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		return Job{}, ErrStopped
	}
	if existing, ok := d.active[path]; ok {
		job := existing.job
		d.mu.Unlock()
		return job, ErrDuplicate
	}
	if prev, ok := d.finished[path]; ok {
		if prev.State == StateFailed && dirExists(prev.OutputDir) {
			d.mu.Unlock()
			return prev, ErrPreviouslyFailed
		}
		delete(d.finished, path)
	}
	outDir := eligibility.OutputDir(path)
	if owner, ok := d.outputOwnerLocked(path, outDir); ok {
		d.mu.Unlock()
		return owner, ErrOutputBusy
	}

	e := &entry{job: Job{
		ID:        uuid.NewString(),
		Source:    path,
		OutputDir: outDir,
		State:     StatePending,
		CreatedAt: d.now(),
		ExitCode:  -1,
	}}
	select {
	case d.queue <- e:
	default:
		d.mu.Unlock()
		return e.job, ErrQueueFull
	}
	d.active[path] = e
	job := e.job
	queued := len(d.queue)
	d.mu.Unlock()

	d.jobLogger(job).Info("job queued",
		logging.String(logging.FieldState, string(job.State)),
		logging.Int("queue_depth", queued),
		logging.String(logging.FieldEventType, "job_state"),
	)
	return job, nil
}

// Forget handles a source that was removed or renamed away: a pending job is
// dropped, a running job is cancelled, and any terminal record is cleared so a
// re-introduced file is processed again.
func (d *Dispatcher) Forget(path string) {
	path = filepath.Clean(path)

	d.mu.Lock()
	delete(d.finished, path)
	e, ok := d.active[path]
	if !ok {
		d.mu.Unlock()
		return
	}
	e.cancelled = true
	job := e.job
	switch job.State {
	case StatePending:
		delete(d.active, path)
	case StateRunning:
		if e.cancel != nil {
			e.cancel()
		}
	}
	d.mu.Unlock()

	d.jobLogger(job).Info("job superseded; source removed",
		logging.String(logging.FieldState, string(job.State)),
		logging.String(logging.FieldEventType, "job_superseded"),
	)
}

// Seed restores failed jobs from a previous run so their sources are not
// retried while the failed output directory remains.
func (d *Dispatcher) Seed(jobs []Job) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	seeded := 0
	for _, job := range jobs {
		if job.State != StateFailed || job.Source == "" {
			continue
		}
		if _, ok := d.active[job.Source]; ok {
			continue
		}
		if _, ok := d.finished[job.Source]; ok {
			continue
		}
		d.finished[job.Source] = job
		seeded++
	}
	return seeded
}

// Lookup returns the most recent job for path.
func (d *Dispatcher) Lookup(path string) (Job, bool) {
	path = filepath.Clean(path)
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.active[path]; ok {
		return e.job, true
	}
	job, ok := d.finished[path]
	return job, ok
}

// Jobs returns a snapshot of all known jobs ordered by creation time.
func (d *Dispatcher) Jobs() []Job {
	d.mu.Lock()
	jobs := make([]Job, 0, len(d.active)+len(d.finished))
	for _, e := range d.active {
		jobs = append(jobs, e.job)
	}
	for _, job := range d.finished {
		jobs = append(jobs, job)
	}
	d.mu.Unlock()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// Running returns the number of jobs currently running.
func (d *Dispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.countLocked(StateRunning)
}

// Stats counts known jobs per state.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	var stats Stats
	for _, e := range d.active {
		switch e.job.State {
		case StatePending:
			stats.Pending++
		case StateRunning:
			stats.Running++
		}
	}
	for _, job := range d.finished {
		switch job.State {
		case StateSucceeded:
			stats.Succeeded++
		case StateFailed:
			stats.Failed++
		}
	}
	return stats
}

// outputOwnerLocked finds another source's job that holds outDir: one that
// is pending or running, or a failure whose output directory is still on disk.
func (d *Dispatcher) outputOwnerLocked(source, outDir string) (Job, bool) {
	for other, e := range d.active {
		if other != source && e.job.OutputDir == outDir {
			return e.job, true
		}
	}
	for other, job := range d.finished {
		if other != source && job.OutputDir == outDir && job.State == StateFailed && dirExists(outDir) {
			return job, true
		}
	}
	return Job{}, false
}

func (d *Dispatcher) countLocked(state State) int {
	n := 0
	for _, e := range d.active {
		if e.job.State == state {
			n++
		}
	}
	return n
}

func (d *Dispatcher) work(loopCtx, jobCtx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-loopCtx.Done():
			return
		case e := <-d.queue:
			if loopCtx.Err() != nil {
				return
			}
			d.process(jobCtx, e)
		}
	}
}

func (d *Dispatcher) process(jobCtx context.Context, e *entry) {
	d.mu.Lock()
	if e.cancelled {
		d.mu.Unlock()
		return
	}
	source := e.job.Source
	d.mu.Unlock()

	if d.verifier != nil && !d.verifier.Eligible(source) {
		d.mu.Lock()
		if d.active[source] == e {
			delete(d.active, source)
		}
		job := e.job
		d.mu.Unlock()
		d.jobLogger(job).Info("job dropped; source no longer eligible",
			logging.String(logging.FieldEventType, "job_dropped"),
		)
		return
	}

	ctx, cancel := context.WithCancel(jobCtx)
	defer cancel()

	d.mu.Lock()
	if e.cancelled {
		d.mu.Unlock()
		return
	}
	e.job.State = StateRunning
	e.job.StartedAt = d.now()
	e.cancel = cancel
	job := e.job
	d.mu.Unlock()

	logger := d.jobLogger(job)
	logger.Info("job started",
		logging.String(logging.FieldState, string(job.State)),
		logging.String("output_dir", job.OutputDir),
		logging.String(logging.FieldEventType, "job_state"),
	)
	d.record(job)

	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithSource(ctx, job.Source)
	outcome, err := d.runner.Run(ctx, job)
	if err == nil && ctx.Err() != nil {
		err = services.Wrap(services.ErrCancelled, "dispatch", "run", "job interrupted", ctx.Err())
	}

	d.mu.Lock()
	e.job.FinishedAt = d.now()
	e.job.ExitCode = outcome.ExitCode
	e.job.StderrTail = outcome.StderrTail
	if err != nil {
		e.job.State = StateFailed
		e.job.ErrorKind = services.Kind(err)
		e.job.ErrorMessage = err.Error()
	} else {
		e.job.State = StateSucceeded
	}
	e.cancel = nil
	if d.active[source] == e {
		delete(d.active, source)
	}
	if !e.cancelled {
		d.finished[source] = e.job
	}
	final := e.job
	d.mu.Unlock()

	d.logFinished(logger, final, err)
	d.record(final)
	if d.onFinish != nil {
		d.onFinish(final)
	}
}

func (d *Dispatcher) logFinished(logger *slog.Logger, job Job, err error) {
	if err == nil {
		logger.Info("job succeeded",
			logging.String(logging.FieldState, string(job.State)),
			logging.Duration("duration", job.Duration()),
			logging.String("output_dir", job.OutputDir),
			logging.String(logging.FieldEventType, "job_state"),
		)
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldState, string(job.State)),
		logging.String(logging.FieldErrorKind, job.ErrorKind),
		logging.Duration("duration", job.Duration()),
		logging.Int("exit_code", job.ExitCode),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, hintFor(job.ErrorKind)),
	}
	if job.StderrTail != "" {
		attrs = append(attrs, logging.String("stderr_tail", job.StderrTail))
	}
	logging.ErrorWithContext(logger, "job failed", "job_state", attrs...)
}

func (d *Dispatcher) record(job Job) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.recorder.Record(ctx, job); err != nil {
		logging.WarnWithContext(d.jobLogger(job), "job ledger write failed", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state_dir permissions and free space"),
			logging.String(logging.FieldImpact, "job history is incomplete; encoding continues"),
		)
	}
}

func (d *Dispatcher) jobLogger(job Job) *slog.Logger {
	return d.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldSource, job.Source),
	)
}

func hintFor(kind string) string {
	switch kind {
	case services.KindToolLaunch:
		return "check FFMPEG_PATH and that the encoder is installed and executable"
	case services.KindToolTimeout:
		return "raise JOB_TIMEOUT_SECONDS or inspect the source file"
	case services.KindToolExit:
		return "inspect transcode.log in the output directory; delete the directory to retry"
	case services.KindOutputIncomplete:
		return "encoder exited cleanly without a manifest; delete the output directory to retry"
	case services.KindIO:
		return "check permissions and free space in the watch folder"
	case services.KindCancelled:
		return "job was interrupted; it will be retried on the next start"
	default:
		return "check logs for details"
	}
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
