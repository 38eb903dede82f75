// Package stability debounces filesystem activity per path and reports a
// file once its size and modification time stop changing.
package stability

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dashwatch/internal/logging"
)

// Fingerprint is the observable identity of a file's content at an instant.
type Fingerprint struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Equal compares size and modification time of two snapshots of one path.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Path == other.Path && f.Size == other.Size && f.ModTime.Equal(other.ModTime)
}

// StatFunc snapshots a path.
type StatFunc func(path string) (Fingerprint, error)

// Snapshot is the default StatFunc, following symlinks.
func Snapshot(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Path: path, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Option customizes a Detector.
type Option func(*Detector)

// WithStat replaces the snapshot function.
func WithStat(fn StatFunc) Option {
	return func(d *Detector) {
		if fn != nil {
			d.stat = fn
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		d.logger = logging.NewComponentLogger(logger, "stability")
	}
}

type pending struct {
	fingerprint Fingerprint
	timer       *time.Timer
	generation  uint64
}

// Detector tracks one debounce timer per path. A path fires onStable at most
// once per quiet period: further events re-arm its timer instead of starting
// a parallel one.
type Detector struct {
	window   time.Duration
	onStable func(path string)
	stat     StatFunc
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pending
	stopped bool
}

// New returns a Detector that calls onStable from a timer goroutine once a
// path has been quiet for window.
func New(window time.Duration, onStable func(path string), opts ...Option) *Detector {
	d := &Detector{
		window:   window,
		onStable: onStable,
		stat:     Snapshot,
		logger:   logging.NewNop(),
		pending:  make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Observe records activity on path and (re)starts its debounce timer. A path
// that no longer exists drops any pending state.
func (d *Detector) Observe(path string) {
	path = filepath.Clean(path)
	fp, err := d.stat(path)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if err != nil {
		d.discardLocked(path)
		if !errors.Is(err, fs.ErrNotExist) {
			d.logger.Debug("snapshot failed; candidate dropped", logging.String(logging.FieldSource, path), logging.Error(err))
		}
		return
	}
	d.armLocked(path, fp)
}

// Forget drops pending state for path, e.g. after it was deleted or renamed away.
func (d *Detector) Forget(path string) {
	path = filepath.Clean(path)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discardLocked(path)
}

// Pending returns how many paths are waiting to settle.
func (d *Detector) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending timer. Later Observe calls are ignored.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for path, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, path)
	}
}

func (d *Detector) armLocked(path string, fp Fingerprint) {
	entry, ok := d.pending[path]
	if !ok {
		entry = &pending{}
		d.pending[path] = entry
	} else {
		entry.timer.Stop()
	}
	entry.generation++
	entry.fingerprint = fp
	gen := entry.generation
	entry.timer = time.AfterFunc(d.window, func() { d.fire(path, gen) })
}

func (d *Detector) discardLocked(path string) {
	if entry, ok := d.pending[path]; ok {
		entry.timer.Stop()
		delete(d.pending, path)
	}
}

func (d *Detector) fire(path string, generation uint64) {
	d.mu.Lock()
	entry, ok := d.pending[path]
	if d.stopped || !ok || entry.generation != generation {
		d.mu.Unlock()
		return
	}

	current, err := d.stat(path)
	if err != nil {
		delete(d.pending, path)
		d.mu.Unlock()
		d.logger.Debug("candidate vanished before settling", logging.String(logging.FieldSource, path))
		return
	}
	if !current.Equal(entry.fingerprint) {
		// Grew without a notification reaching us; wait another window.
		d.armLocked(path, current)
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	d.mu.Unlock()

	d.logger.Debug("candidate stable",
		logging.String(logging.FieldSource, path),
		logging.Int64("size_bytes", current.Size),
	)
	if d.onStable != nil {
		d.onStable(path)
	}
}
