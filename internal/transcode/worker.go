package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dashwatch/internal/dispatch"
	"dashwatch/internal/eligibility"
	"dashwatch/internal/logging"
	"dashwatch/internal/services"
)

// LogFileName is the stderr capture written into each output directory.
const LogFileName = "transcode.log"

const defaultTailBytes = 4096

// Option customizes a Worker.
type Option func(*Worker)

// WithSpawner replaces the process launcher.
func WithSpawner(s Spawner) Option {
	return func(w *Worker) {
		if s != nil {
			w.spawner = s
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logging.NewComponentLogger(logger, "transcode") }
}

// Worker runs one ffmpeg process per job. It implements dispatch.Runner.
type Worker struct {
	params    Params
	spawner   Spawner
	logger    *slog.Logger
	tailBytes int
}

// NewWorker constructs a Worker.
func NewWorker(params Params, opts ...Option) *Worker {
	w := &Worker{
		params:    params,
		spawner:   ExecSpawner{},
		logger:    logging.NewComponentLogger(nil, "transcode"),
		tailBytes: defaultTailBytes,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

var _ dispatch.Runner = (*Worker)(nil)

// Run encodes job.Source into job.OutputDir.
func (w *Worker) Run(ctx context.Context, job dispatch.Job) (dispatch.Outcome, error) {
	outcome := dispatch.Outcome{ExitCode: -1}
	logger := logging.WithContext(ctx, w.logger)
	outDir := job.OutputDir
	if outDir == "" {
		outDir = eligibility.OutputDir(job.Source)
	}

	if !ownOutputDir(job.Source, outDir) {
		return outcome, services.Wrap(services.ErrIO, "transcode", "prepare output",
			outDir+" is not a subdirectory next to "+job.Source, nil)
	}
	if err := prepareOutputDir(outDir); err != nil {
		return outcome, err
	}

	logFile, err := os.Create(filepath.Join(outDir, LogFileName))
	if err != nil {
		return outcome, services.Wrap(services.ErrIO, "transcode", "create log", outDir, err)
	}
	defer logFile.Close()

	tail := newTailBuffer(w.tailBytes)
	args := BuildArgs(job.Source, outDir, w.params)
	logger.Debug("launching encoder",
		logging.String("binary", w.params.Binary),
		logging.String("args", strings.Join(args, " ")),
	)

	handle, err := w.spawner.Spawn(w.params.Binary, args, io.MultiWriter(logFile, tail))
	if err != nil {
		fmt.Fprintf(logFile, "launch %s: %v\n", w.params.Binary, err)
		return outcome, services.Wrap(services.ErrToolLaunch, "transcode", "spawn", w.params.Binary, err)
	}
	logger.Info("encoder started",
		logging.Int("pid", handle.Pid()),
		logging.String("output_dir", outDir),
		logging.String(logging.FieldEventType, "encoder_started"),
	)

	status, waitErr := handle.Wait(ctx, w.params.Timeout)
	outcome.ExitCode = status.Code
	outcome.StderrTail = tail.String()

	switch {
	case status.Cancelled:
		return outcome, services.Wrap(services.ErrCancelled, "transcode", "wait", "encoder killed", ctx.Err())
	case status.TimedOut:
		return outcome, services.Wrap(services.ErrToolTimeout, "transcode", "wait",
			fmt.Sprintf("encoder exceeded %s", w.params.Timeout), nil)
	case waitErr != nil:
		return outcome, services.Wrap(services.ErrToolExit, "transcode", "wait", "", waitErr)
	case status.Code != 0:
		return outcome, services.Wrap(services.ErrToolExit, "transcode", "wait",
			fmt.Sprintf("exit status %d", status.Code), nil)
	}

	layout, err := Inspect(outDir)
	if err != nil {
		return outcome, services.Wrap(services.ErrIO, "transcode", "inspect output", outDir, err)
	}
	if !layout.Manifest {
		return outcome, services.Wrap(services.ErrOutputIncomplete, "transcode", "verify",
			eligibility.ManifestName+" missing after clean exit", nil)
	}

	_ = logFile.Close()
	if err := os.Remove(logFile.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debug("remove transcode log failed", logging.Error(err))
	}
	logger.Info("dash output written",
		logging.String("output_dir", outDir),
		logging.Int("streams", layout.Streams()),
		logging.Int("segments", layout.TotalChunks()),
		logging.String(logging.FieldEventType, "encoder_finished"),
	)
	return outcome, nil
}

// ownOutputDir reports whether outDir is a direct child of the source's
// folder. Anything else (the folder itself, a parent, a sibling tree) must
// never be cleared.
func ownOutputDir(source, outDir string) bool {
	outDir = filepath.Clean(outDir)
	parent := filepath.Dir(filepath.Clean(source))
	return filepath.Dir(outDir) == parent && eligibility.ValidStem(filepath.Base(outDir))
}

// prepareOutputDir clears leftovers of an interrupted run. A directory that
// already holds a manifest, or a non-directory at the output path, is never
// touched.
func prepareOutputDir(dir string) error {
	info, err := os.Lstat(dir)
	switch {
	case err == nil && !info.IsDir():
		return services.Wrap(services.ErrIO, "transcode", "prepare output", dir+" exists and is not a directory", nil)
	case err == nil:
		if _, statErr := os.Stat(eligibility.ManifestPath(dir)); statErr == nil {
			return services.Wrap(services.ErrIO, "transcode", "prepare output", dir+" already holds a manifest", nil)
		}
		if err := os.RemoveAll(dir); err != nil {
			return services.Wrap(services.ErrIO, "transcode", "clear partial output", dir, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return services.Wrap(services.ErrIO, "transcode", "stat output", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return services.Wrap(services.ErrIO, "transcode", "create output", dir, err)
	}
	return nil
}
