package transcode_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"dashwatch/internal/dispatch"
	"dashwatch/internal/eligibility"
	"dashwatch/internal/services"
	"dashwatch/internal/testsupport"
	"dashwatch/internal/transcode"
)

func newJob(source string) dispatch.Job {
	return dispatch.Job{ID: "job-1", Source: source, OutputDir: eligibility.OutputDir(source)}
}

func params(binary string) transcode.Params {
	return transcode.Params{
		Binary:          binary,
		Preset:          "veryfast",
		CRF:             23,
		AudioBitrate:    "128k",
		SegmentDuration: 4,
		Timeout:         10 * time.Second,
	}
}

func TestBuildArgs(t *testing.T) {
	got := transcode.BuildArgs("/watch/in.mp4", "/watch/in", transcode.Params{
		Preset: "medium", CRF: 23, AudioBitrate: "128k", SegmentDuration: 4,
	})
	want := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", "/watch/in.mp4",
		"-c:v", "libx264", "-preset", "medium", "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-f", "dash", "-seg_duration", "4",
		"-use_template", "1", "-use_timeline", "1",
		"-init_seg_name", "init-stream$RepresentationID$.m4s",
		"-media_seg_name", "chunk-stream$RepresentationID$-$Number%05d$.m4s",
		"/watch/in/manifest.mpd",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildArgs mismatch\n got: %v\nwant: %v", got, want)
	}
}

func TestRunProducesDashLayout(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := testsupport.WriteFakeFFmpeg(t, filepath.Join(dir, "bin"), testsupport.FFmpegSucceeds)
	source := filepath.Join(dir, "sample.mp4")
	testsupport.WriteFile(t, source, 2048)

	outDir := filepath.Join(dir, "sample")
	testsupport.WriteFile(t, filepath.Join(outDir, "chunk-stream0-00099.m4s"), 10)

	worker := transcode.NewWorker(params(ffmpeg))
	outcome, err := worker.Run(context.Background(), newJob(source))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d", outcome.ExitCode)
	}

	for _, name := range []string{"manifest.mpd", "init-stream0.m4s", "init-stream1.m4s", "chunk-stream0-00001.m4s", "chunk-stream1-00002.m4s"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Fatalf("expected %s in output: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, "chunk-stream0-00099.m4s")); !os.IsNotExist(err) {
		t.Fatal("expected partial leftovers to be cleared before encoding")
	}
	if _, err := os.Stat(filepath.Join(outDir, transcode.LogFileName)); !os.IsNotExist(err) {
		t.Fatal("expected transcode log removed after success")
	}

	layout, err := transcode.Inspect(outDir)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !layout.Manifest || layout.Streams() != 2 || layout.TotalChunks() != 4 {
		t.Fatalf("unexpected layout %+v", layout)
	}

	args := testsupport.LastArgs(t, ffmpeg)
	if args[len(args)-1] != filepath.Join(outDir, "manifest.mpd") {
		t.Fatalf("unexpected manifest argument %q", args[len(args)-1])
	}
}

func TestRunZeroByteSourceFails(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := testsupport.WriteFakeFFmpeg(t, filepath.Join(dir, "bin"), testsupport.FFmpegSucceeds)
	source := filepath.Join(dir, "broken.mp4")
	if err := os.WriteFile(source, nil, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	outcome, err := transcode.NewWorker(params(ffmpeg)).Run(context.Background(), newJob(source))
	if !errors.Is(err, services.ErrToolExit) {
		t.Fatalf("expected ErrToolExit, got %v", err)
	}
	if outcome.ExitCode != 1 {
		t.Fatalf("unexpected exit code %d", outcome.ExitCode)
	}
	if !strings.Contains(outcome.StderrTail, "Invalid data found") {
		t.Fatalf("expected stderr tail, got %q", outcome.StderrTail)
	}

	outDir := filepath.Join(dir, "broken")
	entries, err := os.ReadDir(outDir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected non-empty failed output directory, err=%v", err)
	}
	if eligibility.AlreadyProcessed(source) {
		t.Fatal("failed output must not carry a manifest")
	}
	logData, err := os.ReadFile(filepath.Join(outDir, transcode.LogFileName))
	if err != nil || !strings.Contains(string(logData), "Invalid data found") {
		t.Fatalf("expected stderr captured in transcode log, got %q err=%v", logData, err)
	}
}

func TestRunClassifiesFailures(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		timeout time.Duration
		want    error
	}{
		{"non-zero exit", testsupport.FFmpegFails, 10 * time.Second, services.ErrToolExit},
		{"clean exit without manifest", testsupport.FFmpegNoManifest, 10 * time.Second, services.ErrOutputIncomplete},
		{"timeout", testsupport.FFmpegHangs, 200 * time.Millisecond, services.ErrToolTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			ffmpeg := testsupport.WriteFakeFFmpeg(t, filepath.Join(dir, "bin"), tt.script)
			source := filepath.Join(dir, "clip.mkv")
			testsupport.WriteFile(t, source, 64)

			p := params(ffmpeg)
			p.Timeout = tt.timeout
			start := time.Now()
			_, err := transcode.NewWorker(p).Run(context.Background(), newJob(source))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if elapsed := time.Since(start); elapsed > 8*time.Second {
				t.Fatalf("run took %s", elapsed)
			}
			if eligibility.AlreadyProcessed(source) {
				t.Fatal("failed run must not produce a manifest")
			}
		})
	}
}

func TestRunLaunchFailure(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "clip.mp4")
	testsupport.WriteFile(t, source, 64)

	_, err := transcode.NewWorker(params(filepath.Join(dir, "missing-ffmpeg"))).Run(context.Background(), newJob(source))
	if !errors.Is(err, services.ErrToolLaunch) {
		t.Fatalf("expected ErrToolLaunch, got %v", err)
	}
	if !services.Alerting(err) {
		t.Fatal("expected launch failure to be alerting")
	}
}

func TestRunCancelledKillsEncoder(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := testsupport.WriteFakeFFmpeg(t, filepath.Join(dir, "bin"), testsupport.FFmpegHangs)
	source := filepath.Join(dir, "clip.mp4")
	testsupport.WriteFile(t, source, 64)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	start := time.Now()
	_, err := transcode.NewWorker(params(ffmpeg)).Run(ctx, newJob(source))
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation took %s", elapsed)
	}
}

func TestRunRefusesCompletedOrBlockedOutput(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := testsupport.WriteFakeFFmpeg(t, filepath.Join(dir, "bin"), testsupport.FFmpegSucceeds)

	done := filepath.Join(dir, "done.mp4")
	testsupport.WriteFile(t, done, 64)
	testsupport.WriteFile(t, filepath.Join(dir, "done", "manifest.mpd"), 10)
	if _, err := transcode.NewWorker(params(ffmpeg)).Run(context.Background(), newJob(done)); !errors.Is(err, services.ErrIO) {
		t.Fatalf("expected ErrIO for completed output, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "done", "manifest.mpd")); err != nil {
		t.Fatal("completed output must be left untouched")
	}

	blocked := filepath.Join(dir, "blocked.mp4")
	testsupport.WriteFile(t, blocked, 64)
	testsupport.WriteFile(t, filepath.Join(dir, "blocked"), 10)
	if _, err := transcode.NewWorker(params(ffmpeg)).Run(context.Background(), newJob(blocked)); !errors.Is(err, services.ErrIO) {
		t.Fatalf("expected ErrIO for file at output path, got %v", err)
	}
}

func TestRunNeverClearsWatchFolder(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := testsupport.WriteFakeFFmpeg(t, filepath.Join(t.TempDir(), "bin"), testsupport.FFmpegSucceeds)
	keep := filepath.Join(dir, "holiday.mkv")
	testsupport.WriteFile(t, keep, 128)

	bare := filepath.Join(dir, ".mp4")
	testsupport.WriteFile(t, bare, 64)
	if _, err := transcode.NewWorker(params(ffmpeg)).Run(context.Background(), newJob(bare)); !errors.Is(err, services.ErrIO) {
		t.Fatalf("expected ErrIO for extension-only name, got %v", err)
	}

	source := filepath.Join(dir, "clip.mp4")
	testsupport.WriteFile(t, source, 64)
	for _, outDir := range []string{dir, filepath.Dir(dir), filepath.Join(dir, "."), filepath.Join(dir, "nested", "clip")} {
		job := dispatch.Job{ID: "job-1", Source: source, OutputDir: outDir}
		if _, err := transcode.NewWorker(params(ffmpeg)).Run(context.Background(), job); !errors.Is(err, services.ErrIO) {
			t.Fatalf("expected ErrIO for output dir %s, got %v", outDir, err)
		}
	}

	for _, path := range []string{keep, bare, source} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("%s removed: %v", path, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "nested")); !os.IsNotExist(err) {
		t.Fatalf("unexpected nested output dir: %v", err)
	}
}

type fakeSpawner struct {
	name string
	args []string
}

func (f *fakeSpawner) Spawn(name string, args []string, stderr io.Writer) (transcode.Handle, error) {
	f.name = name
	f.args = args
	_, _ = io.WriteString(stderr, "fake encoder\n")
	manifest := args[len(args)-1]
	if err := os.WriteFile(manifest, []byte("<MPD/>"), 0o644); err != nil {
		return nil, err
	}
	return fakeHandle{}, nil
}

type fakeHandle struct{}

func (fakeHandle) Pid() int { return 4242 }

func (fakeHandle) Wait(context.Context, time.Duration) (transcode.ExitStatus, error) {
	return transcode.ExitStatus{Code: 0}, nil
}

func (fakeHandle) Kill() error { return nil }

func TestRunUsesInjectedSpawner(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "My Movie.mov")
	testsupport.WriteFile(t, source, 64)

	spawner := &fakeSpawner{}
	worker := transcode.NewWorker(params("/usr/bin/ffmpeg"), transcode.WithSpawner(spawner))
	if _, err := worker.Run(context.Background(), dispatch.Job{Source: source}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if spawner.name != "/usr/bin/ffmpeg" {
		t.Fatalf("unexpected binary %q", spawner.name)
	}
	if !eligibility.AlreadyProcessed(source) {
		t.Fatal("expected manifest in derived output directory")
	}
	if spawner.args[4] != source {
		t.Fatalf("expected input path argument, got %v", spawner.args)
	}
}
