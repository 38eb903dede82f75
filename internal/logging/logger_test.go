package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dashwatch/internal/config"
	"dashwatch/internal/logging"
	"dashwatch/internal/services"
)

func newFileLogger(t *testing.T, opts logging.Options) (*slog.Logger, func() string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	opts.OutputPaths = []string{path}
	opts.ErrorOutputPaths = []string{path}
	logger, err := logging.New(opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	read := func() string {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		return string(data)
	}
	return logger, read
}

func TestOptionsFromConfigWritesRunLog(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "warn"
	logPath := filepath.Join(t.TempDir(), "logs", "run.log")

	opts := logging.OptionsFromConfig(&cfg, logPath)
	if opts.Level != "warn" || len(opts.OutputPaths) != 2 {
		t.Fatalf("unexpected options %+v", opts)
	}
	opts.Level = "info"
	logger, err := logging.New(opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("hello")
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logger, read := newFileLogger(t, logging.Options{Format: "console", Level: "info"})
	logger.Info("message without caller")

	if content := read(); strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logger, read := newFileLogger(t, logging.Options{Format: "console", Level: "debug"})
	logger.Info("message with caller")

	if content := read(); !strings.Contains(content, ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerFormatsSubjectAndFields(t *testing.T) {
	logger, read := newFileLogger(t, logging.Options{Format: "console", Level: "info"})
	logging.NewComponentLogger(logger, "dispatch").Info("job finished",
		logging.String(logging.FieldJobID, "0123456789abcdef"),
		logging.String(logging.FieldSource, "/watch/movie.mp4"),
		logging.Int("exit_code", 0),
		logging.String(logging.FieldEventType, "job_state"),
	)

	content := read()
	for _, fragment := range []string{"INFO [dispatch]", "Job 01234567", "movie.mp4", "job finished", "- event_type: job_state", "- exit_code: 0"} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %q in %q", fragment, content)
		}
	}
	if strings.Index(content, "event_type") > strings.Index(content, "exit_code") {
		t.Fatalf("expected highlighted event_type before exit_code, got %q", content)
	}
}

func TestConsoleLoggerOmitsTimestampUnderJournal(t *testing.T) {
	logger, read := newFileLogger(t, logging.Options{Format: "console", Level: "info", OmitTimestamp: true})
	logger.Warn("journald line")

	content := read()
	if !strings.HasPrefix(content, "WARN") {
		t.Fatalf("expected line to start with level, got %q", content)
	}
}

func TestUnderJournal(t *testing.T) {
	t.Setenv("JOURNAL_STREAM", "8:12345")
	if !logging.UnderJournal() {
		t.Fatal("expected journal detection")
	}
	t.Setenv("JOURNAL_STREAM", "")
	if logging.UnderJournal() {
		t.Fatal("expected no journal detection")
	}
}

func TestJSONLoggerRenamesKeys(t *testing.T) {
	logger, read := newFileLogger(t, logging.Options{Format: "json", Level: "info"})
	logger.Info("json message", logging.String("k", "v"))

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(read())), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "k"} {
		if _, ok := record[key]; !ok {
			t.Fatalf("expected key %q in %v", key, record)
		}
	}
	if record["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", record["level"])
	}
}

func TestJSONLoggerReportsCallerAtDebug(t *testing.T) {
	logger, read := newFileLogger(t, logging.Options{Format: "json", Level: "debug"})
	logger.Debug("json debug")

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(read())), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	caller, _ := record["caller"].(string)
	if !strings.HasPrefix(caller, "logger_test.go:") {
		t.Fatalf("expected caller file:line, got %v", record)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	logger, read := newFileLogger(t, logging.Options{Format: "json", Level: "info"})

	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-123")
	ctx = services.WithSource(ctx, "/watch/a.mkv")
	ctx = services.WithRequestID(ctx, "req-xyz")
	logging.WithContext(ctx, logger).Info("contextual log")

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(read())), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	want := map[string]string{
		logging.FieldJobID:         "job-123",
		logging.FieldSource:        "/watch/a.mkv",
		logging.FieldCorrelationID: "req-xyz",
	}
	for key, value := range want {
		if record[key] != value {
			t.Fatalf("field %s = %v, want %q", key, record[key], value)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logger, read := newFileLogger(t, logging.Options{Format: "json", Level: "info"})
	logging.WarnWithContext(logger, "careful", "disk_low", logging.Error(errors.New("boom")))

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(read())), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if record[logging.FieldEventType] != "disk_low" {
		t.Fatalf("unexpected event type %v", record[logging.FieldEventType])
	}
	if record[logging.FieldErrorHint] == nil || record[logging.FieldImpact] == nil {
		t.Fatalf("expected hint and impact defaults, got %v", record)
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "dashwatch-old.log")
	current := filepath.Join(dir, "dashwatch-current.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, current, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -40)
	for _, path := range []string{old, current, other} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	pruned := logging.CleanupOldLogs(logging.NewNop(), 30,
		logging.RetentionTarget{Dir: dir, Pattern: "dashwatch-*.log", Exclude: []string{current}})
	if pruned != 1 {
		t.Fatalf("expected 1 pruned file, got %d", pruned)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, err=%v", err)
	}
	for _, path := range []string{current, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
	if logging.CleanupOldLogs(nil, 0, logging.RetentionTarget{Dir: dir}) != 0 {
		t.Fatal("expected retention 0 to disable pruning")
	}
}

func TestUpdateLogPointer(t *testing.T) {
	dir := t.TempDir()
	target := logging.RunLogPath(dir, "20260101T000000.000Z")
	if err := os.WriteFile(target, []byte("run"), 0o644); err != nil {
		t.Fatalf("write target: %v", err)
	}
	for range 2 {
		if err := logging.UpdateLogPointer(dir, target); err != nil {
			t.Fatalf("UpdateLogPointer: %v", err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "dashwatch.log"))
	if err != nil || string(data) != "run" {
		t.Fatalf("pointer does not resolve to target: %q %v", data, err)
	}
}
