package main

import (
	"bytes"
	"strings"
	"testing"

	"dashwatch/internal/deps"
	"dashwatch/internal/dispatch"
	"dashwatch/internal/preflight"
)

func TestFormatStatus(t *testing.T) {
	line := formatStatus("Daemon", levelOK, "Running")
	if !strings.HasPrefix(line, "  Daemon:") || !strings.HasSuffix(line, "[OK] Running") {
		t.Fatalf("unexpected line %q", line)
	}
	if got := formatStatus("Daemon", levelError, ""); !strings.HasSuffix(got, "[ERROR]") {
		t.Fatalf("expected bare tag, got %q", got)
	}
}

func TestStatusReportSections(t *testing.T) {
	report := &statusReport{colorize: false}
	report.section("Dependencies")
	report.dependency(deps.Status{Name: "FFmpeg", Command: "/usr/bin/ffmpeg", Available: true})
	report.dependency(deps.Status{Name: "ffprobe", Optional: true, Detail: "not found"})
	report.section("Preflight")
	report.check(preflight.Result{Name: "Watch folder", Passed: false, Detail: "not writable"})
	report.section("Jobs")
	report.jobCount(dispatch.StateFailed, 2)

	want := strings.Join([]string{
		"Dependencies",
		"============",
		formatStatus("FFmpeg", levelOK, "/usr/bin/ffmpeg"),
		formatStatus("ffprobe", levelWarn, "not found"),
		"",
		"Preflight",
		"=========",
		formatStatus("Watch folder", levelError, "not writable"),
		"",
		"Jobs",
		"====",
		formatStatus("Failed", levelError, "2"),
	}, "\n")
	if got := report.String(); got != want {
		t.Fatalf("report mismatch\n got:\n%s\nwant:\n%s", got, want)
	}
}

func TestStatusReportColorsByLevel(t *testing.T) {
	report := &statusReport{colorize: true}
	report.add("Daemon", levelError, "")
	got := report.String()
	if !strings.HasPrefix(got, levelStyles[levelError].color) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected red colouring, got %q", got)
	}
}

func TestStateLabel(t *testing.T) {
	cases := map[dispatch.State]string{
		dispatch.StatePending:   "Pending",
		dispatch.StateSucceeded: "Succeeded",
		dispatch.StateFailed:    "Failed",
	}
	for state, want := range cases {
		if got := stateLabel(state); got != want {
			t.Fatalf("stateLabel(%q) = %q, want %q", state, got, want)
		}
	}
}

func TestReportNotColorizedForBuffers(t *testing.T) {
	if newStatusReport(&bytes.Buffer{}).colorize {
		t.Fatal("buffers must not be colorized")
	}
}
