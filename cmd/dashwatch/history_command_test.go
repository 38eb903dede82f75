package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dashwatch/internal/dispatch"
	"dashwatch/internal/testsupport"
)

func seedHistory(t *testing.T, env *cliTestEnv) {
	t.Helper()
	store := testsupport.MustOpenLedger(t, env.cfg)
	base := time.Now().Add(-time.Hour)
	jobs := []dispatch.Job{
		{
			ID:         "job-ok",
			Source:     filepath.Join(env.cfg.Watch.Folder, "good.mp4"),
			OutputDir:  filepath.Join(env.cfg.Watch.Folder, "good"),
			State:      dispatch.StateSucceeded,
			CreatedAt:  base,
			StartedAt:  base.Add(time.Second),
			FinishedAt: base.Add(91 * time.Second),
		},
		{
			ID:           "job-bad",
			Source:       filepath.Join(env.cfg.Watch.Folder, "bad.mp4"),
			OutputDir:    filepath.Join(env.cfg.Watch.Folder, "bad"),
			State:        dispatch.StateFailed,
			CreatedAt:    base.Add(time.Minute),
			StartedAt:    base.Add(time.Minute),
			FinishedAt:   base.Add(2 * time.Minute),
			ErrorKind:    "tool_exit_nonzero",
			ErrorMessage: "ffmpeg exited with status 1",
			ExitCode:     1,
		},
	}
	for _, job := range jobs {
		if err := store.Record(context.Background(), job); err != nil {
			t.Fatalf("record %s: %v", job.ID, err)
		}
	}
}

func TestHistoryListsJobs(t *testing.T) {
	env := setupCLITestEnv(t)
	seedHistory(t, env)

	out, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "good.mp4")
	requireContains(t, out, "bad.mp4")
	requireContains(t, out, "Succeeded")
	requireContains(t, out, "tool_exit_nonzero")
	requireContains(t, out, "1m30s")
	if strings.Index(out, "bad.mp4") > strings.Index(out, "good.mp4") {
		t.Fatalf("expected newest job first:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"history", "--failed"}, env.configPath)
	if err != nil {
		t.Fatalf("history --failed: %v", err)
	}
	if strings.Contains(out, "good.mp4") {
		t.Fatalf("--failed listed a succeeded job:\n%s", out)
	}
	requireContains(t, out, "bad.mp4")
}

func TestHistoryJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	seedHistory(t, env)

	out, _, err := runCLI(t, []string{"history", "--json", "--limit", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	var entries []historyEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if len(entries) != 1 {
		t.Fatalf("expected limit to apply, got %d entries", len(entries))
	}
	if entries[0].ID != "job-bad" || entries[0].ExitCode != 1 || entries[0].State != "failed" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestHistoryClear(t *testing.T) {
	env := setupCLITestEnv(t)
	seedHistory(t, env)

	out, _, err := runCLI(t, []string{"history", "clear"}, env.configPath)
	if err != nil {
		t.Fatalf("history clear: %v", err)
	}
	requireContains(t, out, "Removed 1 job(s)")

	out, _, err = runCLI(t, []string{"history", "--failed"}, env.configPath)
	if err != nil {
		t.Fatalf("history --failed: %v", err)
	}
	requireContains(t, out, "No jobs recorded")

	out, _, err = runCLI(t, []string{"history", "clear", "--all"}, env.configPath)
	if err != nil {
		t.Fatalf("history clear --all: %v", err)
	}
	requireContains(t, out, "Removed 1 job(s)")
}
