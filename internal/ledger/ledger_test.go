package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"dashwatch/internal/dispatch"
	"dashwatch/internal/ledger"
	"dashwatch/internal/services"
	"dashwatch/internal/testsupport"
)

func job(id, source string, state dispatch.State, created time.Time) dispatch.Job {
	return dispatch.Job{
		ID:        id,
		Source:    source,
		OutputDir: source[:len(source)-len(filepath.Ext(source))],
		State:     state,
		CreatedAt: created,
	}
}

func TestRecordUpsertsByID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	created := time.Now().Add(-time.Minute)
	j := job("a", "/watch/a.mp4", dispatch.StatePending, created)
	if err := store.Record(ctx, j); err != nil {
		t.Fatalf("Record pending: %v", err)
	}

	j.State = dispatch.StateFailed
	j.StartedAt = created.Add(time.Second)
	j.FinishedAt = created.Add(5 * time.Second)
	j.ErrorKind = services.KindToolExit
	j.ErrorMessage = "exit status 1"
	j.ExitCode = 1
	j.StderrTail = "Invalid data found when processing input"
	if err := store.Record(ctx, j); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected job to be stored")
	}
	if got.State != dispatch.StateFailed || got.ExitCode != 1 || got.ErrorKind != services.KindToolExit {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.CreatedAt.Equal(created) || got.Duration() != 4*time.Second {
		t.Fatalf("timestamps not preserved: %+v", got)
	}

	all, err := store.List(ctx, ledger.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected a single row per job id, got %d", len(all))
	}

	missing, err := store.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown id, got %+v err=%v", missing, err)
	}
}

func TestRecordRequiresID(t *testing.T) {
	store := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	if err := store.Record(context.Background(), dispatch.Job{Source: "/watch/a.mp4"}); err == nil {
		t.Fatal("expected error for job without id")
	}
}

func TestListFiltersAndLimits(t *testing.T) {
	store := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	records := []dispatch.Job{
		job("1", "/watch/one.mp4", dispatch.StateSucceeded, base),
		job("2", "/watch/two.mp4", dispatch.StateFailed, base.Add(time.Minute)),
		job("3", "/watch/three.mp4", dispatch.StateSucceeded, base.Add(2*time.Minute)),
		job("4", "/watch/four.mp4", dispatch.StateRunning, base.Add(3*time.Minute)),
	}
	for _, r := range records {
		if err := store.Record(ctx, r); err != nil {
			t.Fatalf("Record %s: %v", r.ID, err)
		}
	}

	latest, err := store.List(ctx, ledger.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(latest) != 2 || latest[0].ID != "4" || latest[1].ID != "3" {
		t.Fatalf("expected newest first, got %+v", latest)
	}

	succeeded, err := store.List(ctx, ledger.ListOptions{States: []dispatch.State{dispatch.StateSucceeded}})
	if err != nil {
		t.Fatalf("List succeeded: %v", err)
	}
	if len(succeeded) != 2 {
		t.Fatalf("expected two succeeded jobs, got %d", len(succeeded))
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[dispatch.StateSucceeded] != 2 || counts[dispatch.StateFailed] != 1 || counts[dispatch.StateRunning] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestFailedJobsUsesLatestAttempt(t *testing.T) {
	store := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	failed := job("f1", "/watch/broken.mp4", dispatch.StateFailed, base)
	failed.ErrorKind = services.KindToolExit

	retried := job("r1", "/watch/retried.mp4", dispatch.StateFailed, base)
	retried.ErrorKind = services.KindToolTimeout
	retriedOK := job("r2", "/watch/retried.mp4", dispatch.StateSucceeded, base.Add(time.Minute))

	cancelled := job("c1", "/watch/cancelled.mp4", dispatch.StateFailed, base)
	cancelled.ErrorKind = services.KindCancelled

	for _, r := range []dispatch.Job{failed, retried, retriedOK, cancelled} {
		if err := store.Record(ctx, r); err != nil {
			t.Fatalf("Record %s: %v", r.ID, err)
		}
	}

	jobs, err := store.FailedJobs(ctx)
	if err != nil {
		t.Fatalf("FailedJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "f1" {
		t.Fatalf("expected only the broken source, got %+v", jobs)
	}
}

func TestResetInterrupted(t *testing.T) {
	store := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now()

	for _, r := range []dispatch.Job{
		job("p", "/watch/p.mp4", dispatch.StatePending, now),
		job("r", "/watch/r.mp4", dispatch.StateRunning, now),
		job("s", "/watch/s.mp4", dispatch.StateSucceeded, now),
	} {
		if err := store.Record(ctx, r); err != nil {
			t.Fatalf("Record %s: %v", r.ID, err)
		}
	}

	n, err := store.ResetInterrupted(ctx)
	if err != nil {
		t.Fatalf("ResetInterrupted: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows reset, got %d", n)
	}
	got, _ := store.Get(ctx, "r")
	if got.State != dispatch.StateFailed || got.ErrorKind != services.KindCancelled {
		t.Fatalf("expected cancelled failure, got %+v", got)
	}

	failed, err := store.FailedJobs(ctx)
	if err != nil {
		t.Fatalf("FailedJobs: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("interrupted jobs must stay retryable, got %+v", failed)
	}
}

func TestClear(t *testing.T) {
	store := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now()

	_ = store.Record(ctx, job("ok", "/watch/ok.mp4", dispatch.StateSucceeded, now))
	_ = store.Record(ctx, job("bad", "/watch/bad.mp4", dispatch.StateFailed, now))

	removed, err := store.ClearFailed(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("ClearFailed removed=%d err=%v", removed, err)
	}
	removed, err = store.Clear(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("Clear removed=%d err=%v", removed, err)
	}
}

func TestReopenPersists(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Record(context.Background(), job("keep", "/watch/keep.mp4", dispatch.StateSucceeded, time.Now())); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenLedger(t, cfg)
	got, err := reopened.Get(context.Background(), "keep")
	if err != nil || got == nil {
		t.Fatalf("expected record after reopen, got %+v err=%v", got, err)
	}
	if reopened.Path() != cfg.LedgerPath() {
		t.Fatalf("unexpected path %q", reopened.Path())
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	_ = store.Close()

	db, err := sql.Open("sqlite", cfg.LedgerPath())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	_, err = ledger.Open(cfg)
	if !errors.Is(err, ledger.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
