package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dashwatch/internal/dispatch"
	"dashwatch/internal/services"
)

const jobColumns = "id, source_path, output_dir, state, created_at, started_at, finished_at, error_kind, error_message, exit_code, stderr_tail"

var _ dispatch.Recorder = (*Store)(nil)

// Record inserts or updates the row for job.ID.
func (s *Store) Record(ctx context.Context, job dispatch.Job) error {
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("record job: missing id")
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (`+jobColumns+`, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             state = excluded.state,
             started_at = excluded.started_at,
             finished_at = excluded.finished_at,
             error_kind = excluded.error_kind,
             error_message = excluded.error_message,
             exit_code = excluded.exit_code,
             stderr_tail = excluded.stderr_tail,
             updated_at = excluded.updated_at`,
		job.ID,
		job.Source,
		job.OutputDir,
		string(job.State),
		unixNano(job.CreatedAt),
		unixNano(job.StartedAt),
		unixNano(job.FinishedAt),
		job.ErrorKind,
		job.ErrorMessage,
		job.ExitCode,
		job.StderrTail,
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the job with id, or nil when it is unknown.
func (s *Store) Get(ctx context.Context, id string) (*dispatch.Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

// ListOptions narrows List.
type ListOptions struct {
	Limit  int
	States []dispatch.State
}

// List returns jobs newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]dispatch.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if len(opts.States) > 0 {
		placeholders := make([]string, len(opts.States))
		for i, state := range opts.States {
			placeholders[i] = "?"
			args = append(args, string(state))
		}
		query += ` WHERE state IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	return s.query(ctx, query, args...)
}

// FailedJobs returns the most recent attempt for each source whose latest
// attempt failed for a reason other than cancellation.
func (s *Store) FailedJobs(ctx context.Context) ([]dispatch.Job, error) {
	return s.query(ctx,
		`SELECT `+jobColumns+` FROM jobs j
         WHERE j.state = ? AND j.error_kind != ?
           AND j.created_at = (SELECT MAX(created_at) FROM jobs WHERE source_path = j.source_path)
         ORDER BY j.created_at`,
		string(dispatch.StateFailed), services.KindCancelled,
	)
}

// Counts returns the number of jobs per state.
func (s *Store) Counts(ctx context.Context) (map[dispatch.State]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT state, COUNT(1) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("ledger counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[dispatch.State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		counts[dispatch.State(state)] = count
	}
	return counts, rows.Err()
}

// ResetInterrupted marks jobs left pending or running by a daemon that did
// not shut down cleanly as cancelled failures, so they are retried.
func (s *Store) ResetInterrupted(ctx context.Context) (int64, error) {
	now := time.Now().UnixNano()
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET state = ?, error_kind = ?, error_message = 'interrupted by daemon exit',
             finished_at = ?, updated_at = ?
         WHERE state IN (?, ?)`,
		string(dispatch.StateFailed), services.KindCancelled, now, now,
		string(dispatch.StatePending), string(dispatch.StateRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes every job record.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear ledger: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes failed job records.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE state = ?`, string(dispatch.StateFailed))
	if err != nil {
		return 0, fmt.Errorf("clear failed jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]dispatch.Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []dispatch.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (dispatch.Job, error) {
	var job dispatch.Job
	var state string
	var created, started, finished int64
	if err := scanner.Scan(
		&job.ID,
		&job.Source,
		&job.OutputDir,
		&state,
		&created,
		&started,
		&finished,
		&job.ErrorKind,
		&job.ErrorMessage,
		&job.ExitCode,
		&job.StderrTail,
	); err != nil {
		return dispatch.Job{}, err
	}
	job.State = dispatch.State(state)
	job.CreatedAt = fromUnixNano(created)
	job.StartedAt = fromUnixNano(started)
	job.FinishedAt = fromUnixNano(finished)
	return job, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}
