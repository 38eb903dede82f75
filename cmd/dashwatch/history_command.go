package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"dashwatch/internal/config"
	"dashwatch/internal/dispatch"
	"dashwatch/internal/ledger"
)

type historyEntry struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	OutputDir    string    `json:"output_dir"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ExitCode     int       `json:"exit_code,omitempty"`
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var failedOnly bool
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded encoding jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(_ *config.Config, store *ledger.Store) error {
				opts := ledger.ListOptions{Limit: limit}
				if failedOnly {
					opts.States = []dispatch.State{dispatch.StateFailed}
				}
				jobs, err := store.List(cmd.Context(), opts)
				if err != nil {
					return err
				}

				if asJSON {
					entries := make([]historyEntry, 0, len(jobs))
					for _, job := range jobs {
						entries = append(entries, historyEntry{
							ID:           job.ID,
							Source:       job.Source,
							OutputDir:    job.OutputDir,
							State:        string(job.State),
							CreatedAt:    job.CreatedAt,
							StartedAt:    job.StartedAt,
							FinishedAt:   job.FinishedAt,
							ErrorKind:    job.ErrorKind,
							ErrorMessage: job.ErrorMessage,
							ExitCode:     job.ExitCode,
						})
					}
					return writeJSON(cmd, entries)
				}

				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs recorded")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
						filepath.Base(job.Source),
						stateLabel(job.State),
						formatJobDuration(job),
						job.ErrorKind,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Created", "Source", "State", "Duration", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show failed jobs")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")

	cmd.AddCommand(newHistoryClearCommand(ctx))
	return cmd
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove failed jobs so their sources are retried on the next daemon start",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(_ *config.Config, store *ledger.Store) error {
				var (
					removed int64
					err     error
				)
				if all {
					removed, err = store.Clear(cmd.Context())
				} else {
					removed, err = store.ClearFailed(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s)\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every recorded job, not just failures")
	return cmd
}

func formatJobDuration(job dispatch.Job) string {
	d := job.Duration()
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
