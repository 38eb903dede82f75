package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dashwatch/internal/config"
	"dashwatch/internal/daemon"
	"dashwatch/internal/daemonrun"
	"dashwatch/internal/dispatch"
	"dashwatch/internal/ledger"
	"dashwatch/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency and job status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			report := newStatusReport(out)

			report.section("Daemon")
			running, err := daemon.InstanceRunning(cfg)
			switch {
			case err != nil:
				report.add("Daemon", levelError, err.Error())
			case running:
				msg := "Running"
				if pid := readPID(cfg); pid != "" {
					msg = fmt.Sprintf("Running (pid %s)", pid)
				}
				report.add("Daemon", levelOK, msg)
			default:
				report.add("Daemon", levelWarn, "Not running")
			}
			report.add("Watch folder", levelInfo, cfg.Watch.Folder)

			report.section("Dependencies")
			for _, dep := range preflight.CheckSystemDeps(cfg) {
				report.dependency(dep)
			}

			report.section("Preflight")
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				report.check(result)
			}

			report.section("Jobs")
			addJobCounts(cmd.Context(), cfg, report)

			fmt.Fprintln(out, report.String())
			return nil
		},
	}
}

func addJobCounts(ctx context.Context, cfg *config.Config, report *statusReport) {
	store, err := ledger.Open(cfg)
	if err != nil {
		report.add("Ledger", levelError, err.Error())
		return
	}
	defer store.Close()

	counts, err := store.Counts(ctx)
	if err != nil {
		report.add("Ledger", levelError, err.Error())
		return
	}
	for _, state := range []dispatch.State{
		dispatch.StatePending,
		dispatch.StateRunning,
		dispatch.StateSucceeded,
		dispatch.StateFailed,
	} {
		report.jobCount(state, counts[state])
	}
}

func readPID(cfg *config.Config) string {
	data, err := os.ReadFile(filepath.Join(cfg.Paths.StateDir, daemonrun.PIDFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
