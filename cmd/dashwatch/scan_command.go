package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"dashwatch/internal/eligibility"
	"dashwatch/internal/preflight"
	"dashwatch/internal/watch"
)

type scanEntry struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Eligible  bool   `json:"eligible"`
	Reason    string `json:"reason"`
	OutputDir string `json:"output_dir"`
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List candidate files in the watch folder without encoding them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			filter := eligibility.New(cfg.Watch.Folder, cfg.Watch.Extensions)
			decisions, err := watch.ScanFolder(filter)
			if err != nil {
				return err
			}

			entries := make([]scanEntry, 0, len(decisions))
			for _, decision := range decisions {
				entry := scanEntry{
					Path:      decision.Path,
					Eligible:  decision.Eligible,
					Reason:    string(decision.Reason),
					OutputDir: eligibility.OutputDir(decision.Path),
				}
				if info, err := os.Stat(decision.Path); err == nil {
					entry.Size = info.Size()
				}
				entries = append(entries, entry)
			}

			if asJSON {
				return writeJSON(cmd, entries)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No candidate files in %s\n", cfg.Watch.Folder)
				return nil
			}
			rows := make([][]string, 0, len(entries))
			eligible := 0
			for _, entry := range entries {
				if entry.Eligible {
					eligible++
				}
				rows = append(rows, []string{
					filepath.Base(entry.Path),
					preflight.FormatBytes(uint64(entry.Size)),
					entry.Reason,
					filepath.Base(entry.OutputDir) + string(filepath.Separator),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"File", "Size", "Decision", "Output"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
			))
			fmt.Fprintf(out, "%d of %d file(s) would be encoded\n", eligible, len(entries))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}
