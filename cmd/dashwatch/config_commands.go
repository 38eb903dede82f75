package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"dashwatch/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check the dashwatch configuration",
	}
	configCmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a commented sample config.toml",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			switch _, err := os.Stat(target); {
			case err == nil && !overwrite:
				return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
			case err != nil && !errors.Is(err, fs.ErrNotExist):
				return fmt.Errorf("check config path: %w", err)
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintf(out, "Set [watch] folder or export %s, then run: dashwatch config validate --config %s\n",
				config.EnvWatchFolder, target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Where to write the sample (default ~/.config/dashwatch/config.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func initTarget(flagValue string) (string, error) {
	if target := strings.TrimSpace(flagValue); target != "" {
		expanded, err := config.ExpandPath(target)
		if err != nil {
			return "", fmt.Errorf("resolve config path: %w", err)
		}
		return expanded, nil
	}
	target, err := config.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("determine default config path: %w", err)
	}
	return target, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the config with environment overrides and print the effective settings",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configFlagValue())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			source := path
			if !exists {
				source = path + " (not found; defaults and environment only)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config: %s\n", source)
			fmt.Fprintln(out, renderTable([]string{"Setting", "Value"}, effectiveSettings(cfg), nil))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

// effectiveSettings lists what the daemon will actually use after file and
// environment values are merged.
func effectiveSettings(cfg *config.Config) [][]string {
	rescan := "disabled"
	if cfg.Watch.RescanIntervalSeconds > 0 {
		rescan = cfg.RescanInterval().String()
	}
	return [][]string{
		{"Watch folder", cfg.Watch.Folder},
		{"Extensions", strings.Join(cfg.Watch.Extensions, ", ")},
		{"Debounce", cfg.DebounceWindow().String()},
		{"Rescan interval", rescan},
		{"FFmpeg", cfg.FFmpegBinary()},
		{"Encoding", fmt.Sprintf("libx264 %s crf %d, aac %s", cfg.Encoding.Preset, cfg.Encoding.CRF, cfg.Encoding.AudioBitrate)},
		{"Segment duration", fmt.Sprintf("%ds", cfg.Encoding.SegmentDuration)},
		{"Concurrent jobs", fmt.Sprintf("%d (queue %d)", cfg.Jobs.MaxConcurrent, cfg.Jobs.QueueSize)},
		{"Job timeout", cfg.JobTimeout().String()},
		{"State directory", cfg.Paths.StateDir},
		{"Log directory", cfg.Paths.LogDir},
	}
}
