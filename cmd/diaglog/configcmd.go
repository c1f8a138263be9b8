package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"diaglog/internal/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(root), newConfigShowCmd(root))
	return cmd
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.resolvedConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			cfg := config.DefaultConfig()
			if root.logPath != "" {
				cfg.LogPath = root.logPath
			}
			if _, err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:          %s\n", root.resolvedConfigPath())
			fmt.Fprintf(out, "log_path:        %s\n", cfg.LogPath)
			fmt.Fprintf(out, "max_size:        %s\n", cfg.MaxSize)
			fmt.Fprintf(out, "trim_headroom:   %s\n", cfg.TrimHeadroom)
			fmt.Fprintf(out, "min_free_space:  %s\n", cfg.MinFreeSpace)
			fmt.Fprintf(out, "probe_every:     %d\n", cfg.ProbeEvery)
			fmt.Fprintf(out, "capture_streams: %t\n", cfg.CaptureStreams)
			fmt.Fprintf(out, "crash_sidecar:   %t\n", cfg.CrashSidecar)
			fmt.Fprintf(out, "live_tail_addr:  %s\n", cfg.LiveTailAddr)
			return nil
		},
	}
}
