// Command diaglog inspects and maintains a diagnostic log: it lists the
// sessions in it, prints it filtered by class, runs commands with their
// output captured, follows a live tail and writes the default config.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"diaglog"
	"diaglog/internal/config"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logPath    string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "diaglog",
		Short:         "Inspect and maintain a diagnostic log",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: "+config.DefaultPath()+")")
	root.PersistentFlags().StringVarP(&opts.logPath, "log", "l", "", "Log file, overrides log_path from the config")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Report debug information on stderr")

	root.AddCommand(
		newSessionsCmd(opts),
		newShowCmd(opts),
		newRunCmd(opts),
		newClearCmd(opts),
		newTailCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

func (o *rootOptions) resolvedConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.DefaultPath()
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.resolvedConfigPath())
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if o.logPath != "" {
		cfg.LogPath = o.logPath
	}
	return cfg, nil
}

// openLogger builds a Logger for maintenance use: the CLI never redirects
// its own streams, keeps no crash sidecar and serves no live tail.
func (o *rootOptions) openLogger(startSession bool) (*diaglog.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	opts := diaglog.OptionsFromConfig(cfg)
	opts.CaptureStreams = false
	opts.CrashSidecar = false
	opts.LiveTailAddr = ""
	opts.StartSession = &startSession
	if opts.AppName == "" {
		opts.AppName = "diaglog"
	}
	if o.verbose {
		opts.Logger = slog.Default()
	}
	l, err := diaglog.New(opts)
	if err != nil {
		return nil, err
	}
	if err := l.Setup(); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}
