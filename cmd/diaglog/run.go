package main

import (
	"github.com/spf13/cobra"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var newSession bool
	cmd := &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "Run a command and record its output in the log",
		Long: `Runs the command under a pseudo-terminal where available, echoing its
output and recording every line prefixed with the command name. The exit
status is recorded as well.

Example:
  diaglog run -- make test
  diaglog run --session=false -- ./sync.sh --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := root.openLogger(newSession)
			if err != nil {
				return err
			}
			defer l.Close()
			return l.RunCommand(cmd.Context(), args[0], args[1:]...)
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().BoolVar(&newSession, "session", true, "Start a new session before running the command")
	return cmd
}
