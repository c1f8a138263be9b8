package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := root.openLogger(false)
			if err != nil {
				return err
			}
			defer l.Close()
			if err := l.DeleteAll(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", l.Path())
			return nil
		},
	}
}
