package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"diaglog"
	"diaglog/internal/entry"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List the sessions in the log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := root.openLogger(false)
			if err != nil {
				return err
			}
			defer l.Close()
			return writeSessionTable(cmd.OutOrStdout(), l.Sessions())
		},
	}
}

func writeSessionTable(out io.Writer, sessions []diaglog.Session) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTITLE\tERRORS\tDEBUG\tLEGACY")
	for i, s := range sessions {
		title := s.Title
		if s.Legacy {
			title = plainText(title)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%t\n", i, title, len(s.Errors()), len(s.Debug()), s.Legacy)
	}
	return tw.Flush()
}

type showOptions struct {
	classes []string
	session int
	raw     bool
}

func newShowCmd(root *rootOptions) *cobra.Command {
	opts := &showOptions{}
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the log, optionally filtered by class or session",
		Long: `Prints log lines as plain text. Session headers are always shown.

Example:
  diaglog show                     # whole log
  diaglog show --class error       # errors only
  diaglog show --session 0 --raw   # newest session as stored`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			classes, err := parseClasses(opts.classes)
			if err != nil {
				return err
			}
			l, err := root.openLogger(false)
			if err != nil {
				return err
			}
			defer l.Close()

			sessions := l.Sessions()
			if opts.session >= 0 {
				if opts.session >= len(sessions) {
					return fmt.Errorf("session %d not found, the log has %d", opts.session, len(sessions))
				}
				sessions = sessions[opts.session : opts.session+1]
			}
			out := cmd.OutOrStdout()
			// Oldest first, the way the file reads.
			for i := len(sessions) - 1; i >= 0; i-- {
				writeSession(out, sessions[i], classes, opts.raw)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&opts.classes, "class", nil, "Only print lines of these classes (system, debug, error)")
	cmd.Flags().IntVarP(&opts.session, "session", "s", -1, "Only print this session, 0 is the newest")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Print fragments as stored instead of plain text")
	return cmd
}

func parseClasses(names []string) (map[entry.Class]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	classes := make(map[entry.Class]bool, len(names))
	for _, name := range names {
		c, err := entry.ParseClass(name)
		if err != nil {
			return nil, err
		}
		classes[c] = true
	}
	return classes, nil
}

func writeSession(out io.Writer, s diaglog.Session, classes map[entry.Class]bool, raw bool) {
	render := plainText
	if raw {
		render = func(s string) string { return s }
	}
	if s.Header != "" {
		fmt.Fprintf(out, "=== %s\n", render(s.Header))
	} else {
		fmt.Fprintln(out, "=== (legacy session)")
	}
	for line := range strings.Lines(s.Body) {
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		if classes != nil {
			c, ok := entry.Classify(line)
			if !ok || !classes[c] {
				continue
			}
		}
		fmt.Fprintln(out, render(line))
	}
}
