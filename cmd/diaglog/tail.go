package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"diaglog/internal/entry"
	"diaglog/internal/livetail"
)

func newTailCmd(root *rootOptions) *cobra.Command {
	var (
		addr    string
		classes []string
		raw     bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the live tail of a running application",
		Long: `Connects to the live tail served by an application that set
live_tail_addr and prints new lines as they are written.

Example:
  diaglog tail --addr 127.0.0.1:7071
  diaglog tail --addr 127.0.0.1:7071 --class error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := root.loadConfig()
				if err != nil {
					return err
				}
				addr = cfg.LiveTailAddr
			}
			if addr == "" {
				return errors.New("no live tail address: pass --addr or set live_tail_addr")
			}

			want := entry.Classes()
			if len(classes) > 0 {
				parsed, err := parseClasses(classes)
				if err != nil {
					return err
				}
				want = want[:0]
				for _, c := range entry.Classes() {
					if parsed[c] {
						want = append(want, c)
					}
				}
			}

			out := cmd.OutOrStdout()
			return livetail.Follow(cmd.Context(), livetail.URLForAddr(addr), want, func(_ entry.Class, data []byte) {
				text := string(data)
				if !raw {
					text = plainText(text)
				}
				fmt.Fprintln(out, text)
			})
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Live tail address or ws:// URL (default: live_tail_addr)")
	cmd.Flags().StringSliceVar(&classes, "class", nil, "Classes to follow (default: all)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print fragments as stored instead of plain text")
	return cmd
}
