package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/pipewatch"
)

func newHistoryCommand(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List finished runs, or show one",
		Long:  "Reads the run history. Only a SQLite history (history.sqlite_path) outlives the process.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			p, err := pipewatch.New(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			ctx := context.Background()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				st, err := p.History().Get(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(st)
				}
				r := newRenderer(out)
				r.render(st)
				summary(out, st, nil)
				return nil
			}

			list, err := p.History().List(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(out).Encode(list)
			}
			for _, s := range list {
				state := green("ok")
				switch {
				case s.Cancelled:
					state = yellow("cancelled")
				case s.TerminalError != "":
					state = red("failed")
				}
				fmt.Fprintf(out, "%s  %s  %5.1f%%  %d nodes  %d artifacts  %s\n",
					s.RunID, s.UpdatedAt.Local().Format(time.DateTime), s.ProgressPercent, s.Nodes, s.Artifacts, state)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
