package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/relaydebate/internal/debate"
)

func newShowCommand(opts *rootOptions) *cobra.Command {
	var (
		debateID string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a debate and its most recent arguments straight from the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(debateID) == "" {
				return fmt.Errorf("--debate is required")
			}
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			store, err := debate.BuildStoreFromDSN(ctx, cfg.Store.DSN, debate.StoreOptions{SQLiteBusyTimeout: cfg.Store.BusyTimeout})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			snapshot, err := newService(cfg, store, log).GetContext(ctx, debateID, limit)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snapshot)
			return nil
		},
	}
	cmd.Flags().StringVar(&debateID, "debate", "", "debate id")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of recent arguments, motion included (1-500)")
	return cmd
}

func printSnapshot(out io.Writer, snapshot debate.Snapshot) {
	d := snapshot.Debate
	fmt.Fprintf(out, "%s  %q  [%s]  %s\n", d.ID, d.Title, d.DebateType, d.State)
	for _, argument := range snapshot.Arguments {
		printArgument(out, argument)
	}
}

func printArgument(out io.Writer, argument debate.Argument) {
	fmt.Fprintf(out, "#%d %s %s: %s\n", argument.Seq, argument.Role, argument.Type, argument.Content)
}
