package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/relaydebate/internal/debate"
)

func newRepairCommand(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Rebuild cached debate states by replaying each argument log",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			results, err := newService(cfg, store, log).Repair(ctx, dryRun)
			if err != nil {
				return err
			}
			printRepairResults(cmd.OutOrStdout(), results, dryRun)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report mismatches without rewriting them")
	return cmd
}

func printRepairResults(out io.Writer, results []debate.RepairResult, dryRun bool) {
	if len(results) == 0 {
		fmt.Fprintln(out, "all debate states match their argument logs")
		return
	}
	failed := 0
	for _, result := range results {
		switch {
		case result.Error != "":
			failed++
			fmt.Fprintf(out, "%s: replay failed: %s\n", result.DebateID, result.Error)
		case result.Fixed:
			fmt.Fprintf(out, "%s: %s -> %s (fixed)\n", result.DebateID, result.Cached, result.Replayed)
		case dryRun:
			fmt.Fprintf(out, "%s: %s -> %s (would fix)\n", result.DebateID, result.Cached, result.Replayed)
		default:
			fmt.Fprintf(out, "%s: %s -> %s\n", result.DebateID, result.Cached, result.Replayed)
		}
	}
	fmt.Fprintf(out, "%d debate(s) reported, %d failed\n", len(results), failed)
}
