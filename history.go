package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/labelbatch/internal/labelstore"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent batch runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", labelstore.DefaultHistoryLimit, "number of runs to show")

	return cmd
}

func runHistory(cmd *cobra.Command, limit int) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	store, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return writeJSON(cmd.OutOrStdout(), runs)
	}

	if len(runs) == 0 {
		cc.Statusf("No batches recorded yet.\n")

		return nil
	}

	printHistoryText(cmd, runs, time.Now())

	return nil
}

func printHistoryText(cmd *cobra.Command, runs []labelstore.Run, now time.Time) {
	rows := make([][]string, 0, len(runs))

	for _, r := range runs {
		mode := r.Mode
		if mode == "" {
			mode = "-"
		}

		rows = append(rows, []string{
			shortID(r.ID),
			formatAge(r.StartedAt, now),
			r.TargetLabel,
			mode,
			formatCount(r.Submitted),
			formatCount(r.Succeeded),
			formatCount(r.Failed),
			formatCount(r.Skipped),
			formatElapsed(r.Elapsed),
			strings.ReplaceAll(r.Result, "_", " "),
		})
	}

	printTable(cmd.OutOrStdout(),
		[]string{"BATCH", "STARTED", "LABEL", "MODE", "ITEMS", "OK", "FAILED", "SKIPPED", "ELAPSED", "RESULT"},
		rows)
}
