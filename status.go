package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/labelbatch/internal/labelstore"
)

const unlabeled = "(none)"

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status PATH...",
		Short: "Show the current label of files",
		Long: `Display the stored label of each file. Directories are walked
recursively, the same way apply walks them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runStatus,
	}
}

// statusEntry is one row of status output.
type statusEntry struct {
	Target    string    `json:"target"`
	LabelID   string    `json:"label_id,omitempty"`
	Label     string    `json:"label"`
	Known     bool      `json:"known"`
	Protected bool      `json:"protected"`
	Grantees  []string  `json:"grantees,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	targets, err := collectTargets(args)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	entries := make([]statusEntry, 0, len(targets))

	for _, t := range targets {
		a, err := store.Assignment(ctx, t)
		if err != nil {
			return err
		}

		entries = append(entries, buildStatusEntry(store, t, a))
	}

	if cc.Flags.JSON {
		return writeJSON(cmd.OutOrStdout(), entries)
	}

	printStatusText(cmd, entries)

	return nil
}

func buildStatusEntry(store *labelstore.Store, target string, a *labelstore.Assignment) statusEntry {
	e := statusEntry{Target: target, Label: unlabeled}
	if a == nil {
		return e
	}

	e.LabelID = a.LabelID
	e.Protected = a.Protected
	e.Grantees = a.Grantees
	e.UpdatedAt = a.UpdatedAt

	if l, ok := store.Lookup(a.LabelID); ok {
		e.Label = l.Label()
		e.Known = true
	} else {
		e.Label = a.LabelID + " (not in catalog)"
	}

	return e
}

func printStatusText(cmd *cobra.Command, entries []statusEntry) {
	now := time.Now()
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		protection := ""
		if e.Protected {
			protection = strings.Join(e.Grantees, ", ")
		}

		updated := ""
		if !e.UpdatedAt.IsZero() {
			updated = formatAge(e.UpdatedAt, now)
		}

		rows = append(rows, []string{e.Target, e.Label, protection, updated})
	}

	printTable(cmd.OutOrStdout(), []string{"TARGET", "LABEL", "GRANTEES", "UPDATED"}, rows)

	fmt.Fprintf(cmd.OutOrStdout(), "%s file(s)\n", formatCount(len(entries)))
}
