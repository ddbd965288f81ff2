package main

import (
	"sort"

	"github.com/spf13/cobra"
)

func newLabelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List the label catalog",
		Long:  "List the configured labels, least sensitive first.",
		Args:  cobra.NoArgs,
		RunE:  runLabels,
	}
}

// labelView is one catalog entry as printed.
type labelView struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Rank               int    `json:"rank"`
	RequiresProtection bool   `json:"requires_protection"`
}

func runLabels(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	catalog := catalogFromConfig(cc.Cfg.Labels)
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].Rank < catalog[j].Rank })

	views := make([]labelView, 0, len(catalog))
	for _, l := range catalog {
		views = append(views, labelView{ID: l.ID, Name: l.Name, Rank: l.Rank, RequiresProtection: l.RequiresProtection})
	}

	if cc.Flags.JSON {
		return writeJSON(cmd.OutOrStdout(), views)
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		protection := ""
		if v.RequiresProtection {
			protection = "required"
		}

		rows = append(rows, []string{formatCount(v.Rank), v.ID, v.Name, protection})
	}

	printTable(cmd.OutOrStdout(), []string{"RANK", "ID", "NAME", "PROTECTION"}, rows)

	return nil
}
