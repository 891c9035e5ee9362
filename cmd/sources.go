package main

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/okian/transferwire/internal/config"
)

func newSourcesCommand(c *cli) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List configured sources and their poll intervals",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), renderSources(c.cfg, activeOnly))
			return err
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only list active sources")
	return cmd
}

func renderSources(cfg *config.Config, activeOnly bool) string {
	intervals := cfg.TierIntervals()

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Name", "Kind", "Tier", "Region", "Active", "Interval", "Feed"})
	shown := 0
	for _, src := range cfg.Sources {
		if activeOnly && !src.Active {
			continue
		}
		tw.AppendRow(table.Row{
			src.ID,
			src.Name,
			src.Kind,
			src.Tier,
			src.Region,
			strconv.FormatBool(src.Active),
			intervals[src.Tier].String(),
			src.FeedURL,
		})
		shown++
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "", "total", shown})
	return tw.Render()
}
