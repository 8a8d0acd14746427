package main

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newSourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources with their effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			enabled := make(map[string]bool)
			for _, src := range cfg.EnabledSources() {
				enabled[src.Name] = true
			}

			keys := make([]string, 0, len(cfg.Sources))
			for key := range cfg.Sources {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Source", "Collection", "Enabled", "Priority", "Mode", "Start", "Max pages", "Skip threshold", "Listing URL"})
			for _, key := range keys {
				src := cfg.Sources[key]
				t.AppendRow(table.Row{
					src.Name,
					src.Collection,
					enabled[src.Name],
					src.Priority,
					cfg.EffectiveMode(src),
					src.StartIndex(),
					cfg.EffectiveMaxPages(src),
					cfg.EffectiveSkipThreshold(src),
					src.ListingURL,
				})
			}
			t.AppendFooter(table.Row{fmt.Sprintf("%d configured", len(keys)), "", len(enabled)})
			t.SetStyle(table.StyleRounded)
			t.Render()
			return nil
		},
	}
}
