package main

import (
	"context"
	"fmt"
	"time"

	"news_spider/internal/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	var runs int64

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stored article counts, source state and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := db.NewMongoDB(ctx, cfg.DB)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close(context.Background()) }()

			out := cmd.OutOrStdout()

			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.SetTitle("Sources")
			t.AppendHeader(table.Row{"Source", "Collection", "Documents", "Avg body", "Latest article", "Runs", "Failed", "Last success", "Last error"})
			for _, src := range cfg.EnabledSources() {
				stats, err := store.Articles(src.Collection).Stats(ctx)
				if err != nil {
					return fmt.Errorf("stats for %s: %w", src.Name, err)
				}
				state, err := store.GetSourceState(ctx, src.Name)
				if err != nil {
					return fmt.Errorf("state for %s: %w", src.Name, err)
				}

				row := table.Row{src.Name, src.Collection, stats.TotalDocuments, int(stats.AvgBodyLength), formatTime(stats.LatestArticle)}
				if state != nil {
					row = append(row, state.TotalRuns, state.FailedRuns, formatTime(state.LastSuccess), state.LastError)
				} else {
					row = append(row, 0, 0, "-", "")
				}
				t.AppendRow(row)
			}
			t.SetStyle(table.StyleRounded)
			t.Render()

			history, err := store.LastRuns(ctx, runs)
			if err != nil {
				return fmt.Errorf("run history: %w", err)
			}

			h := table.NewWriter()
			h.SetOutputMirror(out)
			h.SetTitle("Recent runs")
			h.AppendHeader(table.Row{"Run", "Mode", "Started", "Duration", "Sources", "OK", "Failed", "Articles", "Skipped", "Errors"})
			for _, r := range history {
				h.AppendRow(table.Row{
					r.RunID,
					r.Mode,
					r.StartedAt.Local().Format(time.DateTime),
					time.Duration(r.DurationSec * float64(time.Second)).Round(time.Second).String(),
					r.TotalSources,
					r.Successful,
					r.Failed,
					r.TotalArticles,
					r.TotalSkipped,
					r.TotalErrors,
				})
			}
			h.SetStyle(table.StyleRounded)
			h.Render()
			return nil
		},
	}

	cmd.Flags().Int64Var(&runs, "runs", 10, "number of recent runs to show")
	return cmd
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
