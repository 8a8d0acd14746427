package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"news_spider/internal/app"

	"github.com/spf13/cobra"
)

func newCrawlCommand() *cobra.Command {
	var (
		mode    string
		workers int
		sources []string
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every enabled source once and print a summary",
		Long: `Crawl runs each enabled source in its own worker. Source failures are
reported in the summary and the run history; only configuration and
database errors make the command fail. Ctrl+C lets running sources finish
their current page.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if mode != "" {
				if err := cfg.OverrideMode(mode); err != nil {
					return err
				}
			}
			if workers > 0 {
				cfg.Logic.MaxConcurrentWorkers = workers
			}
			if len(sources) > 0 {
				if err := cfg.OnlySources(sources); err != nil {
					return err
				}
			}

			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			spider, err := app.NewSpiderApp(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("start spider: %w", err)
			}
			defer func() { _ = spider.Close(context.Background()) }()

			run, err := spider.Run(ctx)
			if err != nil {
				return err
			}

			app.RenderSummary(cmd.OutOrStdout(), run)
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "override crawl mode for all sources (incremental|full)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of sources crawled at once")
	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "crawl only these sources (repeatable)")
	return cmd
}
