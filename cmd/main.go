package main

import (
	"context"
	"fmt"
	"os"

	"news_spider/internal/config"
	"news_spider/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:           "news_spider",
	Short:         "Incremental and full-history crawler for news sites",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "path to the YAML config")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")

	rootCmd.AddCommand(newCrawlCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newSourcesCommand())
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.SpiderConfig, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfgFile, err)
	}
	return cfg, nil
}

func newLogger(cfg *config.SpiderConfig) (*logger.Logger, error) {
	lc := logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
	}
	if debug {
		lc.Level = "debug"
	}
	return logger.New(lc)
}
