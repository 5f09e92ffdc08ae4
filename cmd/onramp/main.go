package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"onrampquotes/internal/config"
	"onrampquotes/internal/logging"
)

var (
	configPath string
	logLevel   string

	cfg    config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "onramp",
	Short: "Scrape crypto on-ramp quotes into a warehouse table",
	Long: `onramp collects buy quotes from the MetaMask on-ramp aggregator for every
configured amount, crypto currency, region and payment method, compares them
with the market rate and stores one row per provider offer.

Run without a subcommand to perform a scrape.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		applyOverrides(&cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	RunE: runScrape,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&sinkOverride, "sink", "", "override sink kind (bigquery, postgres, sqlite, jsonl)")
	// scrape is also the default action
	addScrapeFlags(rootCmd)

	rootCmd.AddCommand(scrapeCmd, rateCmd, quoteCmd, analyzeCmd, serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
