package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"onrampquotes/internal/config"
	"onrampquotes/internal/scrape"
	"onrampquotes/internal/sink"
)

var (
	sinkOverride      string
	scrapeConcurrency int
	scrapeAmounts     []float64
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Fetch quotes for the configured matrix and store them",
	Long: `Iterates amount, crypto currency and region, looks up the market rate for
each pair, requests quotes for every payment method of the region and inserts
one batch of rows per (amount, crypto, region).

Example:
  onramp scrape --sink jsonl --amount 30 --amount 1100`,
	Args: cobra.NoArgs,
	RunE: runScrape,
}

func init() {
	addScrapeFlags(scrapeCmd)
}

func addScrapeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&scrapeConcurrency, "concurrency", 0, "cells fetched in parallel within an amount")
	cmd.Flags().Float64SliceVar(&scrapeAmounts, "amount", nil, "fiat amounts to request (repeatable)")
}

// applyOverrides folds command-line flags into c before validation.
func applyOverrides(c *config.Config) {
	if sinkOverride != "" {
		c.Sink.Kind = sinkOverride
	}
	if scrapeConcurrency > 0 {
		c.Scrape.Concurrency = scrapeConcurrency
	}
	if len(scrapeAmounts) > 0 {
		c.Scrape.Amounts = scrapeAmounts
	}
}

func runScrape(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := sink.Open(ctx, cfg.Sink, logger.Named("sink"))
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close sink", zap.Error(err))
		}
	}()
	if err := store.Ensure(ctx); err != nil {
		return fmt.Errorf("prepare sink: %w", err)
	}

	r := &scrape.Runner{
		Provider: newProvider(cfg.API, logger),
		Writer:   store,
		Plan:     cfg.Scrape,
		Logger:   logger.Named("scrape"),
	}
	stats, err := r.Run(ctx)
	logger.Info("scraping complete",
		zap.String("sink", cfg.Sink.Kind),
		zap.Int("requests", stats.Requests),
		zap.Int("failures", stats.Failures),
		zap.Int("rows", stats.Rows),
		zap.Int("batches", stats.Batches),
		zap.Int("write_errors", stats.WriteErrors),
	)
	if err != nil {
		return err
	}
	if stats.WriteErrors > 0 {
		return fmt.Errorf("%d of %d batches failed to write", stats.WriteErrors, stats.WriteErrors+stats.Batches)
	}
	return nil
}
