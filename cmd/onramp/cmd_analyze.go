package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"onrampquotes/internal/aggregate"
	"onrampquotes/internal/sink"
)

var (
	analyzeSince     time.Duration
	analyzeFormat    string
	analyzeByPayment bool
	analyzeCheapest  bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Summarize stored quotes by provider and price bin",
	Long: `Reads stored rows back from the sink and reports the average rank and
average total fee percentage per crypto currency, region, price bin and
provider. Price bins are Low (0-499), Medium (500-4999) and High (5k+).

Example:
  onramp analyze --sink sqlite --since 168h --by-payment`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().DurationVar(&analyzeSince, "since", 0, "only rows newer than this (0 = all)")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "table", "output format: table or json")
	analyzeCmd.Flags().BoolVar(&analyzeByPayment, "by-payment", false, "keep payment methods apart")
	analyzeCmd.Flags().BoolVar(&analyzeCheapest, "cheapest", false, "only the cheapest provider per crypto, region and bin")
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if analyzeFormat != "table" && analyzeFormat != "json" {
		return fmt.Errorf("unknown format %q", analyzeFormat)
	}

	store, err := sink.Open(ctx, cfg.Sink, logger.Named("sink"))
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close sink", zap.Error(err))
		}
	}()

	var since time.Time
	if analyzeSince > 0 {
		since = time.Now().Add(-analyzeSince)
	}
	rows, err := store.ReadRows(ctx, since)
	if err != nil {
		return fmt.Errorf("read rows: %w", err)
	}
	logger.Info("rows loaded", zap.Int("rows", len(rows)), zap.Time("since", since))

	var out []aggregate.Summary
	if analyzeByPayment {
		out = aggregate.Summarize(rows)
	} else {
		out = aggregate.ByProvider(rows)
	}
	if analyzeCheapest {
		out = aggregate.Cheapest(out)
	}

	if analyzeFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	return writeTable(cmd.OutOrStdout(), out, analyzeByPayment)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func writeTable(w io.Writer, summaries []aggregate.Summary, byPayment bool) error {
	headers := []string{"Crypto", "Region", "Price bin", "Provider"}
	if byPayment {
		headers = append(headers, "Payment method")
	}
	headers = append(headers, "Avg rank", "Avg fee %", "Quotes")

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, s := range summaries {
		r := []string{s.CryptoCurrency, s.Region, s.PriceBin, s.Provider}
		if byPayment {
			r = append(r, s.PaymentMethod)
		}
		r = append(r,
			strconv.FormatFloat(s.AvgRank, 'f', 2, 64),
			strconv.FormatFloat(s.AvgFeePercentage, 'f', 2, 64),
			strconv.Itoa(s.Count),
		)
		t.Row(r...)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
