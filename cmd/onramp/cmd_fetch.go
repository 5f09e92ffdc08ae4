package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"onrampquotes/internal/config"
	"onrampquotes/internal/provider"
	"onrampquotes/internal/record"
)

var (
	quoteRegion  string
	quoteFiat    string
	quoteAmount  float64
	quoteMethod  string
	quoteCrypto  string
	quoteRawRows bool
)

var rateCmd = &cobra.Command{
	Use:   "rate <crypto-id> <fiat>",
	Short: "Print the market rate for one crypto/fiat pair",
	Long: `Looks up how much fiat buys one unit of the crypto currency.

Example:
  onramp rate /currencies/crypto/1/0x0000000000000000000000000000000000000000 EUR`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newProvider(cfg.API, logger)
		fiat := strings.ToUpper(args[1])
		rate, err := p.MarketRate(cmd.Context(), args[0], fiat)
		if err != nil {
			return fmt.Errorf("market rate: %w", err)
		}
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"crypto_id": args[0],
			"fiat":      fiat,
			"rate":      rate,
		})
	},
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Print the offers for a single quote request",
	Long: `Requests quotes for one region, amount, payment method and crypto
currency. With --rows the offers are printed as the rows a scrape would store.

Example:
  onramp quote --region de --fiat EUR --amount 1100 --payment sepa-bank-transfer`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p := newProvider(cfg.API, logger)
		req := provider.Request{
			Region:        quoteRegion,
			Fiat:          strings.ToUpper(quoteFiat),
			Amount:        quoteAmount,
			PaymentMethod: quoteMethod,
			CryptoID:      quoteCrypto,
		}
		offers, err := p.Quotes(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("quotes: %w", err)
		}
		if !quoteRawRows {
			return writeJSON(cmd.OutOrStdout(), offers)
		}

		rate, err := p.MarketRate(cmd.Context(), req.CryptoID, req.Fiat)
		if err != nil {
			rate = 0
		}
		return writeJSON(cmd.OutOrStdout(), buildRows(req, cryptoName(cfg.Scrape.Cryptos, req.CryptoID), rate, offers, time.Now()))
	},
}

func init() {
	quoteCmd.Flags().StringVar(&quoteRegion, "region", "de", "region code")
	quoteCmd.Flags().StringVar(&quoteFiat, "fiat", "EUR", "fiat currency")
	quoteCmd.Flags().Float64Var(&quoteAmount, "amount", 100, "fiat amount")
	quoteCmd.Flags().StringVar(&quoteMethod, "payment", "debit-credit-card", "payment method")
	quoteCmd.Flags().StringVar(&quoteCrypto, "crypto", "/currencies/crypto/1/0x0000000000000000000000000000000000000000", "crypto currency id")
	quoteCmd.Flags().BoolVar(&quoteRawRows, "rows", false, "print warehouse rows instead of offers")
}

// buildRows turns offers for req into rows, as a scrape would store them.
func buildRows(req provider.Request, name string, rate float64, offers []provider.Offer, at time.Time) []record.Row {
	rc := record.Context{
		At:             at,
		CryptoCurrency: name,
		Fiat:           req.Fiat,
		Region:         req.Region,
		PaymentMethod:  req.PaymentMethod,
		MarketRate:     rate,
	}
	rows := make([]record.Row, 0, len(offers))
	for _, o := range offers {
		rows = append(rows, record.Build(rc, o))
	}
	return rows
}

// cryptoName maps a crypto id to its configured display name, falling back
// to the id itself.
func cryptoName(cryptos []config.Crypto, id string) string {
	for _, c := range cryptos {
		if c.ID == id {
			return c.Name
		}
	}
	return id
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
