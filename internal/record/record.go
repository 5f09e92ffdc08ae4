// Package record defines the warehouse row written for every provider offer
// and derives its fee and spread metrics.
package record

import (
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"
	"onrampquotes/internal/provider"
)

// Row is one offer as stored in the warehouse. Column names follow the
// table schema; MarketRate is NULL when the pair had no reference rate.
type Row struct {
	Timestamp               time.Time            `bigquery:"Timestamp" json:"Timestamp"`
	Amount                  float64              `bigquery:"Amount" json:"Amount"`
	FiatCurrency            string               `bigquery:"FiatCurrency" json:"FiatCurrency"`
	CryptoCurrency          string               `bigquery:"CryptoCurrency" json:"CryptoCurrency"`
	Region                  string               `bigquery:"Region" json:"Region"`
	PaymentMethod           string               `bigquery:"PaymentMethod" json:"PaymentMethod"`
	Provider                string               `bigquery:"Provider" json:"Provider"`
	Rank                    int64                `bigquery:"Rank" json:"Rank"`
	AmountOut               float64              `bigquery:"AmountOut" json:"AmountOut"`
	ExchangeRate            float64              `bigquery:"ExchangeRate" json:"ExchangeRate"`
	MarketRate              bigquery.NullFloat64 `bigquery:"MarketRate" json:"MarketRate"`
	ExpectedAmountOut       float64              `bigquery:"ExpectedAmountOut" json:"ExpectedAmountOut"`
	Spread                  float64              `bigquery:"Spread" json:"Spread"`
	SpreadPercentage        float64              `bigquery:"SpreadPercentage" json:"SpreadPercentage"`
	NetworkFee              float64              `bigquery:"NetworkFee" json:"NetworkFee"`
	ProviderFee             float64              `bigquery:"ProviderFee" json:"ProviderFee"`
	ExtraFee                float64              `bigquery:"ExtraFee" json:"ExtraFee"`
	TotalExplicitFee        float64              `bigquery:"TotalExplicitFee" json:"TotalExplicitFee"`
	TotalFeeIncludingSpread float64              `bigquery:"TotalFeeIncludingSpread" json:"TotalFeeIncludingSpread"`
	TotalFeePercentage      float64              `bigquery:"TotalFeePercentage" json:"TotalFeePercentage"`
}

// Columns lists the column names in schema order.
var Columns = []string{
	"Timestamp", "Amount", "FiatCurrency", "CryptoCurrency", "Region",
	"PaymentMethod", "Provider", "Rank", "AmountOut", "ExchangeRate",
	"MarketRate", "ExpectedAmountOut", "Spread", "SpreadPercentage",
	"NetworkFee", "ProviderFee", "ExtraFee", "TotalExplicitFee",
	"TotalFeeIncludingSpread", "TotalFeePercentage",
}

// Context carries the lookup dimensions an offer was quoted under.
type Context struct {
	At             time.Time
	CryptoCurrency string // display name, e.g. "ETH (Mainnet)"
	Fiat           string
	Region         string
	PaymentMethod  string
	// MarketRate <= 0 means the reference rate is unknown.
	MarketRate float64
}

var hundred = decimal.NewFromInt(100)

// Build turns an offer into a Row.
//
// The expected crypto amount is what AmountIn minus explicit fees buys at
// the market rate; the spread is how much less the provider actually
// delivers, reported both in crypto and as a fiat cost folded into the total
// fee percentage. Without a market rate or a positive AmountIn the spread
// metrics stay zero.
func Build(c Context, o provider.Offer) Row {
	amountIn := decimal.NewFromFloat(o.AmountIn)
	amountOut := decimal.NewFromFloat(o.AmountOut)
	explicit := decimal.NewFromFloat(o.NetworkFee).
		Add(decimal.NewFromFloat(o.ProviderFee)).
		Add(decimal.NewFromFloat(o.ExtraFee))

	expected := decimal.Zero
	spread := decimal.Zero
	spreadPct := decimal.Zero
	spreadFiat := decimal.Zero

	if c.MarketRate > 0 && amountIn.IsPositive() {
		rate := decimal.NewFromFloat(c.MarketRate)
		expected = amountIn.Sub(explicit).Div(rate)
		if amountOut.IsPositive() {
			spread = expected.Sub(amountOut)
			if expected.IsPositive() {
				spreadPct = spread.Div(expected).Mul(hundred)
			}
			spreadFiat = spread.Mul(rate)
		}
	}

	totalInclSpread := explicit.Add(spreadFiat)
	totalPct := decimal.Zero
	if amountIn.IsPositive() {
		totalPct = totalInclSpread.Div(amountIn).Mul(hundred)
	}

	row := Row{
		Timestamp:               c.At.UTC(),
		Amount:                  o.AmountIn,
		FiatCurrency:            c.Fiat,
		CryptoCurrency:          c.CryptoCurrency,
		Region:                  strings.ToUpper(c.Region),
		PaymentMethod:           c.PaymentMethod,
		Provider:                o.Provider,
		Rank:                    int64(o.Rank),
		AmountOut:               o.AmountOut,
		ExchangeRate:            o.ExchangeRate,
		ExpectedAmountOut:       expected.InexactFloat64(),
		Spread:                  spread.InexactFloat64(),
		SpreadPercentage:        spreadPct.InexactFloat64(),
		NetworkFee:              o.NetworkFee,
		ProviderFee:             o.ProviderFee,
		ExtraFee:                o.ExtraFee,
		TotalExplicitFee:        explicit.InexactFloat64(),
		TotalFeeIncludingSpread: totalInclSpread.InexactFloat64(),
		TotalFeePercentage:      totalPct.InexactFloat64(),
	}
	if c.MarketRate > 0 {
		row.MarketRate = bigquery.NullFloat64{Float64: c.MarketRate, Valid: true}
	}
	return row
}

// Values returns the row's fields in Columns order with MarketRate as nil
// when unknown. SQL sinks bind these directly.
func (r Row) Values() []any {
	var marketRate any
	if r.MarketRate.Valid {
		marketRate = r.MarketRate.Float64
	}
	return []any{
		r.Timestamp, r.Amount, r.FiatCurrency, r.CryptoCurrency, r.Region,
		r.PaymentMethod, r.Provider, r.Rank, r.AmountOut, r.ExchangeRate,
		marketRate, r.ExpectedAmountOut, r.Spread, r.SpreadPercentage,
		r.NetworkFee, r.ProviderFee, r.ExtraFee, r.TotalExplicitFee,
		r.TotalFeeIncludingSpread, r.TotalFeePercentage,
	}
}

// Scan fills r from a SQL result row selected in Columns order. scan is
// the driver's Rows.Scan.
func (r *Row) Scan(scan func(dest ...any) error) error {
	var marketRate *float64
	err := scan(
		&r.Timestamp, &r.Amount, &r.FiatCurrency, &r.CryptoCurrency, &r.Region,
		&r.PaymentMethod, &r.Provider, &r.Rank, &r.AmountOut, &r.ExchangeRate,
		&marketRate, &r.ExpectedAmountOut, &r.Spread, &r.SpreadPercentage,
		&r.NetworkFee, &r.ProviderFee, &r.ExtraFee, &r.TotalExplicitFee,
		&r.TotalFeeIncludingSpread, &r.TotalFeePercentage,
	)
	if err != nil {
		return err
	}
	r.MarketRate = bigquery.NullFloat64{}
	if marketRate != nil {
		r.MarketRate = bigquery.NullFloat64{Float64: *marketRate, Valid: true}
	}
	return nil
}
