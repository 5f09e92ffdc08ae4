package provider

import (
	"context"
	"errors"
)

// ErrNoMarketRate is returned when the price API has no reference rate for a pair.
var ErrNoMarketRate = errors.New("no market rate")

// Request identifies one quote lookup: buy CryptoID with Amount of Fiat in
// Region using PaymentMethod.
type Request struct {
	Region        string  `json:"region"`
	Fiat          string  `json:"fiat"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"payment_method"`
	CryptoID      string  `json:"crypto_id"`
}

// Offer is a single on-ramp provider's quote for a Request.
// Rank is 1-based in the order the aggregator returned the offers.
type Offer struct {
	Provider     string  `json:"provider"`
	Rank         int     `json:"rank"`
	AmountIn     float64 `json:"amount_in"`
	AmountOut    float64 `json:"amount_out"`
	ExchangeRate float64 `json:"exchange_rate"`
	NetworkFee   float64 `json:"network_fee"`
	ProviderFee  float64 `json:"provider_fee"`
	ExtraFee     float64 `json:"extra_fee"`
}

// Provider is a source of on-ramp offers and market reference rates.
type Provider interface {
	Name() string
	Quotes(ctx context.Context, req Request) ([]Offer, error)
	// MarketRate returns the fiat amount needed to buy one unit of cryptoID.
	MarketRate(ctx context.Context, cryptoID, fiat string) (float64, error)
}
