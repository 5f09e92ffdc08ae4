package metamask

import (
	"context"
	"fmt"

	"onrampquotes/internal/provider"
)

// Provider adapts APIClient to provider.Provider.
type Provider struct {
	name   string
	client *APIClient
}

func NewProvider(name string, client *APIClient) *Provider {
	if name == "" {
		name = "MetaMask"
	}
	return &Provider{name: name, client: client}
}

func (p *Provider) Name() string { return p.name }

// Quotes returns the aggregator's offers ranked in response order.
func (p *Provider) Quotes(ctx context.Context, req provider.Request) ([]provider.Offer, error) {
	res, err := p.client.GetQuotes(ctx, QuoteParams{
		Region:        req.Region,
		Fiat:          req.Fiat,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		CryptoID:      req.CryptoID,
	})
	if err != nil {
		return nil, fmt.Errorf("%s quotes: %w", p.name, err)
	}

	out := make([]provider.Offer, 0, len(res.Success))
	for i, item := range res.Success {
		name := item.ProviderInfo.Name
		if name == "" {
			name = "N/A"
		}
		q := item.Quote
		out = append(out, provider.Offer{
			Provider:     name,
			Rank:         i + 1,
			AmountIn:     deref(q.AmountIn),
			AmountOut:    deref(q.AmountOut),
			ExchangeRate: deref(q.ExchangeRate),
			NetworkFee:   deref(q.NetworkFee),
			ProviderFee:  deref(q.ProviderFee),
			ExtraFee:     deref(q.ExtraFee),
		})
	}
	return out, nil
}

// MarketRate returns provider.ErrNoMarketRate when the API reports no
// positive rate for the pair.
func (p *Provider) MarketRate(ctx context.Context, cryptoID, fiat string) (float64, error) {
	rate, err := p.client.GetMarketRate(ctx, cryptoID, fiat)
	if err != nil {
		return 0, fmt.Errorf("%s market rate: %w", p.name, err)
	}
	if rate <= 0 {
		return 0, provider.ErrNoMarketRate
	}
	return rate, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
