package metamask

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// QuoteParams selects the quotes to fetch. Region, Fiat and PaymentMethod are
// the short codes ("de", "EUR", "sepa-bank-transfer"); CryptoID is the full
// /currencies/crypto/... identifier.
type QuoteParams struct {
	Region        string
	Fiat          string
	Amount        float64
	PaymentMethod string
	CryptoID      string
	WalletAddress string
}

// QuotesResponse is the aggregator's answer to a quote request.
type QuotesResponse struct {
	Success []QuoteItem       `json:"success"`
	Error   []json.RawMessage `json:"error"`
}

// QuoteItem is one provider's entry in QuotesResponse.Success.
type QuoteItem struct {
	Provider     string       `json:"provider"`
	ProviderInfo ProviderInfo `json:"providerInfo"`
	Quote        Quote        `json:"quote"`
}

// ProviderInfo describes the on-ramp provider behind a quote.
type ProviderInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Quote holds the numbers of a provider offer. Fields the API omits or sends
// as null stay nil.
type Quote struct {
	AmountIn      *float64 `json:"amountIn"`
	AmountOut     *float64 `json:"amountOut"`
	ExchangeRate  *float64 `json:"exchangeRate"`
	NetworkFee    *float64 `json:"networkFee"`
	ProviderFee   *float64 `json:"providerFee"`
	ExtraFee      *float64 `json:"extraFee"`
	PaymentMethod string   `json:"paymentMethod"`
}

// GetQuotes retrieves all provider quotes for the given parameters.
func (c *APIClient) GetQuotes(ctx context.Context, p QuoteParams, opts ...APIClientOption) (*QuotesResponse, error) {
	override := c.clone(opts...)

	query := override.commonQuery()
	query.Set("regionId", RegionID(p.Region))
	query.Set("cryptoCurrencyId", p.CryptoID)
	query.Set("fiatCurrencyId", FiatID(p.Fiat))
	query.Set("amount", strconv.FormatFloat(p.Amount, 'f', -1, 64))
	query.Set("paymentMethodId[0]", PaymentMethodID(p.PaymentMethod))
	query.Set("walletAddress", p.WalletAddress)

	url := fmt.Sprintf("%s/providers/all/quote?%s", override.quoteBaseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = override.header.Clone()
	req.Header.Set("Accept", "application/json")

	res, err := override.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if err := checkStatus(res); err != nil {
		return nil, err
	}

	var body QuotesResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding quotes response: %w", err)
	}
	return &body, nil
}

func (c *APIClient) clone(opts ...APIClientOption) *APIClient {
	override := &APIClient{
		quoteBaseURL: c.quoteBaseURL,
		cacheBaseURL: c.cacheBaseURL,
		sdkVersion:   c.sdkVersion,
		httpClient:   c.httpClient,
		header:       c.header.Clone(),
	}
	for _, opt := range opts {
		opt(override)
	}
	return override
}

func checkStatus(res *http.Response) error {
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return fmt.Errorf("unexpected status code: %d: %s", res.StatusCode, string(b))
	}
}
