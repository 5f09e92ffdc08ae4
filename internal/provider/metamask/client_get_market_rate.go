package metamask

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type amountResponse struct {
	Value *float64 `json:"value"`
}

// GetMarketRate returns how much fiat buys one unit of cryptoID according to
// the aggregator's reference rate. A response without a value yields 0.
func (c *APIClient) GetMarketRate(ctx context.Context, cryptoID, fiat string, opts ...APIClientOption) (float64, error) {
	chainID, token, err := ParseCryptoID(cryptoID)
	if err != nil {
		return 0, err
	}
	override := c.clone(opts...)

	query := override.commonQuery()
	query.Set("value", "1")
	query.Set("fiat", FiatID(fiat))

	url := fmt.Sprintf("%s/currencies/crypto/%s/%s/amount?%s", override.cacheBaseURL, chainID, token, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header = override.header.Clone()
	req.Header.Set("Accept", "application/json")

	res, err := override.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if err := checkStatus(res); err != nil {
		return 0, err
	}

	var body amountResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decoding amount response: %w", err)
	}
	if body.Value == nil {
		return 0, nil
	}
	return *body.Value, nil
}
