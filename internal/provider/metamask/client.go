package metamask

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	quoteBaseURL = "https://on-ramp.api.cx.metamask.io"
	cacheBaseURL = "https://on-ramp-cache.api.cx.metamask.io"
	sdkVersion   = "2.1.8"
)

var (
	// ErrRateLimited is returned when the API keeps answering 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidCryptoID is returned for IDs not shaped like
	// /currencies/crypto/{chainID}/{tokenAddress}.
	ErrInvalidCryptoID = errors.New("invalid crypto currency id")
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=metamask_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIClient is a client for the MetaMask on-ramp aggregator API.
type APIClient struct {
	// quoteBaseURL serves provider quotes.
	quoteBaseURL string
	// cacheBaseURL serves cached reference rates.
	cacheBaseURL string
	sdkVersion   string
	httpClient   HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
}

// APIClientOption is a configuration option for the API client.
type APIClientOption func(*APIClient)

// WithQuoteBaseURL sets the base URL for quote requests.
func WithQuoteBaseURL(u string) APIClientOption {
	return func(c *APIClient) {
		c.quoteBaseURL = strings.TrimRight(u, "/")
	}
}

// WithCacheBaseURL sets the base URL for market rate requests.
func WithCacheBaseURL(u string) APIClientOption {
	return func(c *APIClient) {
		c.cacheBaseURL = strings.TrimRight(u, "/")
	}
}

// WithSDKVersion overrides the sdk query parameter the API expects.
func WithSDKVersion(v string) APIClientOption {
	return func(c *APIClient) {
		c.sdkVersion = v
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) APIClientOption {
	return func(c *APIClient) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) APIClientOption {
	return func(c *APIClient) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewAPIClient creates a new on-ramp API client.
func NewAPIClient(options ...APIClientOption) *APIClient {
	c := &APIClient{
		quoteBaseURL: quoteBaseURL,
		cacheBaseURL: cacheBaseURL,
		sdkVersion:   sdkVersion,
		httpClient:   http.DefaultClient,
		header:       http.Header{},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// commonQuery carries the parameters every endpoint expects.
func (c *APIClient) commonQuery() url.Values {
	q := url.Values{}
	q.Set("sdk", c.sdkVersion)
	q.Set("context", "browser")
	q.Set("keys", "")
	return q
}

// FiatID formats a fiat currency code the way the API references it.
func FiatID(fiat string) string {
	return "/currencies/fiat/" + strings.ToLower(fiat)
}

// RegionID formats a region code the way the API references it.
func RegionID(region string) string {
	return "/regions/" + strings.ToLower(region)
}

// PaymentMethodID formats a payment method the way the API references it.
func PaymentMethodID(method string) string {
	return "/payments/" + method
}

// ParseCryptoID splits /currencies/crypto/{chainID}/{tokenAddress}.
func ParseCryptoID(id string) (chainID, tokenAddress string, err error) {
	parts := strings.Split(id, "/")
	if len(parts) != 5 || parts[0] != "" || parts[1] != "currencies" || parts[2] != "crypto" || parts[3] == "" || parts[4] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidCryptoID, id)
	}
	return parts[3], parts[4], nil
}
