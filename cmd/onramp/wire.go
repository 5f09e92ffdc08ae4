package main

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"onrampquotes/internal/config"
	"onrampquotes/internal/httpx"
	"onrampquotes/internal/provider"
	"onrampquotes/internal/provider/cache"
	"onrampquotes/internal/provider/metamask"
	"onrampquotes/internal/provider/ratelimit"
)

// newProvider builds the MetaMask provider with retry, pacing and market
// rate memoization applied per cfg.
func newProvider(cfg config.API, logger *zap.Logger) provider.Provider {
	httpClient := httpx.New(time.Duration(cfg.TimeoutSec) * time.Second)
	httpClient.Logger = logger.Named("http")
	httpClient.Retry = httpx.RetryPolicy{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
	}

	opts := []metamask.APIClientOption{
		metamask.WithHTTPClient(httpClient),
		metamask.WithHeader(http.Header{"Accept": []string{"application/json"}}),
	}
	if cfg.QuoteBaseURL != "" {
		opts = append(opts, metamask.WithQuoteBaseURL(cfg.QuoteBaseURL))
	}
	if cfg.CacheBaseURL != "" {
		opts = append(opts, metamask.WithCacheBaseURL(cfg.CacheBaseURL))
	}
	if cfg.SDKVersion != "" {
		opts = append(opts, metamask.WithSDKVersion(cfg.SDKVersion))
	}

	var p provider.Provider = metamask.NewProvider("", metamask.NewAPIClient(opts...))
	// Prefer token bucket with burst if RPM is set, otherwise use min-interval
	if cfg.MaxRequestsPerMinute > 0 {
		p = &ratelimit.TokenBucketProvider{Provider: p, TB: ratelimit.PerMinute(cfg.MaxRequestsPerMinute, cfg.Burst)}
	} else if cfg.MinRequestIntervalMs > 0 {
		p = &ratelimit.MinInterval{Provider: p, Interval: time.Duration(cfg.MinRequestIntervalMs) * time.Millisecond}
	}
	return &cache.Provider{Provider: p, TTL: time.Duration(cfg.MarketRateTTLSec) * time.Second}
}
