package httpx

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy controls how many times a request answered with
// 429 Too Many Requests is sent again. Delay doubles after each attempt.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Client is a small wrapper around http.Client with sane defaults.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Headers   map[string]string
	Retry     RetryPolicy
	Logger    *zap.Logger
}

func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: "onramp-quotes/1.0",
		Retry:     RetryPolicy{Attempts: 3, BaseDelay: time.Second},
		Logger:    zap.NewNop(),
	}
}

// Do sends req, retrying on 429 per the client's RetryPolicy. The last 429
// response is returned as-is once attempts run out so callers can map the
// status. Waiting between attempts honors the request context.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	attempts := c.Retry.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := c.Retry.BaseDelay
	ctx := req.Context()

	for attempt := 1; ; attempt++ {
		r := req
		if attempt > 1 {
			r = req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				r.Body = body
			}
		}
		resp, err := c.HTTP.Do(r)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt >= attempts {
			return resp, nil
		}

		wait := retryAfter(resp.Header.Get("Retry-After"), delay)
		if c.Retry.MaxDelay > 0 && wait > c.Retry.MaxDelay {
			wait = c.Retry.MaxDelay
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()

		c.logger().Warn("rate limited, retrying",
			zap.String("url", req.URL.Redacted()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// retryAfter prefers a Retry-After header given in seconds over the fallback.
func retryAfter(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
