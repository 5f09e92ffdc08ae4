package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"onrampquotes/internal/provider"
)

// entry stores a market rate lookup outcome with expiry.
// A zero expiresAt never expires.
type entry struct {
	rate      float64
	err       error
	expiresAt time.Time
}

func (e entry) valid(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// Provider memoizes MarketRate per (cryptoID, fiat). Failed lookups are
// remembered too, so a pair that had no rate is not asked again until the
// entry expires. Concurrent lookups of the same pair share one request.
// Quotes pass through uncached.
type Provider struct {
	provider.Provider
	// TTL <= 0 keeps entries for the life of the Provider.
	TTL      time.Duration
	MaxItems int

	mu    sync.RWMutex
	items map[string]entry
	sf    singleflight.Group
}

func key(cryptoID, fiat string) string { return cryptoID + "_" + fiat }

func (c *Provider) MarketRate(ctx context.Context, cryptoID, fiat string) (float64, error) {
	k := key(cryptoID, fiat)
	if e, ok := c.lookup(k); ok {
		return e.rate, e.err
	}

	v, _, _ := c.sf.Do(k, func() (any, error) {
		if e, ok := c.lookup(k); ok {
			return e, nil
		}
		rate, err := c.Provider.MarketRate(ctx, cryptoID, fiat)
		e := entry{rate: rate, err: err}
		if c.TTL > 0 {
			e.expiresAt = time.Now().Add(c.TTL)
		}
		// cancellation says nothing about the pair
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return e, nil
		}
		c.store(k, e)
		return e, nil
	})
	e := v.(entry)
	return e.rate, e.err
}

// Len reports how many pairs are cached, expired or not.
func (c *Provider) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Provider) lookup(k string) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[k]
	if !ok || !e.valid(time.Now()) {
		return entry{}, false
	}
	return e, true
}

func (c *Provider) store(k string, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[string]entry)
	}
	c.items[k] = e
	if c.MaxItems <= 0 || len(c.items) <= c.MaxItems {
		return
	}
	now := time.Now()
	for kk, v := range c.items {
		if !v.valid(now) {
			delete(c.items, kk)
		}
	}
	// still too big: drop arbitrary keys but keep the one just stored
	for kk := range c.items {
		if len(c.items) <= c.MaxItems {
			break
		}
		if kk != k {
			delete(c.items, kk)
		}
	}
}
