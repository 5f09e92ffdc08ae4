package ratelimit

import (
	"context"
	"sync"
	"time"

	"onrampquotes/internal/provider"
)

// MinInterval wraps a provider and enforces a minimum time between Quotes
// calls. Concurrent calls serialize on the gate; a canceled context returns
// early. MarketRate lookups are not gated.
type MinInterval struct {
	provider.Provider
	Interval time.Duration

	mu   sync.Mutex
	next time.Time
}

func (m *MinInterval) Quotes(ctx context.Context, req provider.Request) ([]provider.Offer, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.Provider.Quotes(ctx, req)
}

// wait reserves the next slot and sleeps until it arrives.
func (m *MinInterval) wait(ctx context.Context) error {
	if m.Interval <= 0 {
		return nil
	}
	m.mu.Lock()
	now := time.Now()
	slot := m.next
	if slot.Before(now) {
		slot = now
	}
	m.next = slot.Add(m.Interval)
	m.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
