package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"onrampquotes/internal/provider"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls []time.Time
	rates int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Quotes(_ context.Context, req provider.Request) ([]provider.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, time.Now())
	return []provider.Offer{{Provider: "p", Rank: 1, AmountIn: req.Amount}}, nil
}

func (f *fakeProvider) MarketRate(context.Context, string, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates++
	return 1, nil
}

func TestMinInterval_SpacesQuoteCalls(t *testing.T) {
	t.Parallel()

	fp := &fakeProvider{}
	m := &MinInterval{Provider: fp, Interval: 20 * time.Millisecond}

	for i := 0; i < 3; i++ {
		offers, err := m.Quotes(t.Context(), provider.Request{Amount: 30})
		require.NoError(t, err)
		require.Len(t, offers, 1)
	}

	require.Len(t, fp.calls, 3)
	for i := 1; i < len(fp.calls); i++ {
		require.GreaterOrEqual(t, fp.calls[i].Sub(fp.calls[i-1]), 15*time.Millisecond)
	}
	require.Equal(t, "fake", m.Name())
}

func TestMinInterval_DoesNotGateMarketRate(t *testing.T) {
	t.Parallel()

	fp := &fakeProvider{}
	m := &MinInterval{Provider: fp, Interval: time.Hour}

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := m.MarketRate(t.Context(), "x", "EUR")
		require.NoError(t, err)
	}
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 3, fp.rates)
}

func TestMinInterval_ContextCanceled(t *testing.T) {
	t.Parallel()

	fp := &fakeProvider{}
	m := &MinInterval{Provider: fp, Interval: time.Hour}

	_, err := m.Quotes(t.Context(), provider.Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Quotes(ctx, provider.Request{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, fp.calls, 1)
}

func TestTokenBucket_BurstThenWait(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(50, 2)
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, tb.Wait(t.Context()))
	}
	// two tokens are free, the third needs ~20ms of refill
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestTokenBucketProvider_GatesBothCalls(t *testing.T) {
	t.Parallel()

	fp := &fakeProvider{}
	p := &TokenBucketProvider{Provider: fp, TB: PerMinute(1, 1)}

	_, err := p.Quotes(t.Context(), provider.Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = p.MarketRate(ctx, "x", "EUR")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, fp.rates)
}
