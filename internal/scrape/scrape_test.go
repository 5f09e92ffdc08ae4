package scrape_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"onrampquotes/internal/config"
	"onrampquotes/internal/provider"
	"onrampquotes/internal/record"
	"onrampquotes/internal/scrape"
)

var fixedNow = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu       sync.Mutex
	rateErr  error
	failFor  map[string]bool // payment methods that fail
	requests []provider.Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Quotes(_ context.Context, req provider.Request) ([]provider.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.failFor[req.PaymentMethod] {
		return nil, errors.New("boom")
	}
	return []provider.Offer{
		{Provider: "Transak", Rank: 1, AmountIn: req.Amount, AmountOut: req.Amount / 2000, NetworkFee: 1},
		{Provider: "MoonPay", Rank: 2, AmountIn: req.Amount, AmountOut: req.Amount / 2100, ProviderFee: 2},
	}, nil
}

func (f *fakeProvider) MarketRate(context.Context, string, string) (float64, error) {
	if f.rateErr != nil {
		return 0, f.rateErr
	}
	return 2000, nil
}

func plan(amounts []float64, methods ...string) config.Scrape {
	return config.Scrape{
		Amounts: amounts,
		Cryptos: []config.Crypto{{Name: "ETH (Mainnet)", ID: "/currencies/crypto/1/0x0000000000000000000000000000000000000000"}},
		Regions: []config.Region{{Code: "de", Fiat: "EUR", PaymentMethods: methods}},
	}
}

func TestRun_WritesOneBatchPerCell(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	w := NewMockWriter(ctrl)
	fp := &fakeProvider{}

	var batches [][]record.Row
	w.EXPECT().
		Write(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rows []record.Row) error {
			batches = append(batches, rows)
			return nil
		}).
		Times(2)

	r := &scrape.Runner{
		Provider: fp,
		Writer:   w,
		Plan:     plan([]float64{30, 100}, "sepa-bank-transfer", "paypal"),
		Now:      func() time.Time { return fixedNow },
	}

	// Act
	stats, err := r.Run(t.Context())

	// Assert
	require.NoError(t, err)
	require.Equal(t, scrape.Stats{Requests: 4, Rows: 8, Batches: 2}, stats)
	require.Len(t, batches, 2)

	first := batches[0]
	require.Len(t, first, 4)
	require.Equal(t, 30.0, first[0].Amount)
	require.Equal(t, "DE", first[0].Region)
	require.Equal(t, "EUR", first[0].FiatCurrency)
	require.Equal(t, "ETH (Mainnet)", first[0].CryptoCurrency)
	require.Equal(t, "sepa-bank-transfer", first[0].PaymentMethod)
	require.Equal(t, "paypal", first[2].PaymentMethod)
	require.EqualValues(t, 2, first[3].Rank)
	require.True(t, first[0].MarketRate.Valid)
	require.Equal(t, fixedNow, first[0].Timestamp)
	require.Equal(t, 100.0, batches[1][0].Amount)

	// Assert: amount is the outer loop
	require.Equal(t, 30.0, fp.requests[0].Amount)
	require.Equal(t, 30.0, fp.requests[1].Amount)
	require.Equal(t, 100.0, fp.requests[2].Amount)
}

func TestRun_SkipsFailedPaymentMethodAndMissingRate(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	w := NewMockWriter(ctrl)
	fp := &fakeProvider{rateErr: provider.ErrNoMarketRate, failFor: map[string]bool{"paypal": true}}

	var written []record.Row
	w.EXPECT().
		Write(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rows []record.Row) error {
			written = rows
			return nil
		}).
		Times(1)

	r := &scrape.Runner{Provider: fp, Writer: w, Plan: plan([]float64{30}, "paypal", "rev-pay")}

	// Act
	stats, err := r.Run(t.Context())

	// Assert
	require.NoError(t, err)
	require.Equal(t, scrape.Stats{Requests: 2, Failures: 1, Rows: 2, Batches: 1}, stats)
	require.Len(t, written, 2)
	for _, row := range written {
		require.Equal(t, "rev-pay", row.PaymentMethod)
		require.False(t, row.MarketRate.Valid)
		require.Zero(t, row.Spread)
	}
}

func TestRun_NoRowsNoWrite(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	w := NewMockWriter(ctrl)
	w.EXPECT().Write(gomock.Any(), gomock.Any()).Times(0)

	fp := &fakeProvider{failFor: map[string]bool{"paypal": true}}
	r := &scrape.Runner{Provider: fp, Writer: w, Plan: plan([]float64{30, 100}, "paypal")}

	stats, err := r.Run(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Failures)
	require.Zero(t, stats.Batches)
}

func TestRun_WriteErrorIsCountedAndRunContinues(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	w := NewMockWriter(ctrl)
	gomock.InOrder(
		w.EXPECT().Write(gomock.Any(), gomock.Any()).Return(errors.New("insert failed")),
		w.EXPECT().Write(gomock.Any(), gomock.Any()).Return(nil),
	)

	r := &scrape.Runner{Provider: &fakeProvider{}, Writer: w, Plan: plan([]float64{30, 100}, "paypal")}

	stats, err := r.Run(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, stats.WriteErrors)
	require.Equal(t, 1, stats.Batches)
	require.Equal(t, 2, stats.Rows)
	require.Equal(t, stats, r.Stats())
}

func TestRun_ConcurrentCells(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	w := NewMockWriter(ctrl)
	w.EXPECT().Write(gomock.Any(), gomock.Len(2)).Return(nil).Times(4)

	p := plan([]float64{30}, "paypal")
	p.Cryptos = append(p.Cryptos, config.Crypto{Name: "USDT (Ethereum)", ID: "/currencies/crypto/1/0xdac17f958d2ee523a2206206994597c13d831ec7"})
	p.Regions = append(p.Regions, config.Region{Code: "gb", Fiat: "GBP", PaymentMethods: []string{"paypal"}})
	p.Concurrency = 4

	r := &scrape.Runner{Provider: &fakeProvider{}, Writer: w, Plan: p}

	// Act
	stats, err := r.Run(t.Context())

	// Assert
	require.NoError(t, err)
	require.Equal(t, scrape.Stats{Requests: 4, Rows: 8, Batches: 4}, stats)
}

func TestRun_CanceledContext(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	w := NewMockWriter(ctrl)
	w.EXPECT().Write(gomock.Any(), gomock.Any()).Times(0)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	fp := &fakeProvider{}
	r := &scrape.Runner{Provider: fp, Writer: w, Plan: plan([]float64{30}, "paypal")}

	_, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, fp.requests)
}

func TestRun_MissingRateWarnsOncePerPair(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	w := NewMockWriter(ctrl)
	w.EXPECT().Write(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	core, logs := observer.New(zapcore.DebugLevel)
	r := &scrape.Runner{
		Provider: &fakeProvider{rateErr: provider.ErrNoMarketRate},
		Writer:   w,
		Plan:     plan([]float64{30, 100, 1100}, "paypal"),
		Logger:   zap.New(core),
		Now:      func() time.Time { return fixedNow },
	}

	// Act
	_, err := r.Run(t.Context())

	// Assert: one warning, the replays at debug
	require.NoError(t, err)
	unavailable := logs.FilterMessage("market rate unavailable")
	require.Equal(t, 1, unavailable.FilterLevelExact(zapcore.WarnLevel).Len())
	require.Equal(t, 2, unavailable.FilterLevelExact(zapcore.DebugLevel).Len())

	// Act: a new run reports the pair again
	w.EXPECT().Write(gomock.Any(), gomock.Any()).Return(nil).Times(3)
	_, err = r.Run(t.Context())

	// Assert
	require.NoError(t, err)
	require.Equal(t, 2, logs.FilterMessage("market rate unavailable").FilterLevelExact(zapcore.WarnLevel).Len())
}
