// Package scrape walks the amount × crypto × region × payment-method matrix,
// turns every offer into a record.Row and hands the rows to a Writer.
package scrape

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"onrampquotes/internal/config"
	"onrampquotes/internal/provider"
	"onrampquotes/internal/record"
)

//go:generate mockgen -package=scrape_test -destination=mock_writer_test.go -source=scrape.go Writer

// Writer receives one batch of rows per (amount, crypto, region) cell.
type Writer interface {
	Write(ctx context.Context, rows []record.Row) error
}

// Stats counts what a run did.
type Stats struct {
	Requests    int `json:"requests"`
	Failures    int `json:"failures"`
	Rows        int `json:"rows"`
	Batches     int `json:"batches"`
	WriteErrors int `json:"write_errors"`
}

// Runner performs one scrape over Plan.
type Runner struct {
	Provider provider.Provider
	Writer   Writer
	Plan     config.Scrape
	Logger   *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time

	mu         sync.Mutex
	stats      Stats
	rateWarned map[[2]string]bool
}

type cell struct {
	amount float64
	crypto config.Crypto
	region config.Region
}

// Run scrapes every cell of the plan. Failed quote requests and failed
// writes are logged and counted; Run only returns an error when ctx ends.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	r.mu.Lock()
	r.stats = Stats{}
	r.mu.Unlock()

	log := r.logger().With(zap.String("run_id", uuid.NewString()))
	limit := r.Plan.Concurrency
	if limit < 1 {
		limit = 1
	}

	for _, amount := range r.Plan.Amounts {
		log.Info("fetching quotes", zap.Float64("amount", amount))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for _, crypto := range r.Plan.Cryptos {
			for _, region := range r.Plan.Regions {
				c := cell{amount: amount, crypto: crypto, region: region}
				g.Go(func() error {
					return r.runCell(gctx, log, c)
				})
			}
		}
		if err := g.Wait(); err != nil {
			return r.Stats(), err
		}
	}
	return r.Stats(), ctx.Err()
}

// Stats returns the counters of the current or last run.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Runner) runCell(ctx context.Context, log *zap.Logger, c cell) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log = log.With(
		zap.Float64("amount", c.amount),
		zap.String("crypto", c.crypto.Name),
		zap.String("region", c.region.Code),
		zap.String("fiat", c.region.Fiat),
	)

	rate, err := r.Provider.MarketRate(ctx, c.crypto.ID, c.region.Fiat)
	switch {
	case err == nil:
		log.Debug("market rate", zap.Float64("rate", rate))
	case isCanceled(ctx, err):
		return err
	case r.firstRateFailure(c.crypto.ID, c.region.Fiat):
		log.Warn("market rate unavailable", zap.Error(err))
		rate = 0
	default:
		// same pair already reported in this run
		log.Debug("market rate unavailable", zap.Error(err))
		rate = 0
	}

	var rows []record.Row
	for _, method := range c.region.PaymentMethods {
		offers, err := r.Provider.Quotes(ctx, provider.Request{
			Region:        c.region.Code,
			Fiat:          c.region.Fiat,
			Amount:        c.amount,
			PaymentMethod: method,
			CryptoID:      c.crypto.ID,
		})
		r.count(func(s *Stats) {
			s.Requests++
			if err != nil {
				s.Failures++
			}
		})
		if err != nil {
			if isCanceled(ctx, err) {
				return err
			}
			log.Warn("quote request failed", zap.String("payment_method", method), zap.Error(err))
			continue
		}

		rc := record.Context{
			At:             r.now(),
			CryptoCurrency: c.crypto.Name,
			Fiat:           c.region.Fiat,
			Region:         c.region.Code,
			PaymentMethod:  method,
			MarketRate:     rate,
		}
		for _, o := range offers {
			rows = append(rows, record.Build(rc, o))
		}
	}

	if len(rows) == 0 {
		return nil
	}

	log.Info("inserting rows", zap.Int("rows", len(rows)))
	if err := r.Writer.Write(ctx, rows); err != nil {
		if isCanceled(ctx, err) {
			return err
		}
		log.Error("write failed", zap.Int("rows", len(rows)), zap.Error(err))
		r.count(func(s *Stats) { s.WriteErrors++ })
		return nil
	}
	r.count(func(s *Stats) {
		s.Batches++
		s.Rows += len(rows)
	})
	return nil
}

func (r *Runner) count(f func(*Stats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}

// firstRateFailure reports whether this run has not yet warned about the pair.
func (r *Runner) firstRateFailure(cryptoID, fiat string) bool {
	key := [2]string{cryptoID, fiat}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rateWarned[key] {
		return false
	}
	if r.rateWarned == nil {
		r.rateWarned = make(map[[2]string]bool)
	}
	r.rateWarned[key] = true
	return true
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
