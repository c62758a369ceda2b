package market

import (
	"context"
	"log/slog"
	"time"

	"stocksim/internal/feed"
	"stocksim/internal/util"
)

// Refresher drives periodic cache refreshes: a full refresh (quotes and
// profiles) every full interval and a price-only refresh every price
// interval. After a rate-limit failure it holds off with exponential backoff.
type Refresher struct {
	cache   *Cache
	full    time.Duration
	prices  time.Duration
	backoff *util.Backoff
	log     *slog.Logger
}

// NewRefresher creates a refresher for c. A non-positive prices interval
// disables price-only refreshes; config maps an unset price_interval to the
// default and keeps a negative one.
func NewRefresher(c *Cache, full, prices time.Duration, log *slog.Logger) *Refresher {
	base := prices
	if base <= 0 || base > full {
		base = full
	}
	return &Refresher{
		cache:   c,
		full:    full,
		prices:  prices,
		backoff: util.NewBackoff(base, 4*full),
		log:     log.With("component", "refresher"),
	}
}

// Run performs an immediate full refresh and then refreshes on schedule
// until ctx is cancelled. It always returns nil.
func (r *Refresher) Run(ctx context.Context) error {
	r.log.Info("starting", "full_interval", r.full.String(), "price_interval", r.prices.String())
	r.tick(ctx, true)

	fullT := time.NewTicker(r.full)
	defer fullT.Stop()

	var priceC <-chan time.Time
	if r.prices > 0 {
		priceT := time.NewTicker(r.prices)
		defer priceT.Stop()
		priceC = priceT.C
	}

	for {
		select {
		case <-ctx.Done():
			r.log.Info("stopped")
			return nil
		case <-fullT.C:
			r.tick(ctx, true)
		case <-priceC:
			r.tick(ctx, false)
		}
	}
}

func (r *Refresher) tick(ctx context.Context, full bool) {
	if !r.backoff.Ready() {
		r.log.Debug("backing off, skipping refresh", "full", full)
		return
	}

	var err error
	if full {
		_, err = r.cache.RefreshAll(ctx)
	} else {
		_, err = r.cache.RefreshPrices(ctx)
	}

	switch {
	case err == nil:
		r.backoff.Reset()
	case ctx.Err() != nil:
	case feed.IsRateLimited(err):
		d := r.backoff.Fail()
		r.log.Warn("rate limited, backing off", "delay", d.String(), "error", err)
	default:
		r.log.Error("refresh failed", "error", err)
	}
}
