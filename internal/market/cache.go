// Package market maintains the process-wide market snapshot cache. The cache
// is refreshed from a feed.Feed for a fixed watch-list of tickers and serves
// lock-protected point-in-time lookups to the trading engine.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stocksim/internal/domain"
	"stocksim/internal/feed"
)

// SnapshotRecorder receives the snapshots written by each refresh.
type SnapshotRecorder interface {
	WriteSnapshots(ctx context.Context, stocks []domain.Stock) error
}

// Cache holds the latest Stock snapshot for every watched ticker.
//
// Readers never observe a partially built Stock: each refresh builds a new
// value and publishes it under the write lock in a single map assignment.
// There is no cross-ticker atomicity; a reader may see a batch in flight.
type Cache struct {
	feed     feed.Feed
	tickers  []string
	recorder SnapshotRecorder
	log      *slog.Logger
	now      func() time.Time

	// refreshMu serialises refresh batches against each other.
	refreshMu sync.Mutex

	mu          sync.RWMutex
	stocks      map[string]domain.Stock
	lastRefresh time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithRecorder makes the cache append every refreshed snapshot to r.
func WithRecorder(r SnapshotRecorder) Option {
	return func(c *Cache) { c.recorder = r }
}

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache tracking tickers, in order, from f.
func NewCache(f feed.Feed, tickers []string, log *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		feed:    f,
		tickers: NormalizeTickers(tickers),
		log:     log.With("component", "market-cache", "feed", f.Name()),
		now:     time.Now,
		stocks:  make(map[string]domain.Stock),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Tickers returns the watch-list in configured order.
func (c *Cache) Tickers() []string {
	out := make([]string, len(c.tickers))
	copy(out, c.tickers)
	return out
}

// GetStock returns the cached snapshot for ticker. It never touches the
// network.
func (c *Cache) GetStock(ticker string) (domain.Stock, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stocks[NormalizeTicker(ticker)]
	return s, ok
}

// Stocks returns a copy of every cached snapshot.
func (c *Cache) Stocks() map[string]domain.Stock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.Stock, len(c.stocks))
	for t, s := range c.stocks {
		out[t] = s
	}
	return out
}

// LastRefresh returns when the last batch finished, or the zero time.
func (c *Cache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// Seed inserts snapshots for tickers that have no entry yet. It is used to
// warm-start the cache from recorded history and returns the number added.
func (c *Cache) Seed(stocks []domain.Stock) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range stocks {
		s.Ticker = NormalizeTicker(s.Ticker)
		if _, ok := c.stocks[s.Ticker]; ok || s.Ticker == "" {
			continue
		}
		c.stocks[s.Ticker] = s
		n++
	}
	return n
}

// RefreshAll fetches a quote (required) and a profile (best effort) for
// every watched ticker and publishes the results.
//
// A failed profile lookup keeps the previously known profile, or records the
// ticker as unresolved. A transient quote failure leaves the ticker's old
// snapshot in place and moves on. A rate-limited quote aborts the batch:
// tickers already processed stay updated and the error is returned.
func (c *Cache) RefreshAll(ctx context.Context) (map[string]domain.Stock, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	start := time.Now()
	var updated []domain.Stock
	for _, ticker := range c.tickers {
		if err := ctx.Err(); err != nil {
			c.record(ctx, updated)
			return nil, fmt.Errorf("refresh cancelled before %s: %w", ticker, err)
		}

		price, err := c.feed.FetchQuote(ctx, ticker)
		if err != nil {
			if feed.IsRateLimited(err) {
				c.log.Error("rate limit reached, aborting refresh", "ticker", ticker, "updated", len(updated))
				c.record(ctx, updated)
				return nil, fmt.Errorf("refreshing %s: %w", ticker, err)
			}
			c.log.Warn("quote fetch failed, keeping previous snapshot", "ticker", ticker, "error", err)
			continue
		}

		profile := c.resolveProfile(ctx, ticker)
		stock := domain.Stock{
			Ticker:    ticker,
			Profile:   profile,
			Price:     price,
			UpdatedAt: c.now().UTC(),
		}
		c.publish(stock)
		updated = append(updated, stock)
	}

	c.finish(ctx, updated, "all", start)
	return c.Stocks(), nil
}

// RefreshPrices is the lighter variant of RefreshAll: only quotes are
// fetched. A ticker seen for the first time is recorded with an unresolved
// profile.
func (c *Cache) RefreshPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	start := time.Now()
	var updated []domain.Stock
	for _, ticker := range c.tickers {
		if err := ctx.Err(); err != nil {
			c.record(ctx, updated)
			return nil, fmt.Errorf("price refresh cancelled before %s: %w", ticker, err)
		}

		price, err := c.feed.FetchQuote(ctx, ticker)
		if err != nil {
			if feed.IsRateLimited(err) {
				c.log.Error("rate limit reached, aborting price refresh", "ticker", ticker, "updated", len(updated))
				c.record(ctx, updated)
				return nil, fmt.Errorf("refreshing price of %s: %w", ticker, err)
			}
			c.log.Warn("quote fetch failed, keeping previous price", "ticker", ticker, "error", err)
			continue
		}

		prev, ok := c.GetStock(ticker)
		if !ok {
			prev = domain.Stock{Ticker: ticker}
		}
		stock := prev.WithPrice(price, c.now().UTC())
		c.publish(stock)
		updated = append(updated, stock)
	}

	c.finish(ctx, updated, "prices", start)

	c.mu.RLock()
	defer c.mu.RUnlock()
	prices := make(map[string]decimal.Decimal, len(c.stocks))
	for t, s := range c.stocks {
		prices[t] = s.Price
	}
	return prices, nil
}

func (c *Cache) resolveProfile(ctx context.Context, ticker string) domain.Profile {
	p, err := c.feed.FetchProfile(ctx, ticker)
	if err == nil {
		return domain.Profile{Company: p.Company, Industry: p.Industry, Resolved: true}
	}

	level := slog.LevelWarn
	if errors.Is(err, feed.ErrNotFound) {
		level = slog.LevelDebug
	}
	c.log.Log(ctx, level, "profile fetch failed", "ticker", ticker, "error", err)

	if prev, ok := c.GetStock(ticker); ok {
		return prev.Profile
	}
	return domain.Profile{}
}

func (c *Cache) publish(s domain.Stock) {
	c.mu.Lock()
	c.stocks[s.Ticker] = s
	c.mu.Unlock()
}

func (c *Cache) finish(ctx context.Context, updated []domain.Stock, kind string, start time.Time) {
	c.mu.Lock()
	c.lastRefresh = c.now().UTC()
	c.mu.Unlock()

	c.record(ctx, updated)
	c.log.Info("refresh complete",
		"kind", kind,
		"updated", len(updated),
		"watched", len(c.tickers),
		"elapsed", time.Since(start).String(),
	)
}

// record hands snapshots to the recorder. Failures are logged only.
func (c *Cache) record(ctx context.Context, stocks []domain.Stock) {
	if c.recorder == nil || len(stocks) == 0 {
		return
	}
	if err := c.recorder.WriteSnapshots(context.WithoutCancel(ctx), stocks); err != nil {
		c.log.Warn("recording snapshots", "count", len(stocks), "error", err)
	}
}
