// Package feed defines the market data boundary used by the market cache:
// a provider that returns one ticker's current price and company profile.
// Provider transport and parsing never escape this package; callers only
// see the sentinel errors below or an opaque transient error.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stocksim/internal/config"
)

var (
	// ErrRateLimited is returned when the provider (or the local throttle)
	// refuses a request because the request budget is exhausted.
	ErrRateLimited = errors.New("feed: rate limit exceeded")

	// ErrNotFound is returned when the provider has no data for a ticker.
	ErrNotFound = errors.New("feed: ticker not found")
)

// Profile is the static company description for a ticker.
type Profile struct {
	Company  string
	Industry string
}

// Feed fetches point-in-time market data for a single ticker.
type Feed interface {
	// Name returns the provider identifier (e.g. "finnhub").
	Name() string

	// FetchQuote returns the current price for ticker.
	FetchQuote(ctx context.Context, ticker string) (decimal.Decimal, error)

	// FetchProfile returns the company name and industry for ticker.
	FetchProfile(ctx context.Context, ticker string) (Profile, error)
}

// IsRateLimited reports whether err signals a rate-limit condition.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// New builds the provider selected by cfg.Feed.Provider, wrapped in a local
// throttle sized by cfg.Feed.RateLimitPerMin.
func New(cfg *config.Config) (Feed, error) {
	var f Feed
	switch strings.ToLower(cfg.Feed.Provider) {
	case "finnhub", "":
		if cfg.Feed.APIKey == "" {
			return nil, fmt.Errorf("finnhub feed requires an API key (STOCK_API_KEY)")
		}
		f = NewFinnhub(cfg.Feed.APIKey, cfg.Feed.BaseURL, cfg.Feed.Timeout)
	case "alpaca":
		f = NewAlpaca(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.DataURL, cfg.Feed.Timeout)
	case "yahoo":
		f = NewYahoo(cfg.Feed.Timeout)
	default:
		return nil, fmt.Errorf("unknown feed provider %q", cfg.Feed.Provider)
	}
	return Throttle(f, cfg.Feed.RateLimitPerMin), nil
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// runBlocking runs fn, which cannot itself observe ctx, and returns early
// with ctx.Err() if ctx ends first.
func runBlocking[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
