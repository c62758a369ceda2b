package feed

import (
	"context"
	"fmt"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
)

// Compile-time interface check.
var _ Feed = (*Yahoo)(nil)

// Yahoo implements Feed with the unofficial Yahoo Finance quote endpoint. It
// needs no API key. The quote payload has no industry field, so profiles
// leave Industry empty.
type Yahoo struct {
	timeout time.Duration
	get     func(symbol string) (*finance.Quote, error)
}

// NewYahoo creates a Yahoo Finance feed.
func NewYahoo(timeout time.Duration) *Yahoo {
	return &Yahoo{timeout: timeout, get: quote.Get}
}

// Name returns "yahoo".
func (y *Yahoo) Name() string { return "yahoo" }

// FetchQuote returns the regular market price for ticker.
func (y *Yahoo) FetchQuote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	q, err := y.fetch(ctx, ticker)
	if err != nil {
		return decimal.Zero, err
	}
	if q.RegularMarketPrice <= 0 {
		return decimal.Zero, fmt.Errorf("yahoo quote for %s: %w", ticker, ErrNotFound)
	}
	return decimal.NewFromFloat(q.RegularMarketPrice), nil
}

// FetchProfile returns the short name for ticker. Quotes carry no industry,
// so Industry is left empty.
func (y *Yahoo) FetchProfile(ctx context.Context, ticker string) (Profile, error) {
	q, err := y.fetch(ctx, ticker)
	if err != nil {
		return Profile{}, err
	}
	if q.ShortName == "" {
		return Profile{}, fmt.Errorf("yahoo profile for %s: %w", ticker, ErrNotFound)
	}
	return Profile{Company: q.ShortName}, nil
}

func (y *Yahoo) fetch(ctx context.Context, ticker string) (*finance.Quote, error) {
	ctx, cancel := withTimeout(ctx, y.timeout)
	defer cancel()

	q, err := runBlocking(ctx, func() (*finance.Quote, error) {
		return y.get(ticker)
	})
	if err != nil {
		return nil, fmt.Errorf("yahoo quote for %s: %w", ticker, err)
	}
	if q == nil {
		return nil, fmt.Errorf("yahoo quote for %s: %w", ticker, ErrNotFound)
	}
	return q, nil
}
