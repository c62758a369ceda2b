package feed

import (
	"context"

	"github.com/shopspring/decimal"

	"stocksim/internal/util"
)

// Compile-time interface check.
var _ Feed = (*Throttled)(nil)

// Throttled guards a Feed with a client-side token bucket. An empty bucket
// fails the call immediately with ErrRateLimited instead of waiting.
type Throttled struct {
	next    Feed
	limiter *util.RateLimiter
}

// Throttle wraps f so that at most perMinute calls reach it per minute.
func Throttle(f Feed, perMinute int) *Throttled {
	return &Throttled{next: f, limiter: util.NewRateLimiter(perMinute)}
}

// Name returns the wrapped provider's name.
func (t *Throttled) Name() string { return t.next.Name() }

// FetchQuote forwards to the wrapped feed if a token is available.
func (t *Throttled) FetchQuote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if !t.limiter.Allow() {
		return decimal.Zero, ErrRateLimited
	}
	return t.next.FetchQuote(ctx, ticker)
}

// FetchProfile forwards to the wrapped feed if a token is available.
func (t *Throttled) FetchProfile(ctx context.Context, ticker string) (Profile, error) {
	if !t.limiter.Allow() {
		return Profile{}, ErrRateLimited
	}
	return t.next.FetchProfile(ctx, ticker)
}
