package util

import (
	"context"
	"sync"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. The function respects context cancellation between
// retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}

// Backoff tracks an exponentially growing hold-off window. Callers record
// failures with Fail and ask Ready before attempting work again; Reset
// clears the window after a success.
type Backoff struct {
	base  time.Duration
	max   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	delay time.Duration
	until time.Time
}

// NewBackoff creates a Backoff whose first window is base, doubling up to max.
func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{base: base, max: max, now: time.Now}
}

// Fail extends the hold-off window and returns its length.
func (b *Backoff) Fail() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.delay == 0 {
		b.delay = b.base
	} else {
		b.delay *= 2
	}
	if b.max > 0 && b.delay > b.max {
		b.delay = b.max
	}
	b.until = b.now().Add(b.delay)
	return b.delay
}

// Ready reports whether the current window has elapsed.
func (b *Backoff) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.until)
}

// Reset clears the window.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = 0
	b.until = time.Time{}
}
