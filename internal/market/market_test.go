package market

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksim/internal/domain"
	"stocksim/internal/feed"
	"stocksim/internal/util"
)

// stubFeed serves scripted prices and profiles.
type stubFeed struct {
	mu          sync.Mutex
	prices      map[string]decimal.Decimal
	profiles    map[string]feed.Profile
	quoteErr    map[string]error
	profileErr  map[string]error
	quoteCalls  []string
	profileCall int
}

func newStubFeed() *stubFeed {
	return &stubFeed{
		prices:     map[string]decimal.Decimal{},
		profiles:   map[string]feed.Profile{},
		quoteErr:   map[string]error{},
		profileErr: map[string]error{},
	}
}

func (f *stubFeed) Name() string { return "stub" }

func (f *stubFeed) FetchQuote(_ context.Context, ticker string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls = append(f.quoteCalls, ticker)
	if err := f.quoteErr[ticker]; err != nil {
		return decimal.Zero, err
	}
	p, ok := f.prices[ticker]
	if !ok {
		return decimal.Zero, feed.ErrNotFound
	}
	return p, nil
}

func (f *stubFeed) FetchProfile(_ context.Context, ticker string) (feed.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCall++
	if err := f.profileErr[ticker]; err != nil {
		return feed.Profile{}, err
	}
	p, ok := f.profiles[ticker]
	if !ok {
		return feed.Profile{}, feed.ErrNotFound
	}
	return p, nil
}

func (f *stubFeed) set(ticker string, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[ticker] = decimal.RequireFromString(price)
}

type memRecorder struct {
	mu     sync.Mutex
	stocks []domain.Stock
}

func (r *memRecorder) WriteSnapshots(_ context.Context, s []domain.Stock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stocks = append(r.stocks, s...)
	return nil
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestLoadWatchlist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickers.txt")
	content := "aapl\n\n# comment\n MSFT \nAAPL\ngoog\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := LoadWatchlist(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOG"}, got)
}

func TestLoadWatchlistMissing(t *testing.T) {
	_, err := LoadWatchlist(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestRefreshAllPopulates(t *testing.T) {
	f := newStubFeed()
	f.set("AAPL", "150.25")
	f.set("MSFT", "410")
	f.profiles["AAPL"] = feed.Profile{Company: "Apple Inc", Industry: "Technology"}

	rec := &memRecorder{}
	c := NewCache(f, []string{"AAPL", "MSFT"}, util.Discard(), WithRecorder(rec), WithClock(fixedClock()))

	got, err := c.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	aapl, ok := c.GetStock("aapl")
	require.True(t, ok)
	assert.True(t, aapl.Price.Equal(decimal.RequireFromString("150.25")))
	assert.True(t, aapl.Profile.Resolved)
	assert.Equal(t, "Apple Inc", aapl.Profile.DisplayCompany())

	// MSFT has no profile: still recorded, with placeholders.
	msft, ok := c.GetStock("MSFT")
	require.True(t, ok)
	assert.False(t, msft.Profile.Resolved)
	assert.Equal(t, domain.UnknownCompany, msft.Profile.DisplayCompany())
	assert.Equal(t, domain.UnknownIndustry, msft.Profile.DisplayIndustry())

	assert.Len(t, rec.stocks, 2)
	assert.False(t, c.LastRefresh().IsZero())
}

func TestRefreshAllSkipsTransientFailure(t *testing.T) {
	f := newStubFeed()
	f.set("AAPL", "100")
	f.set("MSFT", "200")
	c := NewCache(f, []string{"AAPL", "MSFT"}, util.Discard())

	_, err := c.RefreshAll(context.Background())
	require.NoError(t, err)

	f.set("AAPL", "101")
	f.quoteErr["MSFT"] = errors.New("connection reset")

	_, err = c.RefreshAll(context.Background())
	require.NoError(t, err)

	aapl, _ := c.GetStock("AAPL")
	msft, _ := c.GetStock("MSFT")
	assert.True(t, aapl.Price.Equal(decimal.NewFromInt(101)))
	assert.True(t, msft.Price.Equal(decimal.NewFromInt(200)), "failed ticker keeps old snapshot")
}

func TestRefreshAllAbortsOnRateLimit(t *testing.T) {
	f := newStubFeed()
	tickers := []string{"AAA", "BBB", "CCC", "DDD"}
	for _, tk := range tickers {
		f.set(tk, "10")
	}
	c := NewCache(f, tickers, util.Discard())
	_, err := c.RefreshAll(context.Background())
	require.NoError(t, err)

	for _, tk := range tickers {
		f.set(tk, "20")
	}
	f.quoteErr["CCC"] = fmt.Errorf("finnhub: %w", feed.ErrRateLimited)

	got, err := c.RefreshAll(context.Background())
	require.Error(t, err)
	assert.True(t, feed.IsRateLimited(err))
	assert.Nil(t, got)

	want := map[string]string{"AAA": "20", "BBB": "20", "CCC": "10", "DDD": "10"}
	for tk, p := range want {
		s, ok := c.GetStock(tk)
		require.True(t, ok, tk)
		assert.True(t, s.Price.Equal(decimal.RequireFromString(p)), "%s price = %s, want %s", tk, s.Price, p)
	}

	// No quote requested after the rate-limited ticker.
	f.mu.Lock()
	calls := f.quoteCalls[len(f.quoteCalls)-3:]
	f.mu.Unlock()
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, calls)
}

func TestRefreshAllKeepsResolvedProfile(t *testing.T) {
	f := newStubFeed()
	f.set("AAPL", "100")
	f.profiles["AAPL"] = feed.Profile{Company: "Apple Inc", Industry: "Technology"}
	c := NewCache(f, []string{"AAPL"}, util.Discard())
	_, err := c.RefreshAll(context.Background())
	require.NoError(t, err)

	f.profileErr["AAPL"] = errors.New("timeout")
	_, err = c.RefreshAll(context.Background())
	require.NoError(t, err)

	s, _ := c.GetStock("AAPL")
	assert.True(t, s.Profile.Resolved)
	assert.Equal(t, "Apple Inc", s.Profile.Company)
}

func TestRefreshPrices(t *testing.T) {
	f := newStubFeed()
	f.set("AAPL", "100")
	f.profiles["AAPL"] = feed.Profile{Company: "Apple Inc", Industry: "Technology"}
	c := NewCache(f, []string{"AAPL"}, util.Discard())
	_, err := c.RefreshAll(context.Background())
	require.NoError(t, err)
	calls := f.profileCall

	f.set("AAPL", "105.5")
	prices, err := c.RefreshPrices(context.Background())
	require.NoError(t, err)
	assert.True(t, prices["AAPL"].Equal(decimal.RequireFromString("105.5")))
	assert.Equal(t, calls, f.profileCall, "price refresh must not fetch profiles")

	s, _ := c.GetStock("AAPL")
	assert.True(t, s.Profile.Resolved, "profile survives a price refresh")
}

func TestRefreshPricesInsertsUnresolved(t *testing.T) {
	f := newStubFeed()
	f.set("NEW", "7")
	c := NewCache(f, []string{"NEW"}, util.Discard())

	_, err := c.RefreshPrices(context.Background())
	require.NoError(t, err)
	s, ok := c.GetStock("NEW")
	require.True(t, ok)
	assert.False(t, s.Profile.Resolved)
	assert.Equal(t, "NEW", s.Ticker)
}

func TestRefreshCancelled(t *testing.T) {
	f := newStubFeed()
	f.set("AAPL", "1")
	c := NewCache(f, []string{"AAPL"}, util.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.RefreshAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := c.GetStock("AAPL")
	assert.False(t, ok)
}

func TestGetStockMissing(t *testing.T) {
	c := NewCache(newStubFeed(), []string{"AAPL"}, util.Discard())
	_, ok := c.GetStock("AAPL")
	assert.False(t, ok)
}

func TestSeed(t *testing.T) {
	f := newStubFeed()
	c := NewCache(f, []string{"AAPL"}, util.Discard())
	f.set("AAPL", "2")
	_, err := c.RefreshAll(context.Background())
	require.NoError(t, err)

	n := c.Seed([]domain.Stock{
		{Ticker: "aapl", Price: decimal.NewFromInt(1)},
		{Ticker: "IBM", Price: decimal.NewFromInt(3)},
	})
	assert.Equal(t, 1, n)
	s, _ := c.GetStock("AAPL")
	assert.True(t, s.Price.Equal(decimal.NewFromInt(2)), "seed never overwrites")
	_, ok := c.GetStock("IBM")
	assert.True(t, ok)
}

// Readers racing a refresh must always see a price paired with the profile
// fetched in the same cycle.
func TestConcurrentReadsSeeConsistentSnapshots(t *testing.T) {
	f := newStubFeed()
	c := NewCache(f, []string{"AAPL"}, util.Discard())

	var stop atomic.Bool
	var wg sync.WaitGroup
	var bad atomic.Int64
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				s, ok := c.GetStock("AAPL")
				if !ok {
					continue
				}
				if s.Profile.Company != "cycle-"+s.Price.String() {
					bad.Add(1)
				}
			}
		}()
	}

	for i := 1; i <= 200; i++ {
		f.mu.Lock()
		f.prices["AAPL"] = decimal.NewFromInt(int64(i))
		f.profiles["AAPL"] = feed.Profile{Company: fmt.Sprintf("cycle-%d", i), Industry: "x"}
		f.mu.Unlock()
		_, err := c.RefreshAll(context.Background())
		require.NoError(t, err)
	}
	stop.Store(true)
	wg.Wait()
	assert.Zero(t, bad.Load())
}

func TestRefresherRunsImmediately(t *testing.T) {
	f := newStubFeed()
	f.set("AAPL", "10")
	c := NewCache(f, []string{"AAPL"}, util.Discard())
	r := NewRefresher(c, time.Hour, time.Hour, util.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := c.GetStock("AAPL")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestRefresherBacksOffOnRateLimit(t *testing.T) {
	f := newStubFeed()
	f.quoteErr["AAPL"] = feed.ErrRateLimited
	c := NewCache(f, []string{"AAPL"}, util.Discard())
	r := NewRefresher(c, time.Hour, time.Hour, util.Discard())

	r.tick(context.Background(), true)
	assert.False(t, r.backoff.Ready())

	// While backing off, no quote is requested.
	before := len(f.quoteCalls)
	r.tick(context.Background(), false)
	assert.Equal(t, before, len(f.quoteCalls))
}

func TestRefresherNegativePriceIntervalOnlyFull(t *testing.T) {
	f := newStubFeed()
	f.set("AAPL", "10")
	c := NewCache(f, []string{"AAPL"}, util.Discard())
	r := NewRefresher(c, time.Hour, -time.Second, util.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := c.GetStock("AAPL")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"AAPL"}, f.quoteCalls, "only the initial full refresh runs")
}
