package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksim/internal/app"
	"stocksim/internal/config"
	"stocksim/internal/domain"
	"stocksim/internal/engine"
	"stocksim/internal/feed"
	"stocksim/internal/httpapi"
	"stocksim/internal/store"
	"stocksim/internal/util"
)

type priceFeed struct{}

func (priceFeed) Name() string { return "price" }
func (priceFeed) FetchQuote(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(150), nil
}
func (priceFeed) FetchProfile(context.Context, string) (feed.Profile, error) {
	return feed.Profile{Company: "Apple Inc", Industry: "Technology"}, nil
}

type downFeed struct{}

func (downFeed) Name() string { return "down" }
func (downFeed) FetchQuote(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, fmt.Errorf("provider unavailable")
}
func (downFeed) FetchProfile(context.Context, string) (feed.Profile, error) {
	return feed.Profile{}, fmt.Errorf("provider unavailable")
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Storage: config.Storage{Driver: "sqlite", SQLitePath: filepath.Join(dir, "users.db"), DataDir: dir},
		Market: config.MarketConfig{
			Tickers:         []string{"AAPL"},
			RefreshInterval: time.Minute,
			PriceInterval:   time.Minute,
		},
		Trading: config.TradingConfig{InitialBalance: 1000},
	}
}

// localFactory opens a fresh App on the same sqlite file each invocation,
// the way separate CLI processes would.
func localFactory(t *testing.T) AppFactory {
	dir := t.TempDir()
	return func(ctx context.Context, _ string) (*app.App, error) {
		return app.NewWithFeed(ctx, testConfig(dir), priceFeed{}, util.Discard())
	}
}

func run(t *testing.T, f AppFactory, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STOCKSIM_SERVER", "")
	t.Setenv("STOCKSIM_CREDENTIAL", "")
	var out bytes.Buffer
	cmd := NewRootCmd(Options{Out: &out, NewApp: f})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

var credentialRe = regexp.MustCompile(`STOCKSIM_CREDENTIAL=(\S+)`)

func credentialFrom(t *testing.T, out string) string {
	t.Helper()
	m := credentialRe.FindStringSubmatch(out)
	require.Len(t, m, 2, "no credential in output:\n%s", out)
	return m[1]
}

func TestLocalSession(t *testing.T) {
	f := localFactory(t)

	out, err := run(t, f, "user", "create", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "$1,000.00")
	cred := credentialFrom(t, out)

	out, err = run(t, f, "quote", "aapl")
	require.NoError(t, err)
	assert.Contains(t, out, "Apple Inc")
	assert.Contains(t, out, "$150.00")

	out, err = run(t, f, "buy", "AAPL", "5", "--credential", cred)
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCESS")
	assert.Contains(t, out, "Balance: $250.00")

	out, err = run(t, f, "account", "--credential", cred)
	require.NoError(t, err)
	assert.Contains(t, out, "$1,000.00", "equity")
	assert.Contains(t, out, "AAPL")

	out, err = run(t, f, "history", "--credential", cred)
	require.NoError(t, err)
	assert.Contains(t, out, "BUY")
	assert.Contains(t, out, "$750.00")
}

// recordedFactory opens the App with snapshot history enabled after writing
// a month-old AAPL@100 snapshot, and serves quotes from f.
func recordedFactory(t *testing.T, f feed.Feed) AppFactory {
	dir := t.TempDir()
	old := domain.Stock{
		Ticker:    "AAPL",
		Profile:   domain.Profile{Company: "Apple Inc", Industry: "Technology", Resolved: true},
		Price:     decimal.NewFromInt(100),
		UpdatedAt: time.Now().AddDate(0, 0, -30),
	}
	require.NoError(t, store.NewParquetStore(dir).WriteSnapshots(context.Background(), []domain.Stock{old}))

	return func(ctx context.Context, _ string) (*app.App, error) {
		cfg := testConfig(dir)
		cfg.Market.RecordHistory = true
		return app.NewWithFeed(ctx, cfg, f, util.Discard())
	}
}

func TestLocalOrderUsesCurrentPriceOverHistory(t *testing.T) {
	f := recordedFactory(t, priceFeed{})

	out, err := run(t, f, "user", "create", "erin")
	require.NoError(t, err)
	cred := credentialFrom(t, out)

	out, err = run(t, f, "buy", "AAPL", "5", "--credential", cred)
	require.NoError(t, err)
	assert.Contains(t, out, "@ $150.00")
	assert.Contains(t, out, "Balance: $250.00")
	assert.NotContains(t, out, "$100.00")
}

func TestLocalQuoteFallsBackToHistory(t *testing.T) {
	f := recordedFactory(t, downFeed{})

	out, err := run(t, f, "quote", "AAPL")
	require.NoError(t, err)
	assert.Contains(t, out, "$100.00")
}

func TestLocalSessionErrors(t *testing.T) {
	f := localFactory(t)
	out, err := run(t, f, "user", "create", "bob", "--balance", "100")
	require.NoError(t, err)
	cred := credentialFrom(t, out)

	tests := []struct {
		name string
		args []string
		want engine.Outcome
	}{
		{"missing credential", []string{"buy", "AAPL", "1"}, engine.OutcomeValidationFailed},
		{"unknown credential", []string{"account", "--credential", "nope"}, engine.OutcomeValidationFailed},
		{"bad quantity", []string{"buy", "AAPL", "x", "--credential", cred}, engine.OutcomeInvalidOrder},
		{"zero quantity", []string{"buy", "AAPL", "0", "--credential", cred}, engine.OutcomeInvalidOrder},
		{"unknown ticker", []string{"buy", "ZZZZ", "1", "--credential", cred}, engine.OutcomeStockNotFound},
		{"insufficient funds", []string{"buy", "AAPL", "1", "--credential", cred}, engine.OutcomeInsufficientFunds},
		{"uncovered short", []string{"sell", "AAPL", "1", "--credential", cred}, engine.OutcomeInsufficientMarginCall},
		{"bad balance", []string{"user", "create", "carol", "--balance", "lots"}, engine.OutcomeInvalidOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, f, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.want, engine.Classify(err))
			assert.Contains(t, FormatError(err), string(tt.want))
		})
	}
}

func TestRemoteSession(t *testing.T) {
	ctx := context.Background()
	a, err := app.NewWithFeed(ctx, testConfig(t.TempDir()), priceFeed{}, util.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	_, err = a.Cache.RefreshAll(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(httpapi.NewServer(a.Engine, a.Cache, nil, a.InitialBalance(), util.Discard()).Handler())
	t.Cleanup(srv.Close)

	noLocal := func(context.Context, string) (*app.App, error) {
		return nil, fmt.Errorf("local simulator opened in remote mode")
	}

	out, err := run(t, noLocal, "--server", srv.URL, "user", "create", "dave")
	require.NoError(t, err)
	cred := credentialFrom(t, out)

	out, err = run(t, noLocal, "--server", srv.URL, "stocks")
	require.NoError(t, err)
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "Technology")

	out, err = run(t, noLocal, "--server", srv.URL, "refresh", "--prices")
	require.NoError(t, err)
	assert.Contains(t, out, "$150.00")

	out, err = run(t, noLocal, "--server", srv.URL, "--credential", cred, "sell", "AAPL", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Balance: $1,300.00")
	assert.Contains(t, out, "short")

	_, err = run(t, noLocal, "--server", srv.URL, "--credential", cred, "buy", "AAPL", "100")
	require.Error(t, err)
	assert.Equal(t, engine.OutcomeInsufficientFunds, engine.Classify(err))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "$1,234.50", formatMoney(decimal.RequireFromString("1234.5")))
	assert.Equal(t, "$0.01", formatMoney(decimal.RequireFromString("0.005")))
	assert.Equal(t, "$0.00", formatMoney(decimal.Zero))
}

func TestFormatErrorRateLimited(t *testing.T) {
	err := fmt.Errorf("refresh: %w", feed.ErrRateLimited)
	assert.Contains(t, FormatError(err), "RATE_LIMITED")
}
