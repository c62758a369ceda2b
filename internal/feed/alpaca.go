package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// Compile-time interface check.
var _ Feed = (*Alpaca)(nil)

// Alpaca implements Feed with the Alpaca market data API for prices and the
// trading API's asset endpoint for company names. Alpaca does not publish an
// industry classification, so profiles leave Industry empty.
type Alpaca struct {
	data    *marketdata.Client
	trading *alpaca.Client
	timeout time.Duration
}

// NewAlpaca creates an Alpaca feed. Empty URLs select the SDK defaults.
func NewAlpaca(apiKey, apiSecret, baseURL, dataURL string, timeout time.Duration) *Alpaca {
	dataOpts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		dataOpts.BaseURL = dataURL
	}
	tradingOpts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		tradingOpts.BaseURL = baseURL
	}
	return &Alpaca{
		data:    marketdata.NewClient(dataOpts),
		trading: alpaca.NewClient(tradingOpts),
		timeout: timeout,
	}
}

// Name returns "alpaca".
func (a *Alpaca) Name() string { return "alpaca" }

// FetchQuote returns the price of the latest trade for ticker.
func (a *Alpaca) FetchQuote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	trade, err := runBlocking(ctx, func() (*marketdata.Trade, error) {
		return a.data.GetLatestTrade(ticker, marketdata.GetLatestTradeRequest{})
	})
	if err != nil {
		return decimal.Zero, alpacaError("latest trade", ticker, err)
	}
	if trade == nil || trade.Price <= 0 {
		return decimal.Zero, fmt.Errorf("alpaca latest trade for %s: %w", ticker, ErrNotFound)
	}
	return decimal.NewFromFloat(trade.Price), nil
}

// FetchProfile returns the asset name for ticker.
func (a *Alpaca) FetchProfile(ctx context.Context, ticker string) (Profile, error) {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	asset, err := runBlocking(ctx, func() (*alpaca.Asset, error) {
		return a.trading.GetAsset(ticker)
	})
	if err != nil {
		return Profile{}, alpacaError("asset", ticker, err)
	}
	if asset == nil || asset.Name == "" {
		return Profile{}, fmt.Errorf("alpaca asset for %s: %w", ticker, ErrNotFound)
	}
	return Profile{Company: asset.Name}, nil
}

// alpacaError maps SDK errors onto the feed sentinels.
func alpacaError(what, ticker string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("alpaca %s for %s: %w", what, ticker, ErrRateLimited)
		case http.StatusNotFound, http.StatusUnprocessableEntity:
			return fmt.Errorf("alpaca %s for %s: %w", what, ticker, ErrNotFound)
		}
	}
	return fmt.Errorf("alpaca %s for %s: %w", what, ticker, err)
}
