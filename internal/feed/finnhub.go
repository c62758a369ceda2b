package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// DefaultFinnhubURL is the Finnhub REST API root.
const DefaultFinnhubURL = "https://finnhub.io/api/v1"

// Compile-time interface check.
var _ Feed = (*Finnhub)(nil)

// Finnhub implements Feed using the Finnhub /quote and /stock/profile2
// endpoints.
type Finnhub struct {
	client  *resty.Client
	apiKey  string
	timeout time.Duration
}

// finnhubQuote is the subset of the /quote response we read. C is the
// current price.
type finnhubQuote struct {
	C *float64 `json:"c"`
}

// finnhubProfile is the subset of the /stock/profile2 response we read.
type finnhubProfile struct {
	Name     string `json:"name"`
	Industry string `json:"finnhubIndustry"`
}

// NewFinnhub creates a Finnhub feed. An empty baseURL selects the public API.
func NewFinnhub(apiKey, baseURL string, timeout time.Duration) *Finnhub {
	if baseURL == "" {
		baseURL = DefaultFinnhubURL
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Finnhub{client: client, apiKey: apiKey, timeout: timeout}
}

// Name returns "finnhub".
func (f *Finnhub) Name() string { return "finnhub" }

// FetchQuote returns the current price of ticker.
func (f *Finnhub) FetchQuote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	body, err := f.get(ctx, "/quote", ticker)
	if err != nil {
		return decimal.Zero, err
	}

	var q finnhubQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return decimal.Zero, fmt.Errorf("parsing finnhub quote for %s: %w", ticker, err)
	}
	// Finnhub answers unknown symbols with a zeroed quote.
	if q.C == nil || *q.C <= 0 {
		return decimal.Zero, fmt.Errorf("finnhub quote for %s: %w", ticker, ErrNotFound)
	}
	return decimal.NewFromFloat(*q.C), nil
}

// FetchProfile returns the company name and industry of ticker.
func (f *Finnhub) FetchProfile(ctx context.Context, ticker string) (Profile, error) {
	body, err := f.get(ctx, "/stock/profile2", ticker)
	if err != nil {
		return Profile{}, err
	}

	var p finnhubProfile
	if err := json.Unmarshal(body, &p); err != nil {
		return Profile{}, fmt.Errorf("parsing finnhub profile for %s: %w", ticker, err)
	}
	if p.Name == "" && p.Industry == "" {
		return Profile{}, fmt.Errorf("finnhub profile for %s: %w", ticker, ErrNotFound)
	}
	return Profile{Company: p.Name, Industry: p.Industry}, nil
}

func (f *Finnhub) get(ctx context.Context, path, ticker string) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": ticker,
			"token":  f.apiKey,
		}).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("requesting finnhub %s for %s: %w", path, ticker, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests:
		return nil, fmt.Errorf("finnhub %s for %s: %w", path, ticker, ErrRateLimited)
	case code < 200 || code > 299:
		return nil, fmt.Errorf("finnhub %s for %s: unexpected status %d", path, ticker, code)
	}
	return resp.Body(), nil
}
