// Package stocksim is a Go SDK for the stocksim-server REST API.
package stocksim

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client provides a Go SDK for interacting with the stocksim-server API.
// Requests that act on an account carry the client's credential as a
// bearer token.
type Client struct {
	baseURL    string
	credential string
	http       *resty.Client
}

// NewClient creates a new stocksim API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

// WithCredential returns a copy of c that authenticates as credential.
func (c *Client) WithCredential(credential string) *Client {
	cp := *c
	cp.credential = credential
	return &cp
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// ListStocks returns every cached snapshot sorted by ticker.
func (c *Client) ListStocks(ctx context.Context) ([]Stock, error) {
	var out []Stock
	if err := c.do(ctx, http.MethodGet, "/api/stocks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStock returns the cached snapshot for ticker.
func (c *Client) GetStock(ctx context.Context, ticker string) (*Stock, error) {
	var out Stock
	if err := c.do(ctx, http.MethodGet, "/api/stocks/"+url.PathEscape(ticker), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh asks the server to refresh quotes and profiles now. With
// pricesOnly set, profiles are not fetched.
func (c *Client) Refresh(ctx context.Context, pricesOnly bool) ([]Stock, error) {
	path := "/api/refresh"
	if pricesOnly {
		path += "?prices=true"
	}
	var out []Stock
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitOrder executes a market order.
func (c *Client) SubmitOrder(ctx context.Context, order OrderRequest) (*OrderResult, error) {
	var out OrderResult
	if err := c.do(ctx, http.MethodPost, "/api/orders", order, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Buy is shorthand for a BUY order.
func (c *Client) Buy(ctx context.Context, ticker string, qty int64) (*OrderResult, error) {
	return c.SubmitOrder(ctx, OrderRequest{Side: SideBuy, Ticker: ticker, Quantity: qty})
}

// Sell is shorthand for a SELL order.
func (c *Client) Sell(ctx context.Context, ticker string, qty int64) (*OrderResult, error) {
	return c.SubmitOrder(ctx, OrderRequest{Side: SideSell, Ticker: ticker, Quantity: qty})
}

// GetAccount retrieves account information.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var out Account
	if err := c.do(ctx, http.MethodGet, "/api/account", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHistory retrieves the account ledger, oldest first.
func (c *Client) GetHistory(ctx context.Context) ([]Transaction, error) {
	var out []Transaction
	if err := c.do(ctx, http.MethodGet, "/api/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateUser registers a new account. The returned User carries the
// credential for later requests.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodPost, "/api/users", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&ErrorResponse{})
	if c.credential != "" {
		req.SetAuthToken(c.credential)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		apiErr := &APIError{StatusCode: resp.StatusCode(), Message: http.StatusText(resp.StatusCode())}
		if e, ok := resp.Error().(*ErrorResponse); ok && e != nil && e.Error != "" {
			apiErr.Message = e.Error
			apiErr.Outcome = e.Outcome
		}
		return apiErr
	}
	return nil
}
