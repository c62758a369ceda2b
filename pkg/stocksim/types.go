package stocksim

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome values reported by the server for trade requests.
const (
	OutcomeSuccess                = "SUCCESS"
	OutcomeValidationFailed       = "VALIDATION_FAILED"
	OutcomeStockNotFound          = "STOCK_NOT_FOUND"
	OutcomeInsufficientFunds      = "INSUFFICIENT_FUNDS"
	OutcomeInsufficientMarginCall = "INSUFFICIENT_MARGIN_CALL"
	OutcomeInvalidOrder           = "INVALID_ORDER"
	OutcomeServerError            = "SERVER_ERROR"
	OutcomeRateLimited            = "RATE_LIMITED"
)

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Stock is a market snapshot.
type Stock struct {
	Ticker    string          `json:"ticker"`
	Company   string          `json:"company"`
	Industry  string          `json:"industry"`
	Resolved  bool            `json:"resolved"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Position is a holding, marked to market when Priced is true.
type Position struct {
	Ticker        string          `json:"ticker"`
	Quantity      int64           `json:"quantity"`
	AvgCost       decimal.Decimal `json:"avgCost"`
	Price         decimal.Decimal `json:"price"`
	MarketValue   decimal.Decimal `json:"marketValue"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	Priced        bool            `json:"priced"`
}

// Account is a valuation of a user's account.
type Account struct {
	UserID      string          `json:"userId"`
	Name        string          `json:"name"`
	Cash        decimal.Decimal `json:"cash"`
	MarketValue decimal.Decimal `json:"marketValue"`
	Equity      decimal.Decimal `json:"equity"`
	Positions   []Position      `json:"positions"`
}

// Transaction is a ledger entry.
type Transaction struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Ticker    string          `json:"ticker"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Side      string          `json:"side"`
}

// OrderRequest is the body of POST /api/orders.
type OrderRequest struct {
	Side     string `json:"side"`
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"`
}

// OrderResult is returned for an executed order.
type OrderResult struct {
	Outcome     string          `json:"outcome"`
	Transaction Transaction     `json:"transaction"`
	Balance     decimal.Decimal `json:"balance"`
	Positions   []Position      `json:"positions"`
	HistoryLen  int             `json:"historyLength"`
}

// CreateUserRequest is the body of POST /api/users. A nil Balance uses the
// server's configured initial balance.
type CreateUserRequest struct {
	Name    string           `json:"name"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

// User is a newly created account, including its credential.
type User struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Credential string          `json:"credential"`
	Balance    decimal.Decimal `json:"balance"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Outcome string `json:"outcome,omitempty"`
}

// APIError is returned by Client for non-2xx responses.
type APIError struct {
	StatusCode int
	Outcome    string
	Message    string
}

func (e *APIError) Error() string {
	if e.Outcome != "" {
		return fmt.Sprintf("stocksim: %d %s: %s", e.StatusCode, e.Outcome, e.Message)
	}
	return fmt.Sprintf("stocksim: %d: %s", e.StatusCode, e.Message)
}
