// Package broker defines the Broker interface: a trading session bound to
// one account credential. Simulator executes against the in-process engine;
// Remote forwards to a stocksim-server.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"stocksim/internal/domain"
)

// Fill is the result of an executed market order.
type Fill struct {
	Transaction domain.Transaction
	Balance     decimal.Decimal
	Positions   []domain.Position
}

// Broker abstracts order execution and account queries for one session.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator", "remote").
	Name() string

	// SubmitOrder executes a market order for the session's account.
	SubmitOrder(ctx context.Context, side domain.Side, ticker string, qty int64) (*Fill, error)

	// GetStock returns the cached snapshot for ticker.
	GetStock(ctx context.Context, ticker string) (domain.Stock, error)

	// ListStocks returns every cached snapshot sorted by ticker.
	ListStocks(ctx context.Context) ([]domain.Stock, error)

	// Refresh re-fetches quotes (and profiles unless pricesOnly).
	Refresh(ctx context.Context, pricesOnly bool) ([]domain.Stock, error)

	// GetAccount returns the marked-to-market account.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)

	// GetHistory returns the ledger, oldest first.
	GetHistory(ctx context.Context) ([]domain.Transaction, error)
}

// Opener is implemented by brokers that can register new accounts. A nil
// deposit uses the backend's default initial balance.
type Opener interface {
	OpenAccount(ctx context.Context, name string, deposit *decimal.Decimal) (*domain.User, error)
}
