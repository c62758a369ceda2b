package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"stocksim/internal/domain"
	"stocksim/internal/engine"
	"stocksim/internal/feed"
	"stocksim/internal/view"
	"stocksim/pkg/stocksim"
)

// Compile-time interface checks.
var (
	_ Broker = (*Remote)(nil)
	_ Opener = (*Remote)(nil)
)

// Remote implements Broker over the stocksim-server REST API. Server-side
// outcomes are mapped back to the engine's errors, so callers classify
// remote and local failures the same way.
type Remote struct {
	client *stocksim.Client
}

// NewRemote creates a session on client. The client should carry the
// account credential.
func NewRemote(client *stocksim.Client) *Remote {
	return &Remote{client: client}
}

// Name returns "remote".
func (b *Remote) Name() string {
	return "remote"
}

// SubmitOrder posts the order to the server.
func (b *Remote) SubmitOrder(ctx context.Context, side domain.Side, ticker string, qty int64) (*Fill, error) {
	res, err := b.client.SubmitOrder(ctx, stocksim.OrderRequest{Side: string(side), Ticker: ticker, Quantity: qty})
	if err != nil {
		return nil, remoteError(err)
	}
	fill := &Fill{
		Transaction: view.FromTransaction(res.Transaction),
		Balance:     res.Balance,
	}
	for _, p := range res.Positions {
		fill.Positions = append(fill.Positions, domain.Position{Ticker: p.Ticker, Qty: p.Quantity, AvgCost: p.AvgCost})
	}
	return fill, nil
}

// GetStock fetches one snapshot.
func (b *Remote) GetStock(ctx context.Context, ticker string) (domain.Stock, error) {
	s, err := b.client.GetStock(ctx, ticker)
	if err != nil {
		return domain.Stock{}, remoteError(err)
	}
	return view.FromStock(*s), nil
}

// ListStocks fetches every snapshot.
func (b *Remote) ListStocks(ctx context.Context) ([]domain.Stock, error) {
	ss, err := b.client.ListStocks(ctx)
	if err != nil {
		return nil, remoteError(err)
	}
	return fromStocks(ss), nil
}

// Refresh triggers a server-side refresh.
func (b *Remote) Refresh(ctx context.Context, pricesOnly bool) ([]domain.Stock, error) {
	ss, err := b.client.Refresh(ctx, pricesOnly)
	if err != nil {
		return nil, remoteError(err)
	}
	return fromStocks(ss), nil
}

// GetAccount fetches the account valuation.
func (b *Remote) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	a, err := b.client.GetAccount(ctx)
	if err != nil {
		return nil, remoteError(err)
	}
	return view.FromAccount(*a), nil
}

// GetHistory fetches the ledger.
func (b *Remote) GetHistory(ctx context.Context) ([]domain.Transaction, error) {
	txs, err := b.client.GetHistory(ctx)
	if err != nil {
		return nil, remoteError(err)
	}
	out := make([]domain.Transaction, 0, len(txs))
	for _, t := range txs {
		out = append(out, view.FromTransaction(t))
	}
	return out, nil
}

// OpenAccount creates a user on the server. No credential is required.
func (b *Remote) OpenAccount(ctx context.Context, name string, deposit *decimal.Decimal) (*domain.User, error) {
	u, err := b.client.CreateUser(ctx, stocksim.CreateUserRequest{Name: name, Balance: deposit})
	if err != nil {
		return nil, remoteError(err)
	}
	return &domain.User{ID: u.ID, Name: u.Name, Credential: u.Credential, Balance: u.Balance}, nil
}

func fromStocks(ss []stocksim.Stock) []domain.Stock {
	out := make([]domain.Stock, 0, len(ss))
	for _, s := range ss {
		out = append(out, view.FromStock(s))
	}
	return out
}

// remoteError maps an API error onto the matching local sentinel.
func remoteError(err error) error {
	var apiErr *stocksim.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", engine.ErrServer, err)
	}
	if apiErr.Outcome == stocksim.OutcomeRateLimited {
		return fmt.Errorf("%w: %s", feed.ErrRateLimited, apiErr.Message)
	}
	return fmt.Errorf("%w: %s", engine.ErrorFor(engine.Outcome(apiErr.Outcome)), apiErr.Message)
}
