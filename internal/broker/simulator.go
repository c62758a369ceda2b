package broker

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"stocksim/internal/domain"
	"stocksim/internal/engine"
	"stocksim/internal/market"
)

// Compile-time interface checks.
var (
	_ Broker = (*Simulator)(nil)
	_ Opener = (*Simulator)(nil)
)

// Simulator implements Broker on the in-process engine and market cache.
type Simulator struct {
	engine     *engine.Engine
	cache      *market.Cache
	credential string
	deposit    decimal.Decimal
}

// NewSimulator creates a session for credential.
func NewSimulator(e *engine.Engine, c *market.Cache, credential string) *Simulator {
	return &Simulator{engine: e, cache: c, credential: credential}
}

// WithDefaultDeposit sets the balance OpenAccount uses when none is given.
func (b *Simulator) WithDefaultDeposit(d decimal.Decimal) *Simulator {
	b.deposit = d
	return b
}

// OpenAccount registers a new user with the engine.
func (b *Simulator) OpenAccount(ctx context.Context, name string, deposit *decimal.Decimal) (*domain.User, error) {
	d := b.deposit
	if deposit != nil {
		d = *deposit
	}
	return b.engine.OpenAccount(ctx, name, d)
}

// Name returns "simulator".
func (b *Simulator) Name() string {
	return "simulator"
}

// SubmitOrder executes the order immediately at the cached price.
func (b *Simulator) SubmitOrder(ctx context.Context, side domain.Side, ticker string, qty int64) (*Fill, error) {
	r, err := b.engine.Execute(ctx, domain.Order{
		Credential: b.credential,
		Ticker:     ticker,
		Qty:        qty,
		Side:       side,
	})
	if err != nil {
		return nil, err
	}
	return &Fill{
		Transaction: r.Transaction,
		Balance:     r.Balance,
		Positions:   r.Portfolio.Positions(),
	}, nil
}

// GetStock reads the cache.
func (b *Simulator) GetStock(_ context.Context, ticker string) (domain.Stock, error) {
	s, ok := b.cache.GetStock(ticker)
	if !ok {
		return domain.Stock{}, fmt.Errorf("%w: %s", engine.ErrStockNotFound, market.NormalizeTicker(ticker))
	}
	return s, nil
}

// ListStocks returns the cache contents sorted by ticker.
func (b *Simulator) ListStocks(_ context.Context) ([]domain.Stock, error) {
	return sortedStocks(b.cache.Stocks()), nil
}

// Refresh runs a refresh batch on the cache.
func (b *Simulator) Refresh(ctx context.Context, pricesOnly bool) ([]domain.Stock, error) {
	var err error
	if pricesOnly {
		_, err = b.cache.RefreshPrices(ctx)
	} else {
		_, err = b.cache.RefreshAll(ctx)
	}
	if err != nil {
		return nil, err
	}
	return sortedStocks(b.cache.Stocks()), nil
}

// GetAccount values the account at cached prices.
func (b *Simulator) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	return b.engine.Account(ctx, b.credential)
}

// GetHistory returns the ledger.
func (b *Simulator) GetHistory(ctx context.Context) ([]domain.Transaction, error) {
	return b.engine.History(ctx, b.credential)
}

func sortedStocks(m map[string]domain.Stock) []domain.Stock {
	out := make([]domain.Stock, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}
