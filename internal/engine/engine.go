// Package engine executes simulated market orders. It validates an order
// against the user's balance and holdings, prices it from the market cache,
// and commits balance, portfolio and ledger changes through the user store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stocksim/internal/domain"
	"stocksim/internal/store"
)

// Quoter serves cached market snapshots. *market.Cache implements it.
type Quoter interface {
	GetStock(ticker string) (domain.Stock, bool)
}

// Receipt describes a committed trade.
type Receipt struct {
	Transaction domain.Transaction
	Balance     decimal.Decimal
	Portfolio   *domain.Portfolio
	History     *domain.History
}

// Engine orchestrates order execution by delegating to a quoter for prices,
// a user store for persistence, and a risk manager for pre-trade checks.
type Engine struct {
	users  store.UserStore
	quotes Quoter
	risk   *RiskManager
	locks  *userLocks
	log    *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewEngine creates a new Engine wired with the given dependencies.
func NewEngine(users store.UserStore, quotes Quoter, risk *RiskManager, log *slog.Logger) *Engine {
	if risk == nil {
		risk = NewRiskManager()
	}
	return &Engine{
		users:  users,
		quotes: quotes,
		risk:   risk,
		locks:  newUserLocks(),
		log:    log.With("component", "engine"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Buy executes a market buy.
func (e *Engine) Buy(ctx context.Context, o domain.Order) (*Receipt, error) {
	o.Side = domain.SideBuy
	return e.Execute(ctx, o)
}

// Sell executes a market sell, possibly opening or extending a short.
func (e *Engine) Sell(ctx context.Context, o domain.Order) (*Receipt, error) {
	o.Side = domain.SideSell
	return e.Execute(ctx, o)
}

// Execute validates and applies o. At most one order per credential is in
// flight at a time. Changes are staged on a copy of the user and only a
// successful save produces a Receipt; on any error the stored account is
// unchanged.
func (e *Engine) Execute(ctx context.Context, o domain.Order) (*Receipt, error) {
	o.Ticker = strings.ToUpper(strings.TrimSpace(o.Ticker))
	if err := validate(o); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(o.Credential)
	defer unlock()

	r, err := e.execute(ctx, o)
	if err != nil {
		if Rejected(err) {
			e.log.Debug("order rejected", "side", o.Side, "ticker", o.Ticker, "qty", o.Qty, "outcome", Classify(err), "error", err)
		} else {
			e.log.Warn("order failed", "side", o.Side, "ticker", o.Ticker, "qty", o.Qty, "error", err)
		}
		return nil, err
	}

	e.log.Info("order executed",
		"id", r.Transaction.ID,
		"side", o.Side,
		"ticker", o.Ticker,
		"qty", o.Qty,
		"price", r.Transaction.Price.String(),
		"balance", r.Balance.String(),
	)
	return r, nil
}

func (e *Engine) execute(ctx context.Context, o domain.Order) (*Receipt, error) {
	user, err := e.loadUser(ctx, o.Credential)
	if err != nil {
		return nil, err
	}

	stock, ok := e.quotes.GetStock(o.Ticker)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStockNotFound, o.Ticker)
	}
	price := stock.Price
	notional := price.Mul(decimal.NewFromInt(o.Qty))

	staged := user.Clone()
	var delta int64
	switch o.Side {
	case domain.SideBuy:
		if err := e.risk.CheckBuy(staged.Balance, notional); err != nil {
			return nil, err
		}
		staged.Balance = staged.Balance.Sub(notional)
		delta = o.Qty
	case domain.SideSell:
		held := staged.Portfolio.Quantity(o.Ticker)
		if err := e.risk.CheckSell(staged.Balance, held, o.Qty, notional); err != nil {
			return nil, err
		}
		staged.Balance = staged.Balance.Add(notional)
		delta = -o.Qty
	}

	staged.Portfolio.Update(o.Ticker, delta, price)
	tx := domain.Transaction{
		ID:        e.newID(),
		Timestamp: e.now().UTC(),
		Ticker:    o.Ticker,
		Qty:       o.Qty,
		Price:     price,
		Side:      o.Side,
	}
	staged.History.Append(tx)

	if err := e.users.Save(ctx, staged); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}

	return &Receipt{
		Transaction: tx,
		Balance:     staged.Balance,
		Portfolio:   staged.Portfolio,
		History:     staged.History,
	}, nil
}

func validate(o domain.Order) error {
	switch {
	case o.Ticker == "":
		return fmt.Errorf("%w: ticker is required", ErrInvalidOrder)
	case o.Qty <= 0:
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, o.Qty)
	case !o.Side.Valid():
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	}
	return nil
}

func (e *Engine) loadUser(ctx context.Context, credential string) (*domain.User, error) {
	u, err := e.users.Load(ctx, credential)
	switch {
	case errors.Is(err, store.ErrInvalidCredential):
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}
	return u, nil
}

// ---------------------------------------------------------------------------
// Account queries
// ---------------------------------------------------------------------------

// Account values the user's positions at the current cached prices.
// Positions without a snapshot are reported unpriced and excluded from the
// market value.
func (e *Engine) Account(ctx context.Context, credential string) (*domain.AccountInfo, error) {
	u, err := e.loadUser(ctx, credential)
	if err != nil {
		return nil, err
	}

	info := &domain.AccountInfo{
		UserID:      u.ID,
		Name:        u.Name,
		Cash:        u.Balance,
		MarketValue: decimal.Zero,
	}
	for _, pos := range u.Portfolio.Positions() {
		stock, ok := e.quotes.GetStock(pos.Ticker)
		if !ok {
			info.Positions = append(info.Positions, domain.PositionValue{Position: pos})
			continue
		}
		pv := pos.Value(stock.Price)
		info.MarketValue = info.MarketValue.Add(pv.MarketValue)
		info.Positions = append(info.Positions, pv)
	}
	info.Equity = info.Cash.Add(info.MarketValue)
	return info, nil
}

// History returns the user's ledger, oldest first.
func (e *Engine) History(ctx context.Context, credential string) ([]domain.Transaction, error) {
	u, err := e.loadUser(ctx, credential)
	if err != nil {
		return nil, err
	}
	return u.History.All(), nil
}

// OpenAccount registers a user funded with deposit.
func (e *Engine) OpenAccount(ctx context.Context, name string, deposit decimal.Decimal) (*domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidOrder)
	}
	if deposit.IsNegative() {
		return nil, fmt.Errorf("%w: deposit must not be negative", ErrInvalidOrder)
	}
	u, err := e.users.Create(ctx, name, deposit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}
	e.log.Info("account opened", "user", u.ID, "name", u.Name, "balance", deposit.String())
	return u, nil
}
