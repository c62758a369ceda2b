// Package view converts between domain values and the wire types of the
// public SDK. Servers render with the To* functions; remote clients parse
// responses back with the From* functions.
package view

import (
	"sort"

	"stocksim/internal/domain"
	"stocksim/internal/engine"
	"stocksim/pkg/stocksim"
)

// ToStock renders a snapshot. Unresolved profiles carry placeholder text.
func ToStock(s domain.Stock) stocksim.Stock {
	return stocksim.Stock{
		Ticker:    s.Ticker,
		Company:   s.Profile.DisplayCompany(),
		Industry:  s.Profile.DisplayIndustry(),
		Resolved:  s.Profile.Resolved,
		Price:     s.Price,
		UpdatedAt: s.UpdatedAt,
	}
}

// ToStocks renders a snapshot map sorted by ticker.
func ToStocks(m map[string]domain.Stock) []stocksim.Stock {
	out := make([]stocksim.Stock, 0, len(m))
	for _, s := range m {
		out = append(out, ToStock(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// FromStock parses a rendered snapshot.
func FromStock(s stocksim.Stock) domain.Stock {
	p := domain.Profile{Resolved: s.Resolved}
	if s.Resolved {
		p.Company = s.Company
		p.Industry = s.Industry
	}
	return domain.Stock{Ticker: s.Ticker, Profile: p, Price: s.Price, UpdatedAt: s.UpdatedAt}
}

// ToPosition renders a marked position.
func ToPosition(pv domain.PositionValue) stocksim.Position {
	return stocksim.Position{
		Ticker:        pv.Ticker,
		Quantity:      pv.Qty,
		AvgCost:       pv.AvgCost,
		Price:         pv.Price,
		MarketValue:   pv.MarketValue,
		UnrealizedPnL: pv.UnrealizedPnL,
		Priced:        pv.Priced,
	}
}

// FromPosition parses a rendered position.
func FromPosition(p stocksim.Position) domain.PositionValue {
	return domain.PositionValue{
		Position:      domain.Position{Ticker: p.Ticker, Qty: p.Quantity, AvgCost: p.AvgCost},
		Price:         p.Price,
		MarketValue:   p.MarketValue,
		UnrealizedPnL: p.UnrealizedPnL,
		Priced:        p.Priced,
	}
}

// ToAccount renders an account valuation.
func ToAccount(a *domain.AccountInfo) stocksim.Account {
	out := stocksim.Account{
		UserID:      a.UserID,
		Name:        a.Name,
		Cash:        a.Cash,
		MarketValue: a.MarketValue,
		Equity:      a.Equity,
		Positions:   make([]stocksim.Position, 0, len(a.Positions)),
	}
	for _, pv := range a.Positions {
		out.Positions = append(out.Positions, ToPosition(pv))
	}
	return out
}

// FromAccount parses a rendered account.
func FromAccount(a stocksim.Account) *domain.AccountInfo {
	out := &domain.AccountInfo{
		UserID:      a.UserID,
		Name:        a.Name,
		Cash:        a.Cash,
		MarketValue: a.MarketValue,
		Equity:      a.Equity,
	}
	for _, p := range a.Positions {
		out.Positions = append(out.Positions, FromPosition(p))
	}
	return out
}

// ToTransaction renders a ledger entry.
func ToTransaction(t domain.Transaction) stocksim.Transaction {
	return stocksim.Transaction{
		ID:        t.ID,
		Timestamp: t.Timestamp,
		Ticker:    t.Ticker,
		Quantity:  t.Qty,
		Price:     t.Price,
		Side:      string(t.Side),
	}
}

// ToTransactions renders a ledger.
func ToTransactions(txs []domain.Transaction) []stocksim.Transaction {
	out := make([]stocksim.Transaction, 0, len(txs))
	for _, t := range txs {
		out = append(out, ToTransaction(t))
	}
	return out
}

// FromTransaction parses a rendered ledger entry.
func FromTransaction(t stocksim.Transaction) domain.Transaction {
	return domain.Transaction{
		ID:        t.ID,
		Timestamp: t.Timestamp,
		Ticker:    t.Ticker,
		Qty:       t.Quantity,
		Price:     t.Price,
		Side:      domain.Side(t.Side),
	}
}

// ToOrderResult renders a trade receipt. Positions are reported at cost.
func ToOrderResult(r *engine.Receipt) stocksim.OrderResult {
	out := stocksim.OrderResult{
		Outcome:     string(engine.OutcomeSuccess),
		Transaction: ToTransaction(r.Transaction),
		Balance:     r.Balance,
		HistoryLen:  r.History.Len(),
	}
	for _, p := range r.Portfolio.Positions() {
		out.Positions = append(out.Positions, stocksim.Position{
			Ticker:   p.Ticker,
			Quantity: p.Qty,
			AvgCost:  p.AvgCost,
		})
	}
	return out
}

// ToUser renders a newly created user, credential included.
func ToUser(u *domain.User) stocksim.User {
	return stocksim.User{ID: u.ID, Name: u.Name, Credential: u.Credential, Balance: u.Balance}
}
