// Package domain defines the core types shared across the stocksim
// platform: market snapshots, positions, portfolios, the transaction ledger,
// and the simulated user account.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or transaction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// PositionSide classifies a position by the sign of its quantity.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	PositionSideFlat  PositionSide = "flat"
)

// Placeholders shown when a company profile could not be resolved.
const (
	UnknownCompany  = "Unknown Company Name"
	UnknownIndustry = "Unknown Industry"
)

// Profile is the static company description attached to a ticker. Resolved
// is false when the provider lookup failed; Company and Industry are then
// empty rather than carrying placeholder text.
type Profile struct {
	Company  string `json:"company,omitempty"`
	Industry string `json:"industry,omitempty"`
	Resolved bool   `json:"resolved"`
}

// DisplayCompany returns the company name or the placeholder.
func (p Profile) DisplayCompany() string {
	if !p.Resolved || p.Company == "" {
		return UnknownCompany
	}
	return p.Company
}

// DisplayIndustry returns the industry or the placeholder.
func (p Profile) DisplayIndustry() string {
	if !p.Resolved || p.Industry == "" {
		return UnknownIndustry
	}
	return p.Industry
}

// ValidTicker reports whether t is usable as a ticker symbol: 1 to 20
// characters from letters, digits and ".-^=", and never a "." or ".."
// path element.
func ValidTicker(t string) bool {
	if t == "" || len(t) > 20 || strings.Contains(t, "..") || t == "." {
		return false
	}
	for _, r := range t {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '^', r == '=':
		default:
			return false
		}
	}
	return true
}

// Stock is a point-in-time market snapshot for one ticker. Values are
// immutable once published by the market cache; updates produce a new Stock.
type Stock struct {
	Ticker    string          `json:"ticker"`
	Profile   Profile         `json:"profile"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// WithPrice returns a copy of s carrying a new price.
func (s Stock) WithPrice(price decimal.Decimal, at time.Time) Stock {
	s.Price = price
	s.UpdatedAt = at
	return s
}

// Transaction is an immutable ledger entry for one executed order.
type Transaction struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Ticker    string          `json:"ticker"`
	Qty       int64           `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Side      Side            `json:"side"`
}

// Notional returns price * qty.
func (t Transaction) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Qty))
}

// History is a user's append-only, time-ordered transaction ledger.
type History struct {
	entries []Transaction
}

// NewHistory creates a history holding the given entries in order.
func NewHistory(entries ...Transaction) *History {
	h := &History{entries: make([]Transaction, 0, len(entries))}
	h.entries = append(h.entries, entries...)
	return h
}

// Append adds tx to the end of the ledger.
func (h *History) Append(tx Transaction) {
	h.entries = append(h.entries, tx)
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// All returns a copy of the entries, oldest first.
func (h *History) All() []Transaction {
	out := make([]Transaction, len(h.entries))
	copy(out, h.entries)
	return out
}

// Last returns the most recent entry.
func (h *History) Last() (Transaction, bool) {
	if len(h.entries) == 0 {
		return Transaction{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Clone returns an independent copy of h.
func (h *History) Clone() *History {
	return NewHistory(h.entries...)
}

// User is a simulated trading account.
type User struct {
	ID         string
	Name       string
	Credential string
	Balance    decimal.Decimal
	Portfolio  *Portfolio
	History    *History
	CreatedAt  time.Time
}

// NewUser creates a user with an empty portfolio and ledger.
func NewUser(id, name, credential string, balance decimal.Decimal) *User {
	return &User{
		ID:         id,
		Name:       name,
		Credential: credential,
		Balance:    balance,
		Portfolio:  NewPortfolio(),
		History:    NewHistory(),
		CreatedAt:  time.Now().UTC(),
	}
}

// Clone returns a deep copy of u so that mutations can be staged before
// they are persisted.
func (u *User) Clone() *User {
	c := *u
	if u.Portfolio != nil {
		c.Portfolio = u.Portfolio.Clone()
	} else {
		c.Portfolio = NewPortfolio()
	}
	if u.History != nil {
		c.History = u.History.Clone()
	} else {
		c.History = NewHistory()
	}
	return &c
}

// Order is a request to buy or sell shares at the current market price.
type Order struct {
	Credential string `json:"-"`
	Ticker     string `json:"ticker"`
	Qty        int64  `json:"quantity"`
	Side       Side   `json:"side"`
}

// PositionValue is a position marked to the current market price.
type PositionValue struct {
	Position
	Price         decimal.Decimal `json:"price"`
	MarketValue   decimal.Decimal `json:"marketValue"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	// Priced is false when no snapshot exists for the ticker.
	Priced bool `json:"priced"`
}

// AccountInfo is a valuation of a user's account.
type AccountInfo struct {
	UserID      string          `json:"userId"`
	Name        string          `json:"name"`
	Cash        decimal.Decimal `json:"cash"`
	MarketValue decimal.Decimal `json:"marketValue"`
	Equity      decimal.Decimal `json:"equity"`
	Positions   []PositionValue `json:"positions"`
}
