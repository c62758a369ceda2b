package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Position is a user's net holding in one ticker. Qty is negative for a
// short position. A position that returns to zero is kept as a closed record.
type Position struct {
	Ticker  string          `json:"ticker"`
	Qty     int64           `json:"qty"`
	AvgCost decimal.Decimal `json:"avgCost"`
}

// Side classifies the position as long, short, or flat.
func (p Position) Side() PositionSide {
	switch {
	case p.Qty > 0:
		return PositionSideLong
	case p.Qty < 0:
		return PositionSideShort
	default:
		return PositionSideFlat
	}
}

// CostBasis returns |qty| * avg cost.
func (p Position) CostBasis() decimal.Decimal {
	return p.AvgCost.Mul(decimal.NewFromInt(p.Qty).Abs())
}

// Value marks the position to price.
func (p Position) Value(price decimal.Decimal) PositionValue {
	qty := decimal.NewFromInt(p.Qty)
	return PositionValue{
		Position:      p,
		Price:         price,
		MarketValue:   price.Mul(qty),
		UnrealizedPnL: price.Sub(p.AvgCost).Mul(qty),
		Priced:        true,
	}
}

// Portfolio maps each ticker to at most one Position.
type Portfolio struct {
	positions map[string]*Position
}

// NewPortfolio creates an empty portfolio.
func NewPortfolio() *Portfolio {
	return &Portfolio{positions: make(map[string]*Position)}
}

// Position returns the position for ticker.
func (p *Portfolio) Position(ticker string) (Position, bool) {
	pos, ok := p.positions[ticker]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Quantity returns the net quantity held in ticker, or 0.
func (p *Portfolio) Quantity(ticker string) int64 {
	if pos, ok := p.positions[ticker]; ok {
		return pos.Qty
	}
	return 0
}

// Update applies a signed quantity delta executed at price and recomputes
// the average cost:
//
//   - opening or adding in the same direction: quantity-weighted average
//   - reducing toward zero: unchanged
//   - crossing through zero: the remainder is opened at price
//   - landing on zero: cost is cleared, the record stays
func (p *Portfolio) Update(ticker string, delta int64, price decimal.Decimal) Position {
	pos, ok := p.positions[ticker]
	if !ok {
		pos = &Position{Ticker: ticker}
		p.positions[ticker] = pos
	}
	if delta == 0 {
		return *pos
	}

	before := pos.Qty
	after := before + delta

	switch {
	case after == 0:
		pos.AvgCost = decimal.Zero
	case before == 0 || sameSign(before, delta):
		oldQty := decimal.NewFromInt(before).Abs()
		addQty := decimal.NewFromInt(delta).Abs()
		total := pos.AvgCost.Mul(oldQty).Add(price.Mul(addQty))
		pos.AvgCost = total.Div(oldQty.Add(addQty))
	case !sameSign(before, after):
		pos.AvgCost = price
	}
	pos.Qty = after
	return *pos
}

// Put replaces the stored position for pos.Ticker. Stores use it when
// rebuilding a portfolio from persisted rows.
func (p *Portfolio) Put(pos Position) {
	cp := pos
	p.positions[pos.Ticker] = &cp
}

// Positions returns every position, including closed ones, sorted by ticker.
func (p *Portfolio) Positions() []Position {
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Len returns the number of position records.
func (p *Portfolio) Len() int {
	return len(p.positions)
}

// Clone returns an independent copy of p.
func (p *Portfolio) Clone() *Portfolio {
	c := NewPortfolio()
	for t, pos := range p.positions {
		cp := *pos
		c.positions[t] = &cp
	}
	return c
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
