package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RiskManager enforces the pre-trade affordability rules.
type RiskManager struct{}

// NewRiskManager creates a RiskManager.
func NewRiskManager() *RiskManager {
	return &RiskManager{}
}

// CheckBuy rejects a purchase whose cost exceeds the cash balance.
func (rm *RiskManager) CheckBuy(balance, cost decimal.Decimal) error {
	if balance.LessThan(cost) {
		return fmt.Errorf("%w: balance %s < cost %s", ErrInsufficientFunds, balance.StringFixed(2), cost.StringFixed(2))
	}
	return nil
}

// CheckSell applies the margin rule. Selling no more than is held needs no
// collateral. Selling more than is held opens or extends a short, and the
// cash balance must cover the full notional of the order.
func (rm *RiskManager) CheckSell(balance decimal.Decimal, held, qty int64, notional decimal.Decimal) error {
	if held >= qty {
		return nil
	}
	if balance.LessThan(notional) {
		return fmt.Errorf("%w: selling %d with %d held needs %s, balance %s",
			ErrInsufficientMargin, qty, held, notional.StringFixed(2), balance.StringFixed(2))
	}
	return nil
}
