package view

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stocksim/internal/domain"
	"stocksim/internal/engine"
)

func TestStockPlaceholders(t *testing.T) {
	s := domain.Stock{Ticker: "AAPL", Price: decimal.NewFromInt(1)}
	got := ToStock(s)
	if got.Company != domain.UnknownCompany || got.Industry != domain.UnknownIndustry {
		t.Errorf("got %q/%q, want placeholders", got.Company, got.Industry)
	}
	back := FromStock(got)
	if back.Profile.Resolved || back.Profile.Company != "" {
		t.Errorf("placeholder must not round-trip as a real company: %+v", back.Profile)
	}
}

func TestToStocksSorted(t *testing.T) {
	got := ToStocks(map[string]domain.Stock{
		"MSFT": {Ticker: "MSFT"},
		"AAPL": {Ticker: "AAPL"},
		"GOOG": {Ticker: "GOOG"},
	})
	want := []string{"AAPL", "GOOG", "MSFT"}
	for i, s := range got {
		if s.Ticker != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, s.Ticker, want[i])
		}
	}
}

func TestToOrderResult(t *testing.T) {
	p := domain.NewPortfolio()
	p.Update("AAPL", 5, decimal.NewFromInt(150))
	tx := domain.Transaction{ID: "t", Timestamp: time.Unix(1, 0), Ticker: "AAPL", Qty: 5, Price: decimal.NewFromInt(150), Side: domain.SideBuy}
	r := &engine.Receipt{Transaction: tx, Balance: decimal.NewFromInt(250), Portfolio: p, History: domain.NewHistory(tx)}

	got := ToOrderResult(r)
	if got.Outcome != string(engine.OutcomeSuccess) {
		t.Errorf("Outcome = %s", got.Outcome)
	}
	if got.HistoryLen != 1 || len(got.Positions) != 1 || got.Positions[0].Quantity != 5 {
		t.Errorf("got %+v", got)
	}
	if FromTransaction(got.Transaction) != tx {
		t.Errorf("transaction did not round-trip")
	}
}
