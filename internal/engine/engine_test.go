package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksim/internal/domain"
	"stocksim/internal/store"
	"stocksim/internal/util"
)

type quotes map[string]domain.Stock

func (q quotes) GetStock(t string) (domain.Stock, bool) {
	s, ok := q[t]
	return s, ok
}

func priced(pairs ...string) quotes {
	q := quotes{}
	for i := 0; i+1 < len(pairs); i += 2 {
		q[pairs[i]] = domain.Stock{Ticker: pairs[i], Price: decimal.RequireFromString(pairs[i+1])}
	}
	return q
}

// failingStore delegates to a MemoryStore but fails every Save.
type failingStore struct {
	*store.MemoryStore
}

func (f failingStore) Save(context.Context, *domain.User) error {
	return fmt.Errorf("%w: disk full", store.ErrPersist)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T, balance string, q quotes) (*Engine, *store.MemoryStore, *domain.User) {
	t.Helper()
	users := store.NewMemoryStore()
	u, err := users.Create(context.Background(), "test", d(balance))
	require.NoError(t, err)
	return NewEngine(users, q, nil, util.Discard()), users, u
}

func load(t *testing.T, s store.UserStore, cred string) *domain.User {
	t.Helper()
	u, err := s.Load(context.Background(), cred)
	require.NoError(t, err)
	return u
}

func TestBuyScenario(t *testing.T) {
	e, users, u := setup(t, "1000", priced("AAPL", "150"))

	r, err := e.Buy(context.Background(), domain.Order{Credential: u.Credential, Ticker: "AAPL", Qty: 5})
	require.NoError(t, err)
	assert.True(t, r.Balance.Equal(d("250")))
	assert.Equal(t, int64(5), r.Portfolio.Quantity("AAPL"))

	got := load(t, users, u.Credential)
	assert.True(t, got.Balance.Equal(d("250")))
	assert.Equal(t, int64(5), got.Portfolio.Quantity("AAPL"))
	require.Equal(t, 1, got.History.Len())
	tx, _ := got.History.Last()
	assert.Equal(t, "AAPL", tx.Ticker)
	assert.Equal(t, int64(5), tx.Qty)
	assert.True(t, tx.Price.Equal(d("150")))
	assert.Equal(t, domain.SideBuy, tx.Side)
	assert.Equal(t, r.Transaction, tx)
}

func TestBuyInsufficientFunds(t *testing.T) {
	e, users, u := setup(t, "100", priced("AAPL", "150"))

	_, err := e.Buy(context.Background(), domain.Order{Credential: u.Credential, Ticker: "AAPL", Qty: 1})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, OutcomeInsufficientFunds, Classify(err))

	got := load(t, users, u.Credential)
	assert.True(t, got.Balance.Equal(d("100")))
	assert.Zero(t, got.Portfolio.Len())
	assert.Zero(t, got.History.Len())
}

func TestBuyExactBalance(t *testing.T) {
	e, _, u := setup(t, "150", priced("AAPL", "150"))
	r, err := e.Buy(context.Background(), domain.Order{Credential: u.Credential, Ticker: "AAPL", Qty: 1})
	require.NoError(t, err)
	assert.True(t, r.Balance.IsZero())
}

func TestSellUncoveredInsufficientMargin(t *testing.T) {
	e, users, u := setup(t, "100", priced("AAPL", "150"))

	_, err := e.Sell(context.Background(), domain.Order{Credential: u.Credential, Ticker: "AAPL", Qty: 1})
	require.ErrorIs(t, err, ErrInsufficientMargin)
	assert.Equal(t, OutcomeInsufficientMarginCall, Classify(err))

	got := load(t, users, u.Credential)
	assert.True(t, got.Balance.Equal(d("100")))
	assert.Zero(t, got.History.Len())
	assert.Zero(t, got.Portfolio.Quantity("AAPL"))
}

func TestSellCoveredSkipsMargin(t *testing.T) {
	e, users, u := setup(t, "0", priced("AAPL", "150"))
	seed := load(t, users, u.Credential)
	seed.Portfolio.Update("AAPL", 10, d("120"))
	users.Put(seed)

	r, err := e.Sell(context.Background(), domain.Order{Credential: u.Credential, Ticker: "AAPL", Qty: 10})
	require.NoError(t, err)
	assert.True(t, r.Balance.Equal(d("1500")))
	pos, ok := r.Portfolio.Position("AAPL")
	require.True(t, ok, "closed position is kept")
	assert.Zero(t, pos.Qty)

	assertSingleSell(t, r.History, "AAPL", 10, "150")
	assertSingleSell(t, load(t, users, u.Credential).History, "AAPL", 10, "150")
}

func TestSellOpensShort(t *testing.T) {
	e, users, u := setup(t, "1000", priced("AAPL", "150"))

	r, err := e.Sell(context.Background(), domain.Order{Credential: u.Credential, Ticker: "AAPL", Qty: 2})
	require.NoError(t, err)
	assert.True(t, r.Balance.Equal(d("1300")))
	assert.Equal(t, int64(-2), r.Portfolio.Quantity("AAPL"))

	got := load(t, users, u.Credential)
	pos, _ := got.Portfolio.Position("AAPL")
	assert.Equal(t, domain.PositionSideShort, pos.Side())
	assert.True(t, pos.AvgCost.Equal(d("150")))

	assertSingleSell(t, r.History, "AAPL", 2, "150")
	assertSingleSell(t, got.History, "AAPL", 2, "150")
	assert.Equal(t, r.Transaction.ID, got.History.All()[0].ID)
}

// assertSingleSell checks that h holds exactly one entry and that it is the
// SELL of qty ticker at price.
func assertSingleSell(t *testing.T, h *domain.History, ticker string, qty int64, price string) {
	t.Helper()
	require.Equal(t, 1, h.Len())
	tx := h.All()[0]
	assert.Equal(t, domain.SideSell, tx.Side)
	assert.Equal(t, ticker, tx.Ticker)
	assert.Equal(t, qty, tx.Qty)
	assert.True(t, tx.Price.Equal(d(price)), "price = %s, want %s", tx.Price, price)
	assert.NotEmpty(t, tx.ID)
}

// Margin rule: for any held < qty, the sell fails iff balance < price*qty.
func TestSellMarginProperty(t *testing.T) {
	cases := []struct {
		balance string
		held    int64
		qty     int64
		wantErr bool
	}{
		{"299.99", 1, 2, true},
		{"300", 1, 2, false},
		{"0", 2, 2, false},
		{"0", 5, 2, false},
		{"10000", 0, 50, false},
		{"7499", 0, 50, true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("bal=%s/held=%d/qty=%d", tc.balance, tc.held, tc.qty), func(t *testing.T) {
			e, users, u := setup(t, tc.balance, priced("AAPL", "150"))
			if tc.held > 0 {
				seed := load(t, users, u.Credential)
				seed.Portfolio.Update("AAPL", tc.held, d("100"))
				users.Put(seed)
			}
			_, err := e.Sell(context.Background(), domain.Order{Credential: u.Credential, Ticker: "AAPL", Qty: tc.qty})
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInsufficientMargin)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStockNotFound(t *testing.T) {
	e, users, u := setup(t, "1000", priced())

	_, err := e.Buy(context.Background(), domain.Order{Credential: u.Credential, Ticker: "ZZZ", Qty: 1})
	require.ErrorIs(t, err, ErrStockNotFound)
	assert.Equal(t, OutcomeStockNotFound, Classify(err))
	assert.Zero(t, load(t, users, u.Credential).History.Len())
}

func TestInvalidCredential(t *testing.T) {
	e, _, _ := setup(t, "1000", priced("AAPL", "1"))

	_, err := e.Buy(context.Background(), domain.Order{Credential: "bogus", Ticker: "AAPL", Qty: 1})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, OutcomeValidationFailed, Classify(err))
}

func TestInvalidOrder(t *testing.T) {
	e, _, u := setup(t, "1000", priced("AAPL", "1"))
	for _, o := range []domain.Order{
		{Credential: u.Credential, Ticker: "AAPL", Qty: 0, Side: domain.SideBuy},
		{Credential: u.Credential, Ticker: "AAPL", Qty: -3, Side: domain.SideBuy},
		{Credential: u.Credential, Ticker: " ", Qty: 1, Side: domain.SideBuy},
		{Credential: u.Credential, Ticker: "AAPL", Qty: 1, Side: "HOLD"},
	} {
		_, err := e.Execute(context.Background(), o)
		assert.ErrorIs(t, err, ErrInvalidOrder, "%+v", o)
		assert.Equal(t, OutcomeInvalidOrder, Classify(err))
	}
}

func TestTickerNormalized(t *testing.T) {
	e, _, u := setup(t, "1000", priced("AAPL", "1"))
	r, err := e.Buy(context.Background(), domain.Order{Credential: u.Credential, Ticker: " aapl", Qty: 1})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", r.Transaction.Ticker)
}

func TestPersistFailureLeavesStateUnchanged(t *testing.T) {
	mem := store.NewMemoryStore()
	u, err := mem.Create(context.Background(), "test", d("1000"))
	require.NoError(t, err)
	e := NewEngine(failingStore{mem}, priced("AAPL", "150"), nil, util.Discard())

	_, err = e.Buy(context.Background(), domain.Order{Credential: u.Credential, Ticker: "AAPL", Qty: 1})
	require.ErrorIs(t, err, ErrServer)
	assert.ErrorIs(t, err, store.ErrPersist)
	assert.Equal(t, OutcomeServerError, Classify(err))

	got := load(t, mem, u.Credential)
	assert.True(t, got.Balance.Equal(d("1000")))
	assert.Zero(t, got.History.Len())
}

// Concurrent orders for one user never lose updates.
func TestConcurrentOrdersSerialized(t *testing.T) {
	e, users, u := setup(t, "10000", priced("AAPL", "10"))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Buy(context.Background(), domain.Order{Credential: u.Credential, Ticker: "AAPL", Qty: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got := load(t, users, u.Credential)
	assert.Equal(t, int64(n), got.Portfolio.Quantity("AAPL"))
	assert.Equal(t, n, got.History.Len())
	assert.True(t, got.Balance.Equal(d("9500")), "balance = %s", got.Balance)
	assert.Zero(t, e.locks.size())
}

func TestAccount(t *testing.T) {
	q := priced("AAPL", "150", "MSFT", "400")
	e, users, u := setup(t, "1000", q)
	seed := load(t, users, u.Credential)
	seed.Portfolio.Update("AAPL", 2, d("100"))
	seed.Portfolio.Update("IBM", 1, d("50")) // no snapshot
	users.Put(seed)

	info, err := e.Account(context.Background(), u.Credential)
	require.NoError(t, err)
	assert.True(t, info.Cash.Equal(d("1000")))
	assert.True(t, info.MarketValue.Equal(d("300")))
	assert.True(t, info.Equity.Equal(d("1300")))
	require.Len(t, info.Positions, 2)
	assert.True(t, info.Positions[0].Priced)
	assert.True(t, info.Positions[0].UnrealizedPnL.Equal(d("100")))
	assert.False(t, info.Positions[1].Priced)
}

func TestOpenAccount(t *testing.T) {
	e, _, _ := setup(t, "0", priced())
	u, err := e.OpenAccount(context.Background(), "  zoe ", d("500"))
	require.NoError(t, err)
	assert.Equal(t, "zoe", u.Name)

	_, err = e.OpenAccount(context.Background(), "", d("1"))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = e.OpenAccount(context.Background(), "x", d("-1"))
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestRiskManager(t *testing.T) {
	rm := NewRiskManager()
	assert.NoError(t, rm.CheckBuy(d("10"), d("10")))
	assert.ErrorIs(t, rm.CheckBuy(d("9.99"), d("10")), ErrInsufficientFunds)
	assert.NoError(t, rm.CheckSell(d("0"), 5, 5, d("100")))
	assert.ErrorIs(t, rm.CheckSell(d("99"), 4, 5, d("100")), ErrInsufficientMargin)
	assert.NoError(t, rm.CheckSell(d("100"), -3, 5, d("100")))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Classify(nil))
	assert.Equal(t, OutcomeServerError, Classify(errors.New("boom")))
	assert.Equal(t, OutcomeValidationFailed, Classify(store.ErrInvalidCredential))
	assert.True(t, Rejected(ErrStockNotFound))
	assert.False(t, Rejected(ErrServer))
}
