package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"stocksim/internal/config"
	"stocksim/internal/domain"
	"stocksim/internal/engine"
	"stocksim/internal/feed"
	"stocksim/internal/httpapi"
	"stocksim/internal/market"
	"stocksim/internal/store"
	"stocksim/internal/util"
	"stocksim/pkg/stocksim"
)

type quoteFeed struct{ err error }

func (f quoteFeed) Name() string { return "quote" }
func (f quoteFeed) FetchQuote(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(150), f.err
}
func (f quoteFeed) FetchProfile(_ context.Context, t string) (feed.Profile, error) {
	return feed.Profile{Company: t + " Inc", Industry: "Tech"}, nil
}

type harness struct {
	svc    *TradingService
	cache  *market.Cache
	users  *store.MemoryStore
	engine *engine.Engine
	client *Client
	cred   string
}

func newHarness(t *testing.T, f feed.Feed) *harness {
	t.Helper()
	cache := market.NewCache(f, []string{"AAPL"}, util.Discard())
	cache.Seed([]domain.Stock{{Ticker: "AAPL", Price: decimal.NewFromInt(150)}})
	users := store.NewMemoryStore()
	u, err := users.Create(context.Background(), "alice", decimal.NewFromInt(1000))
	if err != nil {
		t.Fatal(err)
	}
	e := engine.NewEngine(users, cache, nil, util.Discard())
	svc := NewTradingService(e, cache, decimal.NewFromInt(5000), util.Discard())

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	svc.RegisterGRPC(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })

	return &harness{svc: svc, cache: cache, users: users, engine: e, client: c.WithCredential(u.Credential), cred: u.Credential}
}

func TestGRPCBuyScenario(t *testing.T) {
	h := newHarness(t, quoteFeed{})
	ctx := context.Background()

	res, err := h.client.Buy(ctx, "AAPL", 5)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !res.Balance.Equal(decimal.NewFromInt(250)) {
		t.Errorf("balance = %s, want 250", res.Balance)
	}
	if res.Transaction.Quantity != 5 || res.Transaction.Side != stocksim.SideBuy {
		t.Errorf("transaction = %+v", res.Transaction)
	}

	acct, err := h.client.Account(ctx)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if len(acct.Positions) != 1 || acct.Positions[0].Quantity != 5 {
		t.Errorf("positions = %+v", acct.Positions)
	}

	txs, err := h.client.History(ctx)
	if err != nil || len(txs) != 1 {
		t.Errorf("History = %v, %v", txs, err)
	}
}

func TestGRPCErrors(t *testing.T) {
	h := newHarness(t, quoteFeed{})
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"margin", func() error { _, err := h.client.Sell(ctx, "AAPL", 10); return err }, engine.ErrInsufficientMargin},
		{"funds", func() error { _, err := h.client.Buy(ctx, "AAPL", 10); return err }, engine.ErrInsufficientFunds},
		{"not found", func() error { _, err := h.client.GetStock(ctx, "ZZZ"); return err }, engine.ErrStockNotFound},
		{"invalid", func() error { _, err := h.client.Buy(ctx, "AAPL", 0); return err }, engine.ErrInvalidOrder},
		{"credential", func() error { _, err := h.client.WithCredential("bad").Account(ctx); return err }, engine.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGRPCStocksAndRefresh(t *testing.T) {
	h := newHarness(t, quoteFeed{})
	ctx := context.Background()

	s, err := h.client.GetStock(ctx, "aapl")
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if s.Resolved || s.Company != domain.UnknownCompany {
		t.Errorf("seeded stock = %+v, want unresolved placeholder", s)
	}

	list, err := h.client.Refresh(ctx, false)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(list) != 1 || list[0].Company != "AAPL Inc" {
		t.Errorf("after refresh = %+v", list)
	}

	list, err = h.client.ListStocks(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("ListStocks = %v, %v", list, err)
	}
}

func TestGRPCRefreshRateLimited(t *testing.T) {
	h := newHarness(t, quoteFeed{err: feed.ErrRateLimited})
	_, err := h.client.Refresh(context.Background(), true)
	if !feed.IsRateLimited(err) {
		t.Errorf("err = %v, want rate limited", err)
	}
}

func TestGRPCCreateUser(t *testing.T) {
	h := newHarness(t, quoteFeed{})
	u, err := h.client.CreateUser(context.Background(), stocksim.CreateUserRequest{Name: "bob"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !u.Balance.Equal(decimal.NewFromInt(5000)) || u.Credential == "" {
		t.Errorf("user = %+v", u)
	}
	if _, err := h.users.Load(context.Background(), u.Credential); err != nil {
		t.Errorf("created user not stored: %v", err)
	}
}

func TestServerServeAndShutdown(t *testing.T) {
	h := newHarness(t, quoteFeed{})
	rest := httpapi.NewServer(h.engine, h.cache, nil, decimal.NewFromInt(1), util.Discard())
	srv := NewServer(&config.Config{}, rest.Handler(), h.svc, util.Discard())

	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, httpLn, grpcLn) }()

	resp, err := http.Get("http://" + httpLn.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	c, err := Dial(grpcLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.ListStocks(ctx); err != nil {
		t.Errorf("ListStocks over tcp: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
