package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"stocksim/internal/engine"
	"stocksim/internal/feed"
	"stocksim/pkg/stocksim"
)

// Client calls the stocksim.Trading gRPC service.
type Client struct {
	conn       *grpc.ClientConn
	credential string
}

// Dial creates a client targeting addr. Extra options are appended to the
// insecure transport credentials.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// WithCredential returns a copy of c that authenticates as credential.
// Copies share the connection.
func (c *Client) WithCredential(credential string) *Client {
	cp := *c
	cp.credential = credential
	return &cp
}

// Buy executes a market buy.
func (c *Client) Buy(ctx context.Context, ticker string, qty int64) (*stocksim.OrderResult, error) {
	var out stocksim.OrderResult
	err := c.call(ctx, "Buy", map[string]any{"ticker": ticker, "quantity": qty}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Sell executes a market sell.
func (c *Client) Sell(ctx context.Context, ticker string, qty int64) (*stocksim.OrderResult, error) {
	var out stocksim.OrderResult
	err := c.call(ctx, "Sell", map[string]any{"ticker": ticker, "quantity": qty}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStock returns one snapshot.
func (c *Client) GetStock(ctx context.Context, ticker string) (*stocksim.Stock, error) {
	var out stocksim.Stock
	if err := c.call(ctx, "GetStock", map[string]any{"ticker": ticker}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListStocks returns every snapshot sorted by ticker.
func (c *Client) ListStocks(ctx context.Context) ([]stocksim.Stock, error) {
	var out struct {
		Stocks []stocksim.Stock `json:"stocks"`
	}
	if err := c.call(ctx, "ListStocks", nil, &out); err != nil {
		return nil, err
	}
	return out.Stocks, nil
}

// Refresh triggers a refresh batch.
func (c *Client) Refresh(ctx context.Context, pricesOnly bool) ([]stocksim.Stock, error) {
	var out struct {
		Stocks []stocksim.Stock `json:"stocks"`
	}
	if err := c.call(ctx, "Refresh", map[string]any{"pricesOnly": pricesOnly}, &out); err != nil {
		return nil, err
	}
	return out.Stocks, nil
}

// Account returns the account valuation.
func (c *Client) Account(ctx context.Context) (*stocksim.Account, error) {
	var out stocksim.Account
	if err := c.call(ctx, "Account", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns the ledger.
func (c *Client) History(ctx context.Context) ([]stocksim.Transaction, error) {
	var out struct {
		Transactions []stocksim.Transaction `json:"transactions"`
	}
	if err := c.call(ctx, "History", nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// CreateUser registers an account.
func (c *Client) CreateUser(ctx context.Context, req stocksim.CreateUserRequest) (*stocksim.User, error) {
	var out stocksim.User
	if err := c.call(ctx, "CreateUser", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method string, req, out any) error {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if req != nil {
		var err error
		if in, err = toStruct(req); err != nil {
			return err
		}
	}
	if c.credential != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.credential)
	}

	var trailer metadata.MD
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, resp, grpc.Trailer(&trailer)); err != nil {
		return callError(err, trailer)
	}
	return fromStruct(resp, out)
}

// callError maps a failed call back onto the engine and feed sentinels
// using the outcome trailer.
func callError(err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", engine.ErrServer, err)
	}
	var outcome string
	if v := trailer.Get(outcomeKey); len(v) > 0 {
		outcome = v[0]
	}
	if outcome == stocksim.OutcomeRateLimited {
		return fmt.Errorf("%w: %s", feed.ErrRateLimited, st.Message())
	}
	if outcome == "" {
		return fmt.Errorf("%w: %s", engine.ErrServer, st.Message())
	}
	return fmt.Errorf("%w: %s", engine.ErrorFor(engine.Outcome(outcome)), st.Message())
}
