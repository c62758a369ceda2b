package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"stocksim/internal/domain"
	"stocksim/internal/engine"
	"stocksim/internal/feed"
	"stocksim/internal/market"
	"stocksim/internal/view"
	"stocksim/pkg/stocksim"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "stocksim.Trading"

// outcomeKey is the trailer carrying the engine outcome of a failed call.
const outcomeKey = "stocksim-outcome"

// TradingServer is the server API of the stocksim.Trading service.
// Messages are google.protobuf.Struct values holding the JSON form of the
// pkg/stocksim wire types.
type TradingServer interface {
	Buy(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Sell(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStocks(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Account(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(call func(TradingServer, context.Context, *structpb.Struct) (*structpb.Struct, error), method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TradingServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(TradingServer), ctx, req.(*structpb.Struct))
		})
	}
}

// TradingServiceDesc describes the stocksim.Trading service.
var TradingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TradingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Buy", Handler: unaryHandler(TradingServer.Buy, "Buy")},
		{MethodName: "Sell", Handler: unaryHandler(TradingServer.Sell, "Sell")},
		{MethodName: "GetStock", Handler: unaryHandler(TradingServer.GetStock, "GetStock")},
		{MethodName: "ListStocks", Handler: unaryHandler(TradingServer.ListStocks, "ListStocks")},
		{MethodName: "Refresh", Handler: unaryHandler(TradingServer.Refresh, "Refresh")},
		{MethodName: "Account", Handler: unaryHandler(TradingServer.Account, "Account")},
		{MethodName: "History", Handler: unaryHandler(TradingServer.History, "History")},
		{MethodName: "CreateUser", Handler: unaryHandler(TradingServer.CreateUser, "CreateUser")},
	},
	Metadata: "stocksim/trading",
}

// TradingService implements TradingServer on the engine and market cache.
type TradingService struct {
	engine         *engine.Engine
	cache          *market.Cache
	initialBalance decimal.Decimal
	log            *slog.Logger
}

var _ TradingServer = (*TradingService)(nil)

// NewTradingService creates a TradingService.
func NewTradingService(e *engine.Engine, cache *market.Cache, initialBalance decimal.Decimal, log *slog.Logger) *TradingService {
	return &TradingService{
		engine:         e,
		cache:          cache,
		initialBalance: initialBalance,
		log:            log.With("component", "grpc"),
	}
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (s *TradingService) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&TradingServiceDesc, s)
}

type orderMsg struct {
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"`
}

// Buy executes a market buy for the caller's credential.
func (s *TradingService) Buy(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.order(ctx, in, domain.SideBuy)
}

// Sell executes a market sell for the caller's credential.
func (s *TradingService) Sell(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.order(ctx, in, domain.SideSell)
}

func (s *TradingService) order(ctx context.Context, in *structpb.Struct, side domain.Side) (*structpb.Struct, error) {
	var req orderMsg
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	r, err := s.engine.Execute(ctx, domain.Order{
		Credential: credential(ctx),
		Ticker:     req.Ticker,
		Qty:        req.Quantity,
		Side:       side,
	})
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return toStruct(view.ToOrderResult(r))
}

// GetStock returns the cached snapshot for {"ticker"}.
func (s *TradingService) GetStock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ticker := market.NormalizeTicker(in.GetFields()["ticker"].GetStringValue())
	st, ok := s.cache.GetStock(ticker)
	if !ok {
		return nil, s.statusError(ctx, fmt.Errorf("%w: %s", engine.ErrStockNotFound, ticker))
	}
	return toStruct(view.ToStock(st))
}

// ListStocks returns {"stocks": [...]}.
func (s *TradingService) ListStocks(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"stocks": view.ToStocks(s.cache.Stocks())})
}

// Refresh runs a refresh batch; {"pricesOnly": true} skips profiles.
func (s *TradingService) Refresh(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var err error
	if in.GetFields()["pricesOnly"].GetBoolValue() {
		_, err = s.cache.RefreshPrices(ctx)
	} else {
		_, err = s.cache.RefreshAll(ctx)
	}
	if err != nil {
		if feed.IsRateLimited(err) {
			grpc.SetTrailer(ctx, metadata.Pairs(outcomeKey, stocksim.OutcomeRateLimited))
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		}
		s.log.Error("refresh failed", "error", err)
		return nil, status.Error(codes.Internal, "refresh failed")
	}
	return toStruct(map[string]any{"stocks": view.ToStocks(s.cache.Stocks())})
}

// Account returns the caller's account valuation.
func (s *TradingService) Account(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	info, err := s.engine.Account(ctx, credential(ctx))
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return toStruct(view.ToAccount(info))
}

// History returns {"transactions": [...]} for the caller.
func (s *TradingService) History(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	txs, err := s.engine.History(ctx, credential(ctx))
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return toStruct(map[string]any{"transactions": view.ToTransactions(txs)})
}

// CreateUser registers an account from {"name", "balance"?}.
func (s *TradingService) CreateUser(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req stocksim.CreateUserRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	balance := s.initialBalance
	if req.Balance != nil {
		balance = *req.Balance
	}
	u, err := s.engine.OpenAccount(ctx, req.Name, balance)
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return toStruct(view.ToUser(u))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// credential reads the bearer token from the "authorization" metadata.
func credential(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
	}
	return ""
}

// codeFor maps an engine outcome to a gRPC status code.
func codeFor(o engine.Outcome) codes.Code {
	switch o {
	case engine.OutcomeValidationFailed:
		return codes.Unauthenticated
	case engine.OutcomeStockNotFound:
		return codes.NotFound
	case engine.OutcomeInsufficientFunds, engine.OutcomeInsufficientMarginCall:
		return codes.FailedPrecondition
	case engine.OutcomeInvalidOrder:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

func (s *TradingService) statusError(ctx context.Context, err error) error {
	o := engine.Classify(err)
	grpc.SetTrailer(ctx, metadata.Pairs(outcomeKey, string(o)))
	msg := err.Error()
	if o == engine.OutcomeServerError {
		s.log.Error("call failed", "error", err)
		msg = "internal error"
	}
	return status.Error(codeFor(o), msg)
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return st, nil
}

func fromStruct(in *structpb.Struct, out any) error {
	b, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}
