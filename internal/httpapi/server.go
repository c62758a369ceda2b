// Package httpapi serves the stocksim REST API: market snapshots, manual
// refresh, order execution and account queries.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stocksim/internal/domain"
	"stocksim/internal/engine"
	"stocksim/internal/feed"
	"stocksim/internal/market"
	"stocksim/internal/store"
	"stocksim/internal/view"
	"stocksim/pkg/stocksim"
)

// Server serves the REST API.
type Server struct {
	engine         *engine.Engine
	cache          *market.Cache
	history        store.SnapshotStore // nil when history recording is off
	initialBalance decimal.Decimal
	log            *slog.Logger
}

// NewServer creates a new REST server. history may be nil.
func NewServer(
	e *engine.Engine,
	cache *market.Cache,
	history store.SnapshotStore,
	initialBalance decimal.Decimal,
	log *slog.Logger,
) *Server {
	return &Server{
		engine:         e,
		cache:          cache,
		history:        history,
		initialBalance: initialBalance,
		log:            log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/stocks", s.handleListStocks)
	mux.HandleFunc("GET /api/stocks/{ticker}", s.handleGetStock)
	mux.HandleFunc("GET /api/stocks/{ticker}/history", s.handleStockHistory)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/orders", s.handleSubmitOrder)
	mux.HandleFunc("GET /api/account", s.handleAccount)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/users", s.handleCreateUser)
}

// Handler returns an http.Handler with CORS and request logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logMiddleware(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start).String(),
		)
	})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"stocks":      len(s.cache.Stocks()),
		"lastRefresh": s.cache.LastRefresh(),
	})
}

func (s *Server) handleListStocks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, view.ToStocks(s.cache.Stocks()))
}

func (s *Server) handleGetStock(w http.ResponseWriter, r *http.Request) {
	ticker := market.NormalizeTicker(r.PathValue("ticker"))
	st, ok := s.cache.GetStock(ticker)
	if !ok {
		s.writeOutcomeError(w, fmt.Errorf("%w: %s", engine.ErrStockNotFound, ticker))
		return
	}
	writeJSON(w, http.StatusOK, view.ToStock(st))
}

// handleStockHistory serves recorded snapshots. Query params start and end
// are RFC 3339 or YYYY-MM-DD; the default window is the last 24 hours.
func (s *Server) handleStockHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "", "history recording is disabled")
		return
	}
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	var err error
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err = parseTime(v); err != nil {
			writeError(w, http.StatusBadRequest, "", "invalid start: "+err.Error())
			return
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = parseTime(v); err != nil {
			writeError(w, http.StatusBadRequest, "", "invalid end: "+err.Error())
			return
		}
	}

	ticker := market.NormalizeTicker(r.PathValue("ticker"))
	if !domain.ValidTicker(ticker) {
		writeError(w, http.StatusBadRequest, stocksim.OutcomeInvalidOrder, "invalid ticker")
		return
	}
	snaps, err := s.history.ReadHistory(r.Context(), ticker, start, end)
	if err != nil {
		s.log.Error("reading history", "error", err)
		writeError(w, http.StatusInternalServerError, stocksim.OutcomeServerError, "reading history failed")
		return
	}
	out := make([]stocksim.Stock, 0, len(snaps))
	for _, st := range snaps {
		out = append(out, view.ToStock(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var err error
	if r.URL.Query().Get("prices") == "true" {
		_, err = s.cache.RefreshPrices(r.Context())
	} else {
		_, err = s.cache.RefreshAll(r.Context())
	}
	if err != nil {
		if feed.IsRateLimited(err) {
			writeError(w, http.StatusTooManyRequests, stocksim.OutcomeRateLimited, err.Error())
			return
		}
		s.log.Error("manual refresh failed", "error", err)
		writeError(w, http.StatusInternalServerError, stocksim.OutcomeServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, view.ToStocks(s.cache.Stocks()))
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req stocksim.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, stocksim.OutcomeInvalidOrder, "invalid JSON body")
		return
	}

	receipt, err := s.engine.Execute(r.Context(), domain.Order{
		Credential: bearer(r),
		Ticker:     req.Ticker,
		Qty:        req.Quantity,
		Side:       domain.Side(strings.ToUpper(req.Side)),
	})
	if err != nil {
		s.writeOutcomeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view.ToOrderResult(receipt))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.Account(r.Context(), bearer(r))
	if err != nil {
		s.writeOutcomeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view.ToAccount(info))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	txs, err := s.engine.History(r.Context(), bearer(r))
	if err != nil {
		s.writeOutcomeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view.ToTransactions(txs))
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req stocksim.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, stocksim.OutcomeInvalidOrder, "invalid JSON body")
		return
	}
	balance := s.initialBalance
	if req.Balance != nil {
		balance = *req.Balance
	}
	u, err := s.engine.OpenAccount(r.Context(), req.Name, balance)
	if err != nil {
		s.writeOutcomeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view.ToUser(u))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// bearer extracts the credential from an "Authorization: Bearer" header.
func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

// statusFor maps an engine outcome to its HTTP status.
func statusFor(o engine.Outcome) int {
	switch o {
	case engine.OutcomeValidationFailed:
		return http.StatusUnauthorized
	case engine.OutcomeStockNotFound:
		return http.StatusNotFound
	case engine.OutcomeInsufficientFunds, engine.OutcomeInsufficientMarginCall:
		return http.StatusUnprocessableEntity
	case engine.OutcomeInvalidOrder:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeOutcomeError(w http.ResponseWriter, err error) {
	o := engine.Classify(err)
	msg := err.Error()
	if o == engine.OutcomeServerError {
		s.log.Error("request failed", "error", err)
		// Internal details stay in the log.
		msg = "internal error"
		if errors.Is(err, store.ErrPersist) {
			msg = "order could not be persisted; account unchanged"
		}
	}
	writeError(w, statusFor(o), string(o), msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, outcome, msg string) {
	writeJSON(w, status, stocksim.ErrorResponse{Error: msg, Outcome: outcome})
}
