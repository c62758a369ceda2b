// Package app wires the simulator's components together. An App is built
// once per process and handed to the binaries, which take what they need
// from it; nothing is looked up through globals.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"stocksim/internal/api"
	"stocksim/internal/broker"
	"stocksim/internal/config"
	"stocksim/internal/domain"
	"stocksim/internal/engine"
	"stocksim/internal/feed"
	"stocksim/internal/httpapi"
	"stocksim/internal/market"
	"stocksim/internal/store"
)

// App holds the constructed components.
type App struct {
	Config    *config.Config
	Log       *slog.Logger
	Feed      feed.Feed
	Cache     *market.Cache
	Snapshots *store.ParquetStore // nil unless market.record_history is set
	Users     store.UserStore
	Engine    *engine.Engine

	closers []io.Closer
}

// New builds an App from cfg using the configured feed provider.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	f, err := feed.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating feed: %w", err)
	}
	return NewWithFeed(ctx, cfg, f, log)
}

// NewWithFeed builds an App around an already constructed feed.
func NewWithFeed(ctx context.Context, cfg *config.Config, f feed.Feed, log *slog.Logger) (*App, error) {
	tickers, err := Tickers(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: log, Feed: f}

	var opts []market.Option
	if cfg.Market.RecordHistory {
		a.Snapshots = store.NewParquetStore(cfg.Storage.DataDir)
		opts = append(opts, market.WithRecorder(a.Snapshots))
	}
	a.Cache = market.NewCache(f, tickers, log, opts...)
	if a.Snapshots != nil {
		a.warmStart(ctx, tickers)
	}

	users, err := openUserStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.Users = users
	a.closers = append(a.closers, users)

	a.Engine = engine.NewEngine(users, a.Cache, engine.NewRiskManager(), log)

	log.Info("app ready",
		"feed", f.Name(),
		"tickers", len(tickers),
		"storage", cfg.Storage.Driver,
		"history", cfg.Market.RecordHistory,
	)
	return a, nil
}

// Tickers resolves the watch-list: the watch-list file (if configured)
// followed by the inline tickers, normalised and de-duplicated.
func Tickers(cfg *config.Config) ([]string, error) {
	var all []string
	if p := cfg.Market.WatchlistPath; p != "" {
		fromFile, err := market.LoadWatchlist(p)
		if err != nil {
			return nil, err
		}
		all = append(all, fromFile...)
	}
	all = append(all, cfg.Market.Tickers...)
	tickers := market.NormalizeTickers(all)
	if len(tickers) == 0 {
		return nil, errors.New("watch-list is empty: set market.watchlist_path or market.tickers")
	}
	return tickers, nil
}

// warmStart seeds the cache from the newest recorded snapshot of each
// watched ticker so lookups work before the first refresh completes.
func (a *App) warmStart(ctx context.Context, tickers []string) {
	latest, err := a.Snapshots.LatestSnapshots(ctx)
	if err != nil {
		a.Log.Warn("reading snapshot history", "error", err)
		return
	}
	watched := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		watched[t] = true
	}
	var seed []domain.Stock
	for _, s := range latest {
		if watched[s.Ticker] {
			seed = append(seed, s)
		}
	}
	if n := a.Cache.Seed(seed); n > 0 {
		a.Log.Info("cache warm-started from history", "stocks", n)
	}
}

func openUserStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.UserStore, error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "":
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating %s: %w", dir, err)
			}
		}
		return store.NewSQLiteStore(cfg.Storage.SQLitePath)
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return nil, errors.New("postgres storage requires storage.postgres_dsn (POSTGRES_DSN)")
		}
		return store.NewPostgresStore(ctx, cfg.Storage.PostgresDSN, log)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// InitialBalance returns the deposit for new accounts.
func (a *App) InitialBalance() decimal.Decimal {
	return decimal.NewFromFloat(a.Config.Trading.InitialBalance)
}

// Refresher returns a scheduler for the cache using the configured
// intervals.
func (a *App) Refresher() *market.Refresher {
	return market.NewRefresher(a.Cache, a.Config.Market.RefreshInterval, a.Config.Market.PriceInterval, a.Log)
}

// Broker opens a local trading session for credential.
func (a *App) Broker(credential string) broker.Broker {
	return broker.NewSimulator(a.Engine, a.Cache, credential).WithDefaultDeposit(a.InitialBalance())
}

// APIServer builds the combined REST and gRPC server.
func (a *App) APIServer() *api.Server {
	var history store.SnapshotStore
	if a.Snapshots != nil {
		history = a.Snapshots
	}
	rest := httpapi.NewServer(a.Engine, a.Cache, history, a.InitialBalance(), a.Log)
	svc := api.NewTradingService(a.Engine, a.Cache, a.InitialBalance(), a.Log)
	return api.NewServer(a.Config, rest.Handler(), svc, a.Log)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
