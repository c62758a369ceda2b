package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"stocksim/internal/app"
	"stocksim/internal/config"
	"stocksim/internal/util"
)

func main() {
	cfgPath := "config/stocksim.yaml"
	if p := os.Getenv("STOCKSIM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default()
	}
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	log := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("stocksim-server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("closing resources", "error", err)
		}
	}()

	log.Info("stocksim-server starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"grpc_port", cfg.Server.GRPCPort,
		"tickers", len(a.Cache.Tickers()),
		"store", cfg.Storage.Driver,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.APIServer().ListenAndServe(gctx) })
	g.Go(func() error { return a.Refresher().Run(gctx) })
	return g.Wait()
}
