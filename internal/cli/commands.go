// Package cli implements the stocksim command-line client. Commands run
// against a stocksim-server when --server is given and against a local
// simulator built from the configuration file otherwise.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stocksim/internal/app"
	"stocksim/internal/broker"
	"stocksim/internal/config"
	"stocksim/internal/domain"
	"stocksim/internal/engine"
	"stocksim/internal/util"
	"stocksim/pkg/stocksim"
)

const defaultConfigPath = "config/stocksim.yaml"

// AppFactory opens the local simulator for the given config path.
type AppFactory func(ctx context.Context, cfgPath string) (*app.App, error)

// Options customises the command tree. Zero values use the process
// environment.
type Options struct {
	Out    io.Writer
	NewApp AppFactory
}

type env struct {
	server     string
	credential string
	configPath string
	newApp     AppFactory
}

// NewRootCmd creates the root command
func NewRootCmd(opts Options) *cobra.Command {
	e := &env{newApp: opts.NewApp}
	if e.newApp == nil {
		e.newApp = openLocalApp
	}

	rootCmd := &cobra.Command{
		Use:   "stocksim",
		Short: "stocksim - simulated stock trading",
		Long: `stocksim trades a simulated cash account against live market quotes.
Without --server the commands run against a local simulator configured by --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if opts.Out != nil {
		rootCmd.SetOut(opts.Out)
	}

	rootCmd.PersistentFlags().StringVar(&e.server, "server", os.Getenv("STOCKSIM_SERVER"), "stocksim-server base URL (local simulator if empty)")
	rootCmd.PersistentFlags().StringVar(&e.credential, "credential", os.Getenv("STOCKSIM_CREDENTIAL"), "account credential")
	rootCmd.PersistentFlags().StringVar(&e.configPath, "config", envOr("STOCKSIM_CONFIG", defaultConfigPath), "configuration file path")

	rootCmd.AddCommand(newUserCmd(e))
	rootCmd.AddCommand(newQuoteCmd(e))
	rootCmd.AddCommand(newStocksCmd(e))
	rootCmd.AddCommand(newRefreshCmd(e))
	rootCmd.AddCommand(newOrderCmd(e, domain.SideBuy))
	rootCmd.AddCommand(newOrderCmd(e, domain.SideSell))
	rootCmd.AddCommand(newAccountCmd(e))
	rootCmd.AddCommand(newHistoryCmd(e))

	return rootCmd
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func newUserCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var balance string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Open a new account and print its credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var deposit *decimal.Decimal
			if balance != "" {
				d, err := decimal.NewFromString(balance)
				if err != nil {
					return fmt.Errorf("%w: invalid balance %q", engine.ErrInvalidOrder, balance)
				}
				deposit = &d
			}
			return e.withBroker(cmd.Context(), false, false, func(b broker.Broker) error {
				opener, ok := b.(broker.Opener)
				if !ok {
					return fmt.Errorf("%s broker cannot open accounts", b.Name())
				}
				u, err := opener.OpenAccount(cmd.Context(), args[0], deposit)
				if err != nil {
					return err
				}
				printUser(cmd.OutOrStdout(), u)
				return nil
			})
		},
	}
	create.Flags().StringVar(&balance, "balance", "", "initial cash balance (server default if empty)")

	cmd.AddCommand(create)
	return cmd
}

func newQuoteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "quote TICKER",
		Short: "Show the cached snapshot for a ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withBroker(cmd.Context(), false, true, func(b broker.Broker) error {
				s, err := b.GetStock(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printStock(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
}

func newStocksCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stocks",
		Short: "List every cached snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withBroker(cmd.Context(), false, true, func(b broker.Broker) error {
				stocks, err := b.ListStocks(cmd.Context())
				if err != nil {
					return err
				}
				printStocks(cmd.OutOrStdout(), stocks)
				return nil
			})
		},
	}
}

func newRefreshCmd(e *env) *cobra.Command {
	var pricesOnly bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-fetch market data for the watch-list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withBroker(cmd.Context(), false, false, func(b broker.Broker) error {
				stocks, err := b.Refresh(cmd.Context(), pricesOnly)
				if err != nil {
					return err
				}
				printStocks(cmd.OutOrStdout(), stocks)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&pricesOnly, "prices", false, "refresh prices only, keeping cached profiles")
	return cmd
}

func newOrderCmd(e *env, side domain.Side) *cobra.Command {
	use, short := "buy", "Buy shares at the cached price"
	if side == domain.SideSell {
		use, short = "sell", "Sell shares at the cached price, opening a short if needed"
	}
	return &cobra.Command{
		Use:   use + " TICKER QTY",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: quantity %q is not an integer", engine.ErrInvalidOrder, args[1])
			}
			return e.withBroker(cmd.Context(), true, true, func(b broker.Broker) error {
				fill, err := b.SubmitOrder(cmd.Context(), side, args[0], qty)
				if err != nil {
					return err
				}
				printFill(cmd.OutOrStdout(), fill)
				return nil
			})
		},
	}
}

func newAccountCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show cash, positions and equity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withBroker(cmd.Context(), true, true, func(b broker.Broker) error {
				acct, err := b.GetAccount(cmd.Context())
				if err != nil {
					return err
				}
				printAccount(cmd.OutOrStdout(), acct)
				return nil
			})
		},
	}
}

func newHistoryCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the transaction ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withBroker(cmd.Context(), true, false, func(b broker.Broker) error {
				txs, err := b.GetHistory(cmd.Context())
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), txs)
				return nil
			})
		},
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// withBroker opens a session, runs fn and releases the session. When quotes
// is set a local session refreshes the whole watch-list first, so orders
// fill at current prices; snapshots seeded from history only remain for
// tickers the refresh could not reach.
func (e *env) withBroker(ctx context.Context, needCredential, quotes bool, fn func(broker.Broker) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if needCredential && e.credential == "" {
		return fmt.Errorf("%w: credential required (--credential or STOCKSIM_CREDENTIAL)", engine.ErrValidation)
	}

	if e.server != "" {
		client := stocksim.NewClient(e.server).WithCredential(e.credential)
		return fn(broker.NewRemote(client))
	}

	a, err := e.newApp(ctx, e.configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Log.Warn("closing local simulator", "error", err)
		}
	}()

	if quotes {
		if _, err := a.Cache.RefreshAll(ctx); err != nil {
			a.Log.Warn("refresh incomplete, using cached snapshots", "error", err)
		}
	}
	return fn(a.Broker(e.credential))
}

// openLocalApp loads the configuration, falling back to defaults when the
// file does not exist, and builds the simulator.
func openLocalApp(ctx context.Context, cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", cfgPath, err)
	}

	// Only warnings reach the terminal unless LOG_LEVEL asks for more.
	log := util.NewLoggerTo(os.Stderr, envOr("LOG_LEVEL", "warn"), "text")
	return app.New(ctx, cfg, log)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
