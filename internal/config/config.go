package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the stocksim platform.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Feed    Feed          `yaml:"feed"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Market  MarketConfig  `yaml:"market"`
	Trading TradingConfig `yaml:"trading"`
	Logging Logging       `yaml:"logging"`
}

// Storage selects the user store backend and the snapshot history location.
type Storage struct {
	Driver      string `yaml:"driver"` // "sqlite", "postgres" or "memory"
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	DataDir     string `yaml:"data_dir"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Feed configures the market data provider.
type Feed struct {
	Provider        string        `yaml:"provider"` // "finnhub", "alpaca" or "yahoo"
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// MarketConfig defines the watch-list and the refresh schedule.
type MarketConfig struct {
	WatchlistPath   string        `yaml:"watchlist_path"`
	Tickers         []string      `yaml:"tickers"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	PriceInterval   time.Duration `yaml:"price_interval"` // negative disables price-only refreshes
	RecordHistory   bool          `yaml:"record_history"`
}

// TradingConfig defines account parameters.
type TradingConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied to zero-valued fields after loading.
const (
	DefaultDriver          = "sqlite"
	DefaultSQLitePath      = "data/stocksim.db"
	DefaultDataDir         = "data"
	DefaultProvider        = "finnhub"
	DefaultFeedTimeout     = 10 * time.Second
	DefaultRateLimitPerMin = 60
	DefaultRefresh         = 5 * time.Minute
	DefaultPriceRefresh    = time.Minute
	DefaultInitialBalance  = 10000
	DefaultPort            = 8080
	DefaultGRPCPort        = 9090
)

// DotenvFiles are read, in order, before environment overrides are applied.
// Variables already present in the environment are never replaced.
var DotenvFiles = []string{".env.local", ".env"}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, loads dotenv files, applies environment variable overrides
// and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := loadDotenv(DotenvFiles...); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a configuration built from defaults and the environment
// only, for use when no YAML file exists.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := loadDotenv(DotenvFiles...); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func loadDotenv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STOCKSIM_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}

	if v := os.Getenv("FEED_PROVIDER"); v != "" {
		cfg.Feed.Provider = v
	}
	// STOCK_API_KEY is the name used in .env.local files.
	if v := os.Getenv("STOCK_API_KEY"); v != "" {
		cfg.Feed.APIKey = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Feed.APIKey = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultDriver
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = DefaultSQLitePath
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultDataDir
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = DefaultGRPCPort
	}
	if cfg.Feed.Provider == "" {
		cfg.Feed.Provider = DefaultProvider
	}
	if cfg.Feed.Timeout <= 0 {
		cfg.Feed.Timeout = DefaultFeedTimeout
	}
	if cfg.Feed.RateLimitPerMin <= 0 {
		cfg.Feed.RateLimitPerMin = DefaultRateLimitPerMin
	}
	if cfg.Market.RefreshInterval <= 0 {
		cfg.Market.RefreshInterval = DefaultRefresh
	}
	// A negative price interval is kept: it turns price-only refreshes off.
	if cfg.Market.PriceInterval == 0 {
		cfg.Market.PriceInterval = DefaultPriceRefresh
	}
	if cfg.Trading.InitialBalance <= 0 {
		cfg.Trading.InitialBalance = DefaultInitialBalance
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
