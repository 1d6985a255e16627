package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when MABT_CONFIG is unset.
const DefaultPath = "config/mabacktest.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the backtesting service and CLIs.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Logging  Logging  `yaml:"logging"`
	Data     Data     `yaml:"data"`
	Backtest Backtest `yaml:"backtest"`
	Sweep    Sweep    `yaml:"sweep"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data and
// trading calendar APIs.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Data selects where daily bars come from.
type Data struct {
	// Source is "alpaca" or "csv".
	Source string `yaml:"source"`
	// Market is the exchange the bars belong to ("us" or "tw"). It also
	// names the cache directory, so markets never share cached bars.
	Market string `yaml:"market"`
	CSVDir string `yaml:"csv_dir"`
	// Cache enables the Parquet read-through cache under Storage.DataDir.
	Cache    bool   `yaml:"cache"`
	Lookback string `yaml:"lookback"`
}

// Backtest holds the defaults for a single run.
type Backtest struct {
	InitialCapital float64  `yaml:"initial_capital"`
	LotSize        int64    `yaml:"lot_size"`
	Strategy       string   `yaml:"strategy"`
	Windows        []int    `yaml:"windows"`
	Symbols        []string `yaml:"symbols"`
	Start          string   `yaml:"start"`
	End            string   `yaml:"end"`
}

// Sweep controls parallel runs across symbols and strategies.
type Sweep struct {
	MaxWorkers int      `yaml:"max_workers"`
	Strategies []string `yaml:"strategies"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config file path from MABT_CONFIG, or DefaultPath.
func Path() string {
	if v := os.Getenv("MABT_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.Defaults()

	return cfg, nil
}

// Defaults fills zero-valued fields with working values.
func (c *Config) Defaults() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/mabacktest.db"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 9090
	}
	if c.Alpaca.BaseURL == "" {
		c.Alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}
	if c.Alpaca.Feed == "" {
		c.Alpaca.Feed = "iex"
	}
	if c.Alpaca.RateLimitPerMin == 0 {
		c.Alpaca.RateLimitPerMin = 200
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Data.Source == "" {
		c.Data.Source = "alpaca"
	}
	if c.Data.Market == "" {
		c.Data.Market = "us"
	}
	if c.Data.Lookback == "" {
		c.Data.Lookback = "1y"
	}
	if c.Backtest.InitialCapital == 0 {
		c.Backtest.InitialCapital = 10_000_000
	}
	if c.Backtest.LotSize == 0 {
		c.Backtest.LotSize = 1000
	}
	if c.Backtest.Strategy == "" {
		c.Backtest.Strategy = "ma-tiered"
	}
	if len(c.Backtest.Windows) == 0 {
		c.Backtest.Windows = []int{5, 10, 20, 60}
	}
	if c.Sweep.MaxWorkers == 0 {
		c.Sweep.MaxWorkers = 4
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("MABT_INITIAL_CAPITAL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MABT_INITIAL_CAPITAL: %w", err)
		}
		cfg.Backtest.InitialCapital = f
	}

	if v := os.Getenv("MABT_LOT_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MABT_LOT_SIZE: %w", err)
		}
		cfg.Backtest.LotSize = n
	}

	// Standard Alpaca env vars (highest priority, the names the SDK reads).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}
