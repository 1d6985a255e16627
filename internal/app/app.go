// Package app assembles the backtesting components from configuration.
// Every command builds its dependencies through New so the HTTP server and
// the CLIs run the same provider, registry and stores.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mabacktest/internal/config"
	"mabacktest/internal/domain"
	"mabacktest/internal/gather"
	"mabacktest/internal/gather/us"
	"mabacktest/internal/store"
	"mabacktest/internal/strategy"
	"mabacktest/internal/strategy/builtins"
	"mabacktest/internal/util"
)

// Options selects optional components.
type Options struct {
	// RunStore opens the SQLite run store at Storage.SQLitePath.
	RunStore bool
	// LogWriter replaces stderr as the primary log destination.
	LogWriter io.Writer
}

// App holds the assembled components. Close releases the log file and the
// run store.
type App struct {
	Config     *config.Config
	Log        *slog.Logger
	Provider   gather.Provider
	Parquet    *store.ParquetStore
	Runs       *store.SQLiteStore
	Registry   *strategy.Registry
	Backtester *strategy.Backtester

	now     func() time.Time
	closers []io.Closer
}

// New builds an App from cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg, now: time.Now}

	logger, logFile, err := NewLogger(cfg.Logging, opts.LogWriter)
	if err != nil {
		return nil, err
	}
	if logFile != nil {
		a.closers = append(a.closers, logFile)
	}
	a.Log = logger
	util.SetDefault(logger)

	a.Parquet = store.NewParquetStore(cfg.Storage.DataDir)

	a.Provider, err = NewProvider(cfg, a.Parquet)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Registry, err = NewRegistry(cfg.Backtest)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Backtester = strategy.NewBacktester(a.Provider, a.Registry)

	if opts.RunStore {
		a.Runs, err = store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, a.Runs)
	}

	logger.Debug("app assembled",
		"provider", a.Provider.Name(),
		"strategies", a.Registry.List(),
		"runStore", opts.RunStore,
	)
	return a, nil
}

// Close releases resources opened by New, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewLogger builds the application logger. When cfg.File is set, records
// are written to both w (stderr when nil) and the file, which the caller
// must close.
func NewLogger(cfg config.Logging, w io.Writer) (*slog.Logger, io.Closer, error) {
	if w == nil {
		w = os.Stderr
	}
	if cfg.File == "" {
		return util.NewLoggerTo(w, cfg.Level, cfg.Format), nil, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return util.NewLoggerTo(io.MultiWriter(w, f), cfg.Level, cfg.Format), f, nil
}

// NewProvider returns the bar provider named by cfg.Data.Source for
// cfg.Data.Market, wrapped in a read-through cache over bars when
// cfg.Data.Cache is set. The cache is keyed by the provider's market.
func NewProvider(cfg *config.Config, bars store.BarStore) (gather.Provider, error) {
	market := domain.Market(strings.ToLower(cfg.Data.Market))
	switch market {
	case "":
		market = domain.MarketUS
	case domain.MarketUS, domain.MarketTW:
	default:
		return nil, fmt.Errorf("%w: unknown market %q", strategy.ErrConfiguration, cfg.Data.Market)
	}

	var p gather.Provider
	switch strings.ToLower(cfg.Data.Source) {
	case "alpaca":
		if market != domain.MarketUS {
			return nil, fmt.Errorf("%w: alpaca serves the us market, not %q", strategy.ErrConfiguration, market)
		}
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			return nil, fmt.Errorf("%w: alpaca source needs api_key and api_secret", strategy.ErrConfiguration)
		}
		p = us.NewAlpacaProvider(us.AlpacaOptions{
			APIKey:          cfg.Alpaca.APIKey,
			APISecret:       cfg.Alpaca.APISecret,
			DataURL:         cfg.Alpaca.DataURL,
			Feed:            cfg.Alpaca.Feed,
			RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
		})
	case "csv":
		if cfg.Data.CSVDir == "" {
			return nil, fmt.Errorf("%w: csv source needs data.csv_dir", strategy.ErrConfiguration)
		}
		p = gather.NewCSVProvider(cfg.Data.CSVDir, market)
	default:
		return nil, fmt.Errorf("%w: unknown data source %q", strategy.ErrConfiguration, cfg.Data.Source)
	}

	if cfg.Data.Cache && bars != nil {
		return gather.NewCachedProvider(p, bars), nil
	}
	return p, nil
}

// NewRegistry registers the built-in strategies with the configured lot
// size. A four-window cfg.Windows replaces the tiered strategy's defaults.
func NewRegistry(cfg config.Backtest) (*strategy.Registry, error) {
	if cfg.LotSize <= 0 {
		return nil, fmt.Errorf("%w: lot size must be positive, got %d", strategy.ErrInvalidInput, cfg.LotSize)
	}
	reg := strategy.NewRegistry()
	builtins.Register(reg, cfg.LotSize)

	switch len(cfg.Windows) {
	case 0:
	case 4:
		var ws [4]int
		copy(ws[:], cfg.Windows)
		for _, w := range ws {
			if w <= 0 {
				return nil, fmt.Errorf("%w: window must be positive, got %d", strategy.ErrInvalidInput, w)
			}
		}
		tiered := builtins.Tiered(ws, cfg.LotSize)
		if err := tiered.Validate(); err != nil {
			return nil, err
		}
		reg.Register(tiered)
	default:
		return nil, fmt.Errorf("%w: tiered strategy needs 4 windows, got %d", strategy.ErrInvalidInput, len(cfg.Windows))
	}
	return reg, nil
}

// DefaultEnd is the date used when a run names no end: the latest finished
// US trading day for the Alpaca source, otherwise today.
func (a *App) DefaultEnd() time.Time {
	now := a.now()
	if strings.EqualFold(a.Config.Data.Source, "alpaca") && a.Config.Alpaca.APIKey != "" {
		day, err := us.LatestFinishedTradingDay(a.Config.Alpaca.APIKey, a.Config.Alpaca.APISecret, a.Config.Alpaca.BaseURL)
		if err == nil {
			return day
		}
		a.Log.Warn("trading calendar unavailable, using today", "error", err)
	}
	return now
}

// Request builds a backtest request from command-line style arguments,
// filling in the configured defaults for anything left empty.
func (a *App) Request(symbol, strategyName, start, end, lookback string) (strategy.Request, error) {
	bt := a.Config.Backtest
	if strategyName == "" {
		strategyName = bt.Strategy
	}
	if start == "" {
		start = bt.Start
	}
	if end == "" {
		end = bt.End
	}
	if lookback == "" {
		lookback = a.Config.Data.Lookback
	}

	var now time.Time
	if end == "" {
		now = a.DefaultEnd()
	} else {
		now = a.now()
	}
	from, to, err := util.ResolveRange(start, end, lookback, now)
	if err != nil {
		return strategy.Request{}, fmt.Errorf("%w: %v", strategy.ErrInvalidInput, err)
	}

	return strategy.Request{
		Symbol:         symbol,
		Strategy:       strategyName,
		Start:          from,
		End:            to,
		InitialCapital: decimal.NewFromFloat(bt.InitialCapital),
		LotSize:        bt.LotSize,
	}, nil
}

// Persist saves run to the run store, when open, and writes its equity
// curve. It returns the curve path.
func (a *App) Persist(ctx context.Context, run *domain.Run) (string, error) {
	if a.Runs != nil {
		if err := a.Runs.SaveRun(ctx, run); err != nil {
			return "", fmt.Errorf("saving run: %w", err)
		}
	}
	path, err := a.Parquet.WriteCurve(ctx, run)
	if err != nil {
		return "", fmt.Errorf("writing curve: %w", err)
	}
	return path, nil
}
