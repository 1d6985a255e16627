package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mabacktest/internal/domain"
	"mabacktest/internal/indicator"
)

// PriceHistory supplies ordered daily bars for a symbol. An empty result
// means the symbol has no data in the range.
type PriceHistory interface {
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// Request describes one backtest run.
type Request struct {
	Symbol         string
	Strategy       string
	Start          time.Time
	End            time.Time
	InitialCapital decimal.Decimal
	// LotSize overrides the strategy's lot size when positive.
	LotSize int64
}

// Backtester fetches price history, computes the averages a strategy needs,
// and runs the simulation.
type Backtester struct {
	history  PriceHistory
	registry *Registry
	log      *slog.Logger
}

// NewBacktester creates a Backtester that reads bars from history and looks
// up strategies in the provided registry.
func NewBacktester(history PriceHistory, registry *Registry) *Backtester {
	return &Backtester{
		history:  history,
		registry: registry,
		log:      slog.Default().With("component", "backtester"),
	}
}

// Registry returns the strategies the Backtester can run.
func (bt *Backtester) Registry() *Registry { return bt.registry }

// Run executes a backtest for the named strategy over the requested symbol
// and date range.
func (bt *Backtester) Run(ctx context.Context, req Request) (*domain.Run, error) {
	cfg, ok := bt.registry.Get(req.Strategy)
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, req.Strategy)
	}
	if req.LotSize > 0 {
		cfg = cfg.WithLotSize(req.LotSize)
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidInput)
	}

	bars, err := bt.history.DailyBars(ctx, symbol, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("fetching %s history: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no price history for %s", ErrConfiguration, symbol)
	}

	series, err := indicator.Augment(bars, cfg.RequiredWindows()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	res, err := SimulateContext(ctx, series, req.InitialCapital, cfg)
	if err != nil {
		return nil, err
	}

	simulated := bars[res.StartIndex:]
	bench, err := Benchmark(simulated)
	if err != nil {
		return nil, err
	}

	run := &domain.Run{
		Symbol:         symbol,
		Strategy:       cfg.Name,
		LotSize:        cfg.LotSize,
		Start:          simulated[0].Timestamp,
		End:            simulated[len(simulated)-1].Timestamp,
		InitialCapital: req.InitialCapital,
		FinalCapital:   res.FinalCapital,
		ReturnPct:      res.ReturnPct(req.InitialCapital),
		BenchmarkPct:   bench,
		MaxDrawdownPct: res.MaxDrawdownPct(),
		Trades:         res.Trades,
		Days:           res.Days,
		CreatedAt:      time.Now().UTC(),
	}

	bt.log.Info("backtest complete",
		"symbol", symbol,
		"strategy", cfg.Name,
		"bars", len(bars),
		"trades", len(res.Trades),
		"final", res.FinalCapital.StringFixed(2),
		"returnPct", run.ReturnPct,
		"benchmarkPct", bench,
	)
	return run, nil
}
