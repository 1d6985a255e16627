// Package store defines storage interfaces for cached daily bars and
// completed backtest runs, with Parquet and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"mabacktest/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars for market.
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Symbol   string
	Strategy string
	Limit    int
}

// RunStore persists completed backtests.
type RunStore interface {
	// SaveRun inserts run with its trade log and daily states and sets run.ID.
	SaveRun(ctx context.Context, run *domain.Run) error

	// GetRun retrieves a run by ID including trades and days.
	GetRun(ctx context.Context, id int64) (*domain.Run, error)

	// ListRuns returns run summaries, newest first, without trades or days.
	ListRuns(ctx context.Context, f RunFilter) ([]domain.Run, error)
}

// CurveWriter exports a run's daily portfolio curve for charting.
type CurveWriter interface {
	WriteCurve(ctx context.Context, run *domain.Run) (string, error)
}
