// Package gather supplies daily price history to the backtester from an API,
// exported CSV files, or a local Parquet cache.
package gather

import (
	"context"
	"sort"
	"time"

	"mabacktest/internal/domain"
)

// Provider returns ordered daily bars for a symbol within [start, end]. A
// zero start or end leaves that side of the range open. An empty slice with a
// nil error means the symbol has no data in the range.
type Provider interface {
	// Name returns the provider identifier.
	Name() string
	// Market is the market whose symbols the provider serves.
	Market() domain.Market
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range. Zero bounds are open.
func (r DateRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Normalize sorts bars by date and drops later duplicates of the same day,
// so the result is strictly increasing.
func Normalize(bars []domain.Bar) []domain.Bar {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	out := bars[:0]
	for _, b := range bars {
		if len(out) > 0 && !b.Timestamp.After(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, b)
	}
	return out
}
