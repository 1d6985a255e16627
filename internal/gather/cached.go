package gather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mabacktest/internal/domain"
	"mabacktest/internal/store"
)

// Compile-time interface check.
var _ Provider = (*CachedProvider)(nil)

// coverageSlack absorbs weekends and market holidays at either end of a
// requested range when deciding whether the cache already covers it.
const coverageSlack = 5 * 24 * time.Hour

// CachedProvider serves bars from a BarStore and falls back to an upstream
// Provider when the cached range does not cover the request. Fetched bars are
// written back to the store.
type CachedProvider struct {
	upstream Provider
	store    store.BarStore
	now      func() time.Time
	log      *slog.Logger
}

// NewCachedProvider wraps upstream with a read-through cache in s.
func NewCachedProvider(upstream Provider, s store.BarStore) *CachedProvider {
	return &CachedProvider{
		upstream: upstream,
		store:    s,
		now:      time.Now,
		log:      slog.Default().With("provider", "cache", "upstream", upstream.Name()),
	}
}

// Name returns the provider identifier.
func (p *CachedProvider) Name() string { return "cached-" + p.upstream.Name() }

// Market returns the upstream market.
func (p *CachedProvider) Market() domain.Market { return p.upstream.Market() }

// DailyBars returns cached bars when they span [start, end], otherwise
// fetches from upstream and refreshes the cache.
func (p *CachedProvider) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if !start.IsZero() && !end.IsZero() {
		cached, err := p.store.ReadBars(ctx, symbol, p.Market(), start, end)
		if err != nil {
			p.log.Warn("cache read failed", "symbol", symbol, "err", err)
		} else if p.covers(cached, start, end) {
			p.log.Debug("cache hit", "symbol", symbol, "bars", len(cached))
			return Normalize(cached), nil
		}
	}

	bars, err := p.upstream.DailyBars(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.upstream.Name(), err)
	}
	if len(bars) > 0 {
		if err := p.store.WriteBars(ctx, p.Market(), bars); err != nil {
			p.log.Warn("cache write failed", "symbol", symbol, "err", err)
		}
	}
	p.log.Debug("cache miss", "symbol", symbol, "bars", len(bars))
	return bars, nil
}

// covers reports whether bars reach both ends of the range with no hole
// wider than coverageSlack between neighbouring bars. Separate fetches merge
// into the same files, so matching ends alone do not prove the middle is
// present. An end in the future is capped at now.
func (p *CachedProvider) covers(bars []domain.Bar, start, end time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	if now := p.now(); end.After(now) {
		end = now
	}
	first, last := bars[0].Timestamp, bars[len(bars)-1].Timestamp
	if first.After(start.Add(coverageSlack)) || last.Before(end.Add(-coverageSlack)) {
		return false
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Sub(bars[i-1].Timestamp) > coverageSlack {
			return false
		}
	}
	return true
}
