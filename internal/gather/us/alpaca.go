// Package us provides US equity daily bars from the Alpaca market-data API.
package us

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"mabacktest/internal/domain"
	"mabacktest/internal/gather"
	"mabacktest/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ gather.Provider = (*AlpacaProvider)(nil)

// barClient is the subset of *marketdata.Client the provider uses.
type barClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaProvider fetches split- and dividend-adjusted daily bars for US
// equities. Calls are rate limited and retried with exponential backoff.
type AlpacaProvider struct {
	client    barClient
	limiter   *util.RateLimiter
	feed      marketdata.Feed
	attempts  int
	baseDelay time.Duration
	loc       *time.Location
	log       *slog.Logger
}

// AlpacaOptions configures NewAlpacaProvider.
type AlpacaOptions struct {
	APIKey          string
	APISecret       string
	DataURL         string
	Feed            string // "iex" or "sip"
	RateLimitPerMin int
}

// NewAlpacaProvider creates an AlpacaProvider configured with the given Alpaca
// credentials and limits.
func NewAlpacaProvider(o AlpacaOptions) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    o.APIKey,
		APISecret: o.APISecret,
	}
	if o.DataURL != "" {
		opts.BaseURL = o.DataURL
	}
	return newAlpacaProvider(marketdata.NewClient(opts), marketdata.Feed(o.Feed), o.RateLimitPerMin)
}

func newAlpacaProvider(client barClient, feed marketdata.Feed, perMin int) *AlpacaProvider {
	if feed == "" {
		feed = marketdata.IEX
	}
	if perMin <= 0 {
		perMin = 200
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &AlpacaProvider{
		client:    client,
		limiter:   util.NewRateLimiter(perMin),
		feed:      feed,
		attempts:  3,
		baseDelay: 500 * time.Millisecond,
		loc:       loc,
		log:       slog.Default().With("provider", "alpaca"),
	}
}

// Name returns the provider identifier.
func (p *AlpacaProvider) Name() string { return "alpaca" }

// Market returns the US market.
func (p *AlpacaProvider) Market() domain.Market { return domain.MarketUS }

// DailyBars fetches daily bars for symbol within [start, end]. Bar
// timestamps are normalised to midnight UTC of the New York trading date.
func (p *AlpacaProvider) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var raw []marketdata.Bar
	err := util.Retry(ctx, p.attempts, p.baseDelay, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		raw, err = p.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.All,
			Start:      start,
			End:        end,
			Feed:       p.feed,
		})
		if err != nil {
			p.log.Warn("GetBars failed", "symbol", symbol, "err", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		day := ab.Timestamp.In(p.loc)
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	p.log.Debug("fetched bars", "symbol", symbol, "bars", len(bars))
	return gather.Normalize(bars), nil
}
