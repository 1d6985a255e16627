// Package domain holds the value types shared across the backtesting
// platform: daily bars, trade records, per-day portfolio states and persisted
// backtest runs.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies the exchange a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketTW Market = "tw"
)

// Bar is one daily OHLCV bar. Bars are immutable once retrieved.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// TradeKind is the closed set of trade kinds the simulator can record.
type TradeKind string

const (
	TradeKindBuy         TradeKind = "buy"
	TradeKindSell        TradeKind = "sell"
	TradeKindLiquidation TradeKind = "liquidation"
)

// ActionFinalLiquidation labels the terminal trade that closes any position
// still open after the last bar.
const ActionFinalLiquidation = "Final Liquidation"

// TradeRecord is a single executed trade. Records are appended in date order
// and never modified afterwards.
type TradeRecord struct {
	Date         time.Time       `json:"date"`
	Action       string          `json:"action"`
	Kind         TradeKind       `json:"kind"`
	Price        decimal.Decimal `json:"price"`
	Shares       int64           `json:"shares"`
	Value        decimal.Decimal `json:"value"`
	CapitalAfter decimal.Decimal `json:"capital_after"`
}

// DayState is the portfolio snapshot taken at the close of one bar.
// PortfolioValue always equals Cash + SharesHeld × Close.
type DayState struct {
	Date           time.Time       `json:"date"`
	Close          decimal.Decimal `json:"close"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	SharesHeld     int64           `json:"shares_held"`
	Cash           decimal.Decimal `json:"cash"`
}

// Run is a completed backtest together with its comparison metrics, as
// persisted and served to clients.
type Run struct {
	ID             int64           `json:"id"`
	Symbol         string          `json:"symbol"`
	Strategy       string          `json:"strategy"`
	LotSize        int64           `json:"lot_size"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalCapital   decimal.Decimal `json:"final_capital"`
	ReturnPct      float64         `json:"return_pct"`
	BenchmarkPct   float64         `json:"benchmark_pct"`
	MaxDrawdownPct float64         `json:"max_drawdown_pct"`
	Trades         []TradeRecord   `json:"trades"`
	Days           []DayState      `json:"days,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
