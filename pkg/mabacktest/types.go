package mabacktest

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestRequest is the body of POST /api/backtests. Omitted fields fall
// back to the server's configured defaults.
type BacktestRequest struct {
	Symbol         string              `json:"symbol"`
	Strategy       string              `json:"strategy,omitempty"`
	Start          string              `json:"start,omitempty"` // YYYY-MM-DD
	End            string              `json:"end,omitempty"`   // YYYY-MM-DD
	Lookback       string              `json:"lookback,omitempty"`
	InitialCapital decimal.NullDecimal `json:"initial_capital"`
	LotSize        int64               `json:"lot_size,omitempty"`
	Save           *bool               `json:"save,omitempty"`
}

// BacktestResponse wraps a completed run.
type BacktestResponse struct {
	Run       *Run   `json:"run"`
	Saved     bool   `json:"saved"`
	CurvePath string `json:"curve_path,omitempty"`
}

// TradeRecord is one executed trade. Kind is "buy", "sell" or
// "liquidation".
type TradeRecord struct {
	Date         time.Time       `json:"date"`
	Action       string          `json:"action"`
	Kind         string          `json:"kind"`
	Price        decimal.Decimal `json:"price"`
	Shares       int64           `json:"shares"`
	Value        decimal.Decimal `json:"value"`
	CapitalAfter decimal.Decimal `json:"capital_after"`
}

// DayState is the portfolio at the close of one bar.
type DayState struct {
	Date           time.Time       `json:"date"`
	Close          decimal.Decimal `json:"close"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	SharesHeld     int64           `json:"shares_held"`
	Cash           decimal.Decimal `json:"cash"`
}

// Run is a completed backtest as served by the API.
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

// Trigger is a crossing condition. Fast and Slow are moving average
// windows; 0 means the closing price.
type Trigger struct {
	Kind string `json:"kind"`
	Fast int    `json:"fast"`
	Slow int    `json:"slow"`
}

// Sizing is a rule's position sizing policy.
type Sizing struct {
	Kind     string  `json:"kind"`
	Fraction float64 `json:"fraction,omitempty"`
}

// Rule is one entry of a strategy's priority list.
type Rule struct {
	Label   string  `json:"label"`
	Kind    string  `json:"kind"`
	Guard   string  `json:"guard"`
	Trigger Trigger `json:"trigger"`
	Sizing  Sizing  `json:"sizing"`
}

// StrategyInfo describes one strategy the server can run.
type StrategyInfo struct {
	Name    string `json:"name"`
	LotSize int64  `json:"lot_size"`
	Windows []int  `json:"windows"`
	Rules   []Rule `json:"rules"`
}

type strategyList struct {
	Strategies []StrategyInfo `json:"strategies"`
}

type runList struct {
	Runs []Run `json:"runs"`
}

type errorResponse struct {
	Error string `json:"error"`
}
