package httpapi

import (
	"github.com/shopspring/decimal"

	"mabacktest/internal/domain"
	"mabacktest/internal/strategy"
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
	// Save persists the run; it defaults to true when a run store is configured.
	Save *bool `json:"save,omitempty"`
}

// BacktestResponse wraps a completed run.
type BacktestResponse struct {
	Run       *domain.Run `json:"run"`
	Saved     bool        `json:"saved"`
	CurvePath string      `json:"curve_path,omitempty"`
}

// RunListResponse is the body of GET /api/backtests.
type RunListResponse struct {
	Runs []domain.Run `json:"runs"`
}

// StrategyInfo describes one registered strategy.
type StrategyInfo struct {
	Name    string          `json:"name"`
	LotSize int64           `json:"lot_size"`
	Windows []int           `json:"windows"`
	Rules   []strategy.Rule `json:"rules"`
}

// StrategyListResponse is the body of GET /api/strategies.
type StrategyListResponse struct {
	Strategies []StrategyInfo `json:"strategies"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
