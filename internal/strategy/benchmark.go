package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"mabacktest/internal/domain"
)

// Benchmark returns the buy-and-hold return, in percent, from the first bar's
// close to the last bar's close.
func Benchmark(bars []domain.Bar) (float64, error) {
	if len(bars) == 0 {
		return 0, fmt.Errorf("%w: benchmark needs at least one bar", ErrConfiguration)
	}
	first := bars[0].Close
	if first == 0 {
		return 0, fmt.Errorf("%w: first close is zero", ErrInvalidInput)
	}
	last := bars[len(bars)-1].Close
	return (last/first - 1) * 100, nil
}

// ReturnPct returns the strategy's total return, in percent, relative to
// initialCapital.
func (r *Result) ReturnPct(initialCapital decimal.Decimal) float64 {
	if initialCapital.IsZero() {
		return 0
	}
	return r.FinalCapital.Div(initialCapital).Sub(decimal.NewFromInt(1)).Shift(2).InexactFloat64()
}

// MaxDrawdownPct returns the largest peak-to-trough decline of the portfolio
// value over the simulated days, in percent.
func (r *Result) MaxDrawdownPct() float64 {
	var peak, worst decimal.Decimal
	for _, d := range r.Days[r.StartIndex:] {
		if d.PortfolioValue.GreaterThan(peak) {
			peak = d.PortfolioValue
		}
		if peak.IsPositive() {
			dd := peak.Sub(d.PortfolioValue).Div(peak)
			if dd.GreaterThan(worst) {
				worst = dd
			}
		}
	}
	return worst.Shift(2).InexactFloat64()
}
