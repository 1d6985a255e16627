// Package builtins provides the moving-average strategies that ship with
// mabacktest.
package builtins

import (
	"mabacktest/internal/strategy"
)

// SMACrossName is the registry name of the two-line crossover strategy.
const SMACrossName = "sma-cross"

// SMACross is the two-line crossover: buy with all cash on a golden cross
// while flat, sell everything on a death cross while holding.
func SMACross(short, long int, lotSize int64) strategy.Config {
	return strategy.Config{
		Name:    SMACrossName,
		LotSize: lotSize,
		Rules: []strategy.Rule{
			strategy.DeathCross(short, long),
			strategy.GoldenCross(short, long),
		},
	}
}
