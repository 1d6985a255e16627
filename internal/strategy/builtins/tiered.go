package builtins

import (
	"sort"

	"mabacktest/internal/strategy"
)

// TieredName is the registry name of the tiered multi-average strategy.
const TieredName = "ma-tiered"

// DefaultTierWindows are the weekly, fortnightly, monthly and quarterly
// averages used by the tiered strategy.
var DefaultTierWindows = [4]int{5, 10, 20, 60}

// Tiered builds the four-rule tiered strategy over windows, given shortest
// first:
//
//  1. EXIT ALL when the close breaks below the longest average.
//  2. SELL 50% when the close breaks below the third average.
//  3. BUY 10% when the close crosses up through the second average.
//  4. BUY 5% when the close crosses up through the shortest average.
func Tiered(windows [4]int, lotSize int64) strategy.Config {
	ws := windows[:]
	sort.Ints(ws)
	return strategy.Config{
		Name:    TieredName,
		LotSize: lotSize,
		Rules: []strategy.Rule{
			strategy.ExitAll(ws[3]),
			strategy.ReduceHalf(ws[2]),
			strategy.AddTier(0.10, ws[1]),
			strategy.AddTier(0.05, ws[0]),
		},
	}
}

// Register adds the built-in strategies to r with the given lot size and
// default windows.
func Register(r *strategy.Registry, lotSize int64) {
	r.Register(SMACross(DefaultTierWindows[0], DefaultTierWindows[2], lotSize))
	r.Register(Tiered(DefaultTierWindows, lotSize))
}
