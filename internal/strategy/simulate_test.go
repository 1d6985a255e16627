package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mabacktest/internal/domain"
	"mabacktest/internal/indicator"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func barsFromCloses(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "2330.TW",
			Timestamp: day0.AddDate(0, 0, i),
			Open:      c, High: c, Low: c, Close: c,
			Volume: 1000,
		}
	}
	return bars
}

func mustAugment(t *testing.T, bars []domain.Bar, windows ...int) *indicator.Series {
	t.Helper()
	s, err := indicator.Augment(bars, windows...)
	if err != nil {
		t.Fatalf("Augment: %v", err)
	}
	return s
}

func mustSimulate(t *testing.T, s *indicator.Series, capital int64, cfg Config) *Result {
	t.Helper()
	res, err := Simulate(s, decimal.NewFromInt(capital), cfg)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	return res
}

func tieredConfig(lot int64, w [4]int) Config {
	return Config{
		Name:    "ma-tiered",
		LotSize: lot,
		Rules:   []Rule{ExitAll(w[3]), ReduceHalf(w[2]), AddTier(0.10, w[1]), AddTier(0.05, w[0])},
	}
}

func crossoverConfig(lot int64, short, long int) Config {
	return Config{
		Name:    "sma-cross",
		LotSize: lot,
		Rules:   []Rule{DeathCross(short, long), GoldenCross(short, long)},
	}
}

// checkInvariants verifies conservation, non-negativity and lot discipline.
func checkInvariants(t *testing.T, res *Result, lot int64) {
	t.Helper()
	for i, d := range res.Days {
		want := d.Cash.Add(d.Close.Mul(decimal.NewFromInt(d.SharesHeld)))
		if !d.PortfolioValue.Equal(want) {
			t.Errorf("day %d: PortfolioValue = %s, want Cash + Shares*Close = %s", i, d.PortfolioValue, want)
		}
		if d.Cash.IsNegative() {
			t.Errorf("day %d: Cash = %s, want >= 0", i, d.Cash)
		}
		if d.SharesHeld < 0 {
			t.Errorf("day %d: SharesHeld = %d, want >= 0", i, d.SharesHeld)
		}
	}
	for i, tr := range res.Trades {
		if tr.Shares <= 0 {
			t.Errorf("trade %d: Shares = %d, want > 0", i, tr.Shares)
		}
		if !tr.Value.Equal(tr.Price.Mul(decimal.NewFromInt(tr.Shares))) {
			t.Errorf("trade %d: Value = %s, want Price*Shares", i, tr.Value)
		}
		if tr.CapitalAfter.IsNegative() {
			t.Errorf("trade %d: CapitalAfter = %s, want >= 0", i, tr.CapitalAfter)
		}
		if tr.Kind != domain.TradeKindLiquidation && tr.Shares%lot != 0 {
			t.Errorf("trade %d (%s): Shares = %d, not a multiple of lot %d", i, tr.Action, tr.Shares, lot)
		}
		if i > 0 && tr.Date.Before(res.Trades[i-1].Date) {
			t.Errorf("trade %d dated %s before previous trade", i, tr.Date)
		}
	}
}

func TestSimulateCrossoverLotTooLarge(t *testing.T) {
	// The golden cross on the close=11 day is a valid signal, but 10000 of
	// capital cannot buy a single 1000-share lot at that price.
	s := mustAugment(t, barsFromCloses(10, 9, 8, 9, 11, 12), 2, 3)
	res := mustSimulate(t, s, 10000, crossoverConfig(1000, 2, 3))

	if len(res.Trades) != 0 {
		t.Errorf("Trades = %+v, want none", res.Trades)
	}
	if !res.FinalCapital.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("FinalCapital = %s, want 10000", res.FinalCapital)
	}
	if res.StartIndex != 2 {
		t.Errorf("StartIndex = %d, want 2", res.StartIndex)
	}
	checkInvariants(t, res, 1000)
}

func TestSimulateCrossoverRoundTrip(t *testing.T) {
	s := mustAugment(t, barsFromCloses(10, 9, 8, 9, 11, 12, 11, 9, 8), 2, 3)
	res := mustSimulate(t, s, 10000, crossoverConfig(1, 2, 3))

	if len(res.Trades) != 2 {
		t.Fatalf("got %d trades, want 2: %+v", len(res.Trades), res.Trades)
	}
	buy, sell := res.Trades[0], res.Trades[1]

	if buy.Action != "GOLDEN CROSS" || buy.Kind != domain.TradeKindBuy {
		t.Errorf("first trade = %s/%s, want GOLDEN CROSS buy", buy.Action, buy.Kind)
	}
	if !buy.Date.Equal(day0.AddDate(0, 0, 4)) {
		t.Errorf("buy date = %s, want day 4", buy.Date)
	}
	// floor(10000 / 11) = 909 shares, 9999 spent.
	if buy.Shares != 909 || !buy.CapitalAfter.Equal(decimal.NewFromInt(1)) {
		t.Errorf("buy = %d shares, capital after %s; want 909 and 1", buy.Shares, buy.CapitalAfter)
	}

	if sell.Action != "DEATH CROSS" || sell.Kind != domain.TradeKindSell {
		t.Errorf("second trade = %s/%s, want DEATH CROSS sell", sell.Action, sell.Kind)
	}
	if !sell.Date.Equal(day0.AddDate(0, 0, 7)) {
		t.Errorf("sell date = %s, want day 7", sell.Date)
	}
	// 909 * 9 = 8181, plus 1 left over.
	if sell.Shares != 909 || !sell.CapitalAfter.Equal(decimal.NewFromInt(8182)) {
		t.Errorf("sell = %d shares, capital after %s; want 909 and 8182", sell.Shares, sell.CapitalAfter)
	}
	if !res.FinalCapital.Equal(decimal.NewFromInt(8182)) {
		t.Errorf("FinalCapital = %s, want 8182", res.FinalCapital)
	}
	checkInvariants(t, res, 1)
}

// tieredScenario builds a 70-day series with hand-set averages: flat at 100
// except for an MA5 cross-up on day 21 and an MA20 breakdown on day 45.
func tieredScenario(t *testing.T) *indicator.Series {
	t.Helper()
	const n = 70
	closes := make([]float64, n)
	ma := map[int][]float64{5: make([]float64, n), 10: make([]float64, n), 20: make([]float64, n), 60: make([]float64, n)}
	for i := 0; i < n; i++ {
		closes[i] = 100
		for _, w := range []int{5, 10, 20, 60} {
			ma[w][i] = 100
		}
	}
	set := func(i int, c, m5, m10, m20, m60 float64) {
		closes[i] = c
		ma[5][i], ma[10][i], ma[20][i], ma[60][i] = m5, m10, m20, m60
	}
	set(20, 99, 100, 98, 98, 98)
	set(21, 100, 100, 98, 98, 98)
	set(44, 101, 100, 100, 100, 90)
	set(45, 99, 99, 99, 100, 90)

	s, err := indicator.NewSeries(barsFromCloses(closes...), ma)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	return s
}

func TestSimulateTieredScenario(t *testing.T) {
	res := mustSimulate(t, tieredScenario(t), 10_000_000, tieredConfig(1000, [4]int{5, 10, 20, 60}))

	if len(res.Trades) != 3 {
		t.Fatalf("got %d trades, want 3: %+v", len(res.Trades), res.Trades)
	}

	// Day 21: 5% of 10,000,000 at 100 is 5 lots.
	buy := res.Trades[0]
	if buy.Action != "BUY 5% (MA5)" || !buy.Date.Equal(day0.AddDate(0, 0, 21)) {
		t.Errorf("first trade = %s on %s, want BUY 5%% (MA5) on day 21", buy.Action, buy.Date)
	}
	if buy.Shares != 5000 || !buy.CapitalAfter.Equal(decimal.NewFromInt(9_500_000)) {
		t.Errorf("buy = %d shares, capital after %s; want 5000 and 9500000", buy.Shares, buy.CapitalAfter)
	}

	// Day 45: half of 5000 rounds down to 2000, sold at 99.
	sell := res.Trades[1]
	if sell.Action != "SELL 50%" || !sell.Date.Equal(day0.AddDate(0, 0, 45)) {
		t.Errorf("second trade = %s on %s, want SELL 50%% on day 45", sell.Action, sell.Date)
	}
	if sell.Shares != 2000 || !sell.CapitalAfter.Equal(decimal.NewFromInt(9_698_000)) {
		t.Errorf("sell = %d shares, capital after %s; want 2000 and 9698000", sell.Shares, sell.CapitalAfter)
	}

	// Remaining 3000 shares close out at the last bar.
	liq := res.Trades[2]
	if liq.Action != domain.ActionFinalLiquidation || liq.Shares != 3000 {
		t.Errorf("last trade = %s x%d, want Final Liquidation x3000", liq.Action, liq.Shares)
	}
	if !res.FinalCapital.Equal(decimal.NewFromInt(9_998_000)) {
		t.Errorf("FinalCapital = %s, want 9998000", res.FinalCapital)
	}

	if got := res.Days[45].PortfolioValue; !got.Equal(decimal.NewFromInt(9_995_000)) {
		t.Errorf("day 45 PortfolioValue = %s, want 9995000", got)
	}
	checkInvariants(t, res, 1000)
}

// tieredCloses builds a close series whose computed averages reproduce the
// tiered scenario: 59 warmup bars for MA60, then 70 simulated days where the
// close crosses up through MA5 on day 21 and breaks below MA20 on day 45. The
// low early closes keep MA60 under the price so the exit rule never fires,
// and the slow slide after day 45 never climbs back over MA5.
func tieredCloses() []float64 {
	closes := make([]float64, 0, 59+70)
	for i := 0; i < 59+16; i++ {
		closes = append(closes, 90)
	}
	closes = append(closes, 100, 100, 100, 100) // days 16-19
	closes = append(closes, 99)                 // day 20: under MA5, over MA10
	for i := 21; i <= 43; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 101, 99) // days 44-45
	for k := 1; k <= 24; k++ {
		closes = append(closes, 99-float64(k)/64)
	}
	return closes
}

func TestSimulateTieredScenarioFromCloses(t *testing.T) {
	s := mustAugment(t, barsFromCloses(tieredCloses()...), 5, 10, 20, 60)
	res := mustSimulate(t, s, 10_000_000, tieredConfig(1000, [4]int{5, 10, 20, 60}))

	if res.StartIndex != 59 {
		t.Fatalf("StartIndex = %d, want 59", res.StartIndex)
	}
	day := func(k int) time.Time { return day0.AddDate(0, 0, res.StartIndex+k) }

	if ma5, _ := s.MA(5, res.StartIndex+20); s.Close(res.StartIndex+20) >= ma5 {
		t.Fatalf("day 20 close %v not under MA5 %v", s.Close(res.StartIndex+20), ma5)
	}
	if ma20, _ := s.MA(20, res.StartIndex+44); s.Close(res.StartIndex+44) <= ma20 {
		t.Fatalf("day 44 close %v not over MA20 %v", s.Close(res.StartIndex+44), ma20)
	}

	if len(res.Trades) != 3 {
		t.Fatalf("got %d trades, want 3: %+v", len(res.Trades), res.Trades)
	}

	buy := res.Trades[0]
	if buy.Action != "BUY 5% (MA5)" || !buy.Date.Equal(day(21)) {
		t.Errorf("first trade = %s on %s, want BUY 5%% (MA5) on day 21", buy.Action, buy.Date)
	}
	if buy.Shares != 5000 || !buy.CapitalAfter.Equal(decimal.NewFromInt(9_500_000)) {
		t.Errorf("buy = %d shares, capital after %s; want 5000 and 9500000", buy.Shares, buy.CapitalAfter)
	}

	sell := res.Trades[1]
	if sell.Action != "SELL 50%" || !sell.Date.Equal(day(45)) {
		t.Errorf("second trade = %s on %s, want SELL 50%% on day 45", sell.Action, sell.Date)
	}
	if sell.Shares != 2000 || !sell.CapitalAfter.Equal(decimal.NewFromInt(9_698_000)) {
		t.Errorf("sell = %d shares, capital after %s; want 2000 and 9698000", sell.Shares, sell.CapitalAfter)
	}

	// 3000 shares at the last close of 98.625.
	liq := res.Trades[2]
	if liq.Action != domain.ActionFinalLiquidation || liq.Shares != 3000 {
		t.Errorf("last trade = %s x%d, want Final Liquidation x3000", liq.Action, liq.Shares)
	}
	if !res.FinalCapital.Equal(decimal.NewFromInt(9_993_875)) {
		t.Errorf("FinalCapital = %s, want 9993875", res.FinalCapital)
	}

	if got := res.Days[res.StartIndex+45].PortfolioValue; !got.Equal(decimal.NewFromInt(9_995_000)) {
		t.Errorf("day 45 PortfolioValue = %s, want 9995000", got)
	}
	checkInvariants(t, res, 1000)
}

func TestSimulateFlatMarket(t *testing.T) {
	closes := make([]float64, 90)
	for i := range closes {
		closes[i] = 50
	}
	s := mustAugment(t, barsFromCloses(closes...), 5, 10, 20, 60)

	for _, cfg := range []Config{tieredConfig(1000, [4]int{5, 10, 20, 60}), crossoverConfig(1000, 5, 20)} {
		res := mustSimulate(t, s, 1_000_000, cfg)
		if len(res.Trades) != 0 {
			t.Errorf("%s: Trades = %+v, want none", cfg.Name, res.Trades)
		}
		if !res.FinalCapital.Equal(decimal.NewFromInt(1_000_000)) {
			t.Errorf("%s: FinalCapital = %s, want 1000000", cfg.Name, res.FinalCapital)
		}
		for i, d := range res.Days {
			if !d.PortfolioValue.Equal(decimal.NewFromInt(1_000_000)) {
				t.Fatalf("%s: day %d PortfolioValue = %s, want 1000000", cfg.Name, i, d.PortfolioValue)
			}
		}
	}
}

func randomWalk(seed int64, n int) []float64 {
	r := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	c := 50.0
	for i := range closes {
		c *= 1 + (r.Float64()-0.5)*0.06
		closes[i] = math.Round(c*100) / 100
	}
	return closes
}

func TestSimulateInvariantsRandomWalk(t *testing.T) {
	windows := [4]int{3, 5, 8, 13}
	for _, seed := range []int64{1, 7, 42} {
		s := mustAugment(t, barsFromCloses(randomWalk(seed, 400)...), windows[:]...)
		res := mustSimulate(t, s, 1_000_000, tieredConfig(100, windows))

		if len(res.Days) != 400 {
			t.Fatalf("seed %d: %d days, want 400", seed, len(res.Days))
		}
		if len(res.Trades) == 0 {
			t.Errorf("seed %d: no trades on a 400-day random walk", seed)
		}
		checkInvariants(t, res, 100)

		last := res.Days[len(res.Days)-1]
		if last.SharesHeld > 0 {
			liq := res.Trades[len(res.Trades)-1]
			if liq.Action != domain.ActionFinalLiquidation {
				t.Errorf("seed %d: last trade %q, want Final Liquidation", seed, liq.Action)
			}
			if liq.Shares != last.SharesHeld {
				t.Errorf("seed %d: liquidated %d shares, want %d", seed, liq.Shares, last.SharesHeld)
			}
			if !liq.Price.Equal(last.Close) {
				t.Errorf("seed %d: liquidation price %s, want last close %s", seed, liq.Price, last.Close)
			}
			want := last.Cash.Add(liq.Value)
			if !res.FinalCapital.Equal(want) {
				t.Errorf("seed %d: FinalCapital = %s, want %s", seed, res.FinalCapital, want)
			}
		} else if !res.FinalCapital.Equal(last.Cash) {
			t.Errorf("seed %d: FinalCapital = %s, want last cash %s", seed, res.FinalCapital, last.Cash)
		}
	}
}

func TestSimulateDeterministic(t *testing.T) {
	windows := [4]int{3, 5, 8, 13}
	s := mustAugment(t, barsFromCloses(randomWalk(99, 250)...), windows[:]...)
	cfg := tieredConfig(100, windows)

	a, err := json.Marshal(mustSimulate(t, s, 500_000, cfg))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := json.Marshal(mustSimulate(t, s, 500_000, cfg))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two runs over identical inputs produced different results")
	}
}

func TestSimulateFirstMatchStopsChain(t *testing.T) {
	closes := []float64{100, 99, 100, 100, 100, 100}
	ma := map[int][]float64{
		5:  {100, 100, 100, 101, 99, 99},
		20: {100, 100, 99, 99, 101, 101},
	}
	s, err := indicator.NewSeries(barsFromCloses(closes...), ma)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	cfg := Config{Name: "chain", LotSize: 1000, Rules: []Rule{ReduceHalf(20), AddTier(0.05, 5)}}
	res := mustSimulate(t, s, 2_000_000, cfg)

	// Day 2 buys one lot. On day 4 both the MA20 breakdown and the MA5
	// cross-up fire; the breakdown matches first and half a lot rounds to
	// zero, so nothing trades that day.
	if len(res.Trades) != 2 {
		t.Fatalf("got %d trades, want 2: %+v", len(res.Trades), res.Trades)
	}
	if res.Trades[0].Shares != 1000 || !res.Trades[0].Date.Equal(day0.AddDate(0, 0, 2)) {
		t.Errorf("first trade = %+v, want 1000 shares on day 2", res.Trades[0])
	}
	if res.Days[4].SharesHeld != 1000 || !res.Days[4].Cash.Equal(decimal.NewFromInt(1_900_000)) {
		t.Errorf("day 4 = %d shares, %s cash; want 1000 and 1900000", res.Days[4].SharesHeld, res.Days[4].Cash)
	}
	if res.Trades[1].Action != domain.ActionFinalLiquidation {
		t.Errorf("second trade = %q, want Final Liquidation", res.Trades[1].Action)
	}
	checkInvariants(t, res, 1000)
}

func TestSimulateRejectsUnaffordableBuy(t *testing.T) {
	closes := []float64{100, 98, 99, 97, 98, 98}
	ma := map[int][]float64{5: {100, 100, 99, 98, 98, 98}}
	s, err := indicator.NewSeries(barsFromCloses(closes...), ma)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	cfg := Config{Name: "all-in", LotSize: 1000, Rules: []Rule{AddTier(1.0, 5)}}
	res := mustSimulate(t, s, 1_000_000, cfg)

	// Day 2: 10 lots at 99 leaves 10,000 in cash. Day 4 crosses up again but
	// 100% of the portfolio cannot be paid from 10,000.
	if len(res.Trades) != 2 {
		t.Fatalf("got %d trades, want buy + liquidation: %+v", len(res.Trades), res.Trades)
	}
	if res.Trades[0].Shares != 10000 || !res.Trades[0].CapitalAfter.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("buy = %+v, want 10000 shares leaving 10000", res.Trades[0])
	}
	if !res.Days[4].Cash.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("day 4 cash = %s, want 10000 (rejected buy)", res.Days[4].Cash)
	}
	checkInvariants(t, res, 1000)
}

func TestSimulateWarmupDays(t *testing.T) {
	s := mustAugment(t, barsFromCloses(10, 9, 8, 9, 11, 12), 2, 3)
	res := mustSimulate(t, s, 10000, crossoverConfig(1000, 2, 3))
	for i := 0; i < res.StartIndex; i++ {
		d := res.Days[i]
		if d.SharesHeld != 0 || !d.Cash.Equal(decimal.NewFromInt(10000)) || !d.PortfolioValue.Equal(decimal.NewFromInt(10000)) {
			t.Errorf("warmup day %d = %+v, want all cash", i, d)
		}
	}
}

func TestSimulateErrors(t *testing.T) {
	cfg := crossoverConfig(1000, 2, 3)
	capital := decimal.NewFromInt(10000)

	one := mustAugment(t, barsFromCloses(10), 2, 3)
	if _, err := Simulate(one, capital, cfg); !errors.Is(err, ErrConfiguration) {
		t.Errorf("single bar: err = %v, want ErrConfiguration", err)
	}
	if _, err := Simulate(nil, capital, cfg); !errors.Is(err, ErrConfiguration) {
		t.Errorf("nil series: err = %v, want ErrConfiguration", err)
	}

	short := mustAugment(t, barsFromCloses(10, 9, 8), 2, 3)
	if _, err := Simulate(short, capital, cfg); !errors.Is(err, ErrConfiguration) {
		t.Errorf("one simulated day: err = %v, want ErrConfiguration", err)
	}

	noMA3 := mustAugment(t, barsFromCloses(10, 9, 8, 9, 11, 12), 2)
	if _, err := Simulate(noMA3, capital, cfg); !errors.Is(err, ErrConfiguration) {
		t.Errorf("missing window: err = %v, want ErrConfiguration", err)
	}

	gap, err := indicator.NewSeries(barsFromCloses(10, 9, 8, 9, 11, 12), map[int][]float64{
		2: {math.NaN(), 9.5, 8.5, math.NaN(), 10, 11.5},
		3: {math.NaN(), math.NaN(), 9, 8.6, 9.3, 10.6},
	})
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	if _, err := Simulate(gap, capital, cfg); !errors.Is(err, ErrConfiguration) {
		t.Errorf("MA gap mid-run: err = %v, want ErrConfiguration", err)
	}

	ok := mustAugment(t, barsFromCloses(10, 9, 8, 9, 11, 12), 2, 3)
	if _, err := Simulate(ok, decimal.Zero, cfg); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero capital: err = %v, want ErrInvalidInput", err)
	}
	if _, err := Simulate(ok, decimal.NewFromInt(-5), cfg); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative capital: err = %v, want ErrInvalidInput", err)
	}
	if _, err := Simulate(ok, capital, crossoverConfig(0, 2, 3)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero lot: err = %v, want ErrInvalidInput", err)
	}

	zero := mustAugment(t, barsFromCloses(10, 9, 8, 0, 11, 12), 2, 3)
	if _, err := Simulate(zero, capital, cfg); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero close: err = %v, want ErrInvalidInput", err)
	}
}

func TestSimulateContextCancelled(t *testing.T) {
	s := mustAugment(t, barsFromCloses(10, 9, 8, 9, 11, 12), 2, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SimulateContext(ctx, s, decimal.NewFromInt(10000), crossoverConfig(1, 2, 3))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
