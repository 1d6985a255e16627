package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"mabacktest/internal/domain"
	"mabacktest/internal/indicator"
)

// Result is the outcome of one simulation. Days has one entry per input bar;
// StartIndex is the first bar on which every required average was defined.
type Result struct {
	FinalCapital decimal.Decimal      `json:"final_capital"`
	Trades       []domain.TradeRecord `json:"trades"`
	Days         []domain.DayState    `json:"days"`
	StartIndex   int                  `json:"start_index"`
}

// Simulate replays the series through the strategy starting from
// initialCapital in cash. It performs no I/O and always returns the same
// result for the same inputs.
func Simulate(series *indicator.Series, initialCapital decimal.Decimal, cfg Config) (*Result, error) {
	return SimulateContext(context.Background(), series, initialCapital, cfg)
}

// SimulateContext is Simulate with cancellation checked once per simulated
// day.
func SimulateContext(ctx context.Context, series *indicator.Series, initialCapital decimal.Decimal, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !initialCapital.IsPositive() {
		return nil, fmt.Errorf("%w: initial capital must be positive, got %s", ErrInvalidInput, initialCapital)
	}
	if series == nil || series.Len() < 2 {
		n := 0
		if series != nil {
			n = series.Len()
		}
		return nil, fmt.Errorf("%w: need at least 2 bars, got %d", ErrConfiguration, n)
	}

	windows := cfg.RequiredWindows()
	for _, w := range windows {
		if !series.HasWindow(w) {
			return nil, fmt.Errorf("%w: series has no MA%d", ErrConfiguration, w)
		}
	}
	start := series.FirstDefined(windows)
	if start < 0 || series.Len()-start < 2 {
		return nil, fmt.Errorf("%w: fewer than 2 bars with %v defined", ErrConfiguration, windows)
	}
	for i := start; i < series.Len(); i++ {
		for _, w := range windows {
			if _, ok := series.MA(w, i); !ok {
				return nil, fmt.Errorf("%w: MA%d missing on %s", ErrConfiguration, w, dateOf(series, i))
			}
		}
		if series.Close(i) <= 0 {
			return nil, fmt.Errorf("%w: non-positive close on %s", ErrInvalidInput, dateOf(series, i))
		}
	}

	rules := compile(cfg.Rules, windows)
	lot := decimal.NewFromInt(cfg.LotSize)
	pf := &portfolio{cash: initialCapital, lotSize: cfg.LotSize, lot: lot}

	n := series.Len()
	days := make([]domain.DayState, n)
	var trades []domain.TradeRecord

	for i := 0; i < start; i++ {
		days[i] = pf.state(series.Bar(i), decimal.NewFromFloat(series.Close(i)))
	}

	prev := snapshotAt(series, start, windows)
	days[start] = pf.state(series.Bar(start), decimal.NewFromFloat(series.Close(start)))

	for i := start + 1; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("simulating %s: %w", dateOf(series, i), err)
		}
		pf.day = i
		bar := series.Bar(i)
		price := decimal.NewFromFloat(bar.Close)
		cur := snapshotAt(series, i, windows)

		for _, r := range rules {
			if !pf.allows(r.Guard) || !r.fired(prev, cur) {
				continue
			}
			if rec, ok := pf.execute(r, bar.Timestamp, price); ok {
				trades = append(trades, rec)
			}
			break
		}

		days[i] = pf.state(bar, price)
		prev = cur
	}

	if pf.shares > 0 {
		last := series.Bar(n - 1)
		trades = append(trades, pf.liquidate(last.Timestamp, decimal.NewFromFloat(last.Close)))
	}

	return &Result{
		FinalCapital: pf.cash,
		Trades:       trades,
		Days:         days,
		StartIndex:   start,
	}, nil
}

func dateOf(s *indicator.Series, i int) string {
	return s.Bar(i).Timestamp.Format("2006-01-02")
}

// ---------------------------------------------------------------------------
// One-day lookback
// ---------------------------------------------------------------------------

// snapshot holds one day's close and required averages, in the order of the
// windows slice it was built from.
type snapshot struct {
	close float64
	avgs  []float64
}

func snapshotAt(s *indicator.Series, i int, windows []int) snapshot {
	snap := snapshot{close: s.Close(i), avgs: make([]float64, len(windows))}
	for k, w := range windows {
		snap.avgs[k], _ = s.MA(w, i)
	}
	return snap
}

// value returns the close for idx < 0, otherwise the idx-th average.
func (s snapshot) value(idx int) float64 {
	if idx < 0 {
		return s.close
	}
	return s.avgs[idx]
}

type compiledRule struct {
	Rule
	fast, slow int
	fraction   decimal.Decimal
}

func compile(rules []Rule, windows []int) []compiledRule {
	index := func(ref Ref) int {
		if ref == CloseRef {
			return -1
		}
		for k, w := range windows {
			if w == ref.Window() {
				return k
			}
		}
		return -1
	}
	out := make([]compiledRule, len(rules))
	for i, r := range rules {
		out[i] = compiledRule{
			Rule:     r,
			fast:     index(r.Trigger.Fast),
			slow:     index(r.Trigger.Slow),
			fraction: decimal.NewFromFloat(r.Sizing.Fraction),
		}
	}
	return out
}

func (r compiledRule) fired(prev, cur snapshot) bool {
	return r.Trigger.Fired(prev.value(r.fast), prev.value(r.slow), cur.value(r.fast), cur.value(r.slow))
}

// ---------------------------------------------------------------------------
// Portfolio state
// ---------------------------------------------------------------------------

// portfolio is the single mutable state of a run.
type portfolio struct {
	cash    decimal.Decimal
	shares  int64
	day     int
	lotSize int64
	lot     decimal.Decimal
}

func (p *portfolio) allows(g Guard) bool {
	switch g {
	case GuardHolding:
		return p.shares > 0
	case GuardCash:
		return p.cash.IsPositive()
	case GuardFlat:
		return p.shares == 0
	}
	return false
}

func (p *portfolio) value(price decimal.Decimal) decimal.Decimal {
	return p.cash.Add(price.Mul(decimal.NewFromInt(p.shares)))
}

func (p *portfolio) state(bar domain.Bar, price decimal.Decimal) domain.DayState {
	return domain.DayState{
		Date:           bar.Timestamp,
		Close:          price,
		PortfolioValue: p.value(price),
		SharesHeld:     p.shares,
		Cash:           p.cash,
	}
}

// lotsFor returns the whole-lot share count amount buys at price.
func (p *portfolio) lotsFor(amount, price decimal.Decimal) int64 {
	return amount.Div(price.Mul(p.lot)).Floor().IntPart() * p.lotSize
}

// quantity sizes r at price; zero means the trade is skipped.
func (p *portfolio) quantity(r compiledRule, price decimal.Decimal) int64 {
	switch r.Sizing.Kind {
	case SizeAllShares:
		return p.shares
	case SizeHoldingsFraction:
		return decimal.NewFromInt(p.shares).Mul(r.fraction).Div(p.lot).Floor().IntPart() * p.lotSize
	case SizePortfolioFraction:
		return p.lotsFor(p.value(price).Mul(r.fraction), price)
	case SizeAllCash:
		return p.lotsFor(p.cash, price)
	}
	return 0
}

func (p *portfolio) execute(r compiledRule, date time.Time, price decimal.Decimal) (domain.TradeRecord, bool) {
	qty := p.quantity(r, price)
	if qty <= 0 {
		return domain.TradeRecord{}, false
	}
	value := price.Mul(decimal.NewFromInt(qty))

	switch r.Kind {
	case domain.TradeKindBuy:
		if p.cash.LessThan(value) {
			return domain.TradeRecord{}, false
		}
		p.cash = p.cash.Sub(value)
		p.shares += qty
	case domain.TradeKindSell:
		if qty > p.shares {
			return domain.TradeRecord{}, false
		}
		p.cash = p.cash.Add(value)
		p.shares -= qty
	default:
		return domain.TradeRecord{}, false
	}

	return domain.TradeRecord{
		Date:         date,
		Action:       r.Label,
		Kind:         r.Kind,
		Price:        price,
		Shares:       qty,
		Value:        value,
		CapitalAfter: p.cash,
	}, true
}

// liquidate sells every share currently held.
func (p *portfolio) liquidate(date time.Time, price decimal.Decimal) domain.TradeRecord {
	qty := p.shares
	value := price.Mul(decimal.NewFromInt(qty))
	p.cash = p.cash.Add(value)
	p.shares = 0
	return domain.TradeRecord{
		Date:         date,
		Action:       domain.ActionFinalLiquidation,
		Kind:         domain.TradeKindLiquidation,
		Price:        price,
		Shares:       qty,
		Value:        value,
		CapitalAfter: p.cash,
	}
}
