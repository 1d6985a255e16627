package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"mabacktest/internal/domain"
)

// Ref names one side of a crossing comparison: the closing price (CloseRef)
// or a moving average of the given window length.
type Ref int

// CloseRef refers to the bar's closing price.
const CloseRef Ref = 0

// MARef refers to the w-window simple moving average.
func MARef(w int) Ref { return Ref(w) }

// Window returns the moving average window, or 0 for the closing price.
func (r Ref) Window() int { return int(r) }

func (r Ref) String() string {
	if r == CloseRef {
		return "Close"
	}
	return fmt.Sprintf("MA%d", int(r))
}

// TriggerKind selects the crossing condition evaluated between yesterday and
// today.
type TriggerKind string

const (
	// CrossesUp fires when fast was below slow yesterday and is at or above
	// it today.
	CrossesUp TriggerKind = "crosses_up"
	// BreaksBelow fires when fast was strictly above slow yesterday and is
	// strictly below it today.
	BreaksBelow TriggerKind = "breaks_below"
	// FallsBelow fires when fast was at or above slow yesterday and is
	// strictly below it today.
	FallsBelow TriggerKind = "falls_below"
)

// Trigger is a one-day-lag crossing condition between two references.
type Trigger struct {
	Kind TriggerKind `json:"kind" yaml:"kind"`
	Fast Ref         `json:"fast" yaml:"fast"`
	Slow Ref         `json:"slow" yaml:"slow"`
}

// Fired evaluates the trigger given yesterday's and today's (fast, slow)
// values.
func (t Trigger) Fired(prevFast, prevSlow, curFast, curSlow float64) bool {
	switch t.Kind {
	case CrossesUp:
		return prevFast < prevSlow && curFast >= curSlow
	case BreaksBelow:
		return prevFast > prevSlow && curFast < curSlow
	case FallsBelow:
		return prevFast >= prevSlow && curFast < curSlow
	}
	return false
}

// Guard is the position-state precondition a rule needs before its trigger
// is considered.
type Guard string

const (
	GuardHolding Guard = "holding" // shares > 0
	GuardCash    Guard = "cash"    // cash > 0
	GuardFlat    Guard = "flat"    // shares == 0
)

// SizingKind selects how many shares a rule moves.
type SizingKind string

const (
	// SizeAllShares sells the entire position without lot rounding.
	SizeAllShares SizingKind = "all_shares"
	// SizeHoldingsFraction sells Fraction of the held shares, rounded down
	// to whole lots.
	SizeHoldingsFraction SizingKind = "holdings_fraction"
	// SizePortfolioFraction buys with Fraction of the current portfolio
	// value, rounded down to whole lots.
	SizePortfolioFraction SizingKind = "portfolio_fraction"
	// SizeAllCash buys with all available cash, rounded down to whole lots.
	SizeAllCash SizingKind = "all_cash"
)

// Sizing is a rule's position sizing policy.
type Sizing struct {
	Kind     SizingKind `json:"kind" yaml:"kind"`
	Fraction float64    `json:"fraction,omitempty" yaml:"fraction,omitempty"`
}

// Rule is one entry of a strategy's priority list.
type Rule struct {
	Label   string           `json:"label" yaml:"label"`
	Kind    domain.TradeKind `json:"kind" yaml:"kind"`
	Guard   Guard            `json:"guard" yaml:"guard"`
	Trigger Trigger          `json:"trigger" yaml:"trigger"`
	Sizing  Sizing           `json:"sizing" yaml:"sizing"`
}

// ExitAll sells the whole position when the close breaks below the w-window
// average.
func ExitAll(w int) Rule {
	return Rule{
		Label:   "EXIT ALL",
		Kind:    domain.TradeKindSell,
		Guard:   GuardHolding,
		Trigger: Trigger{Kind: BreaksBelow, Fast: CloseRef, Slow: MARef(w)},
		Sizing:  Sizing{Kind: SizeAllShares},
	}
}

// ReduceHalf sells half the position, in whole lots, when the close breaks
// below the w-window average.
func ReduceHalf(w int) Rule {
	return Rule{
		Label:   "SELL 50%",
		Kind:    domain.TradeKindSell,
		Guard:   GuardHolding,
		Trigger: Trigger{Kind: BreaksBelow, Fast: CloseRef, Slow: MARef(w)},
		Sizing:  Sizing{Kind: SizeHoldingsFraction, Fraction: 0.5},
	}
}

// AddTier invests pct of the portfolio value when the close crosses up
// through the w-window average.
func AddTier(pct float64, w int) Rule {
	label := fmt.Sprintf("BUY %s%% (MA%d)", decimal.NewFromFloat(pct).Shift(2).String(), w)
	return Rule{
		Label:   label,
		Kind:    domain.TradeKindBuy,
		Guard:   GuardCash,
		Trigger: Trigger{Kind: CrossesUp, Fast: CloseRef, Slow: MARef(w)},
		Sizing:  Sizing{Kind: SizePortfolioFraction, Fraction: pct},
	}
}

// GoldenCross buys with all cash, while flat, when the short average rises to
// or above the long average.
func GoldenCross(short, long int) Rule {
	return Rule{
		Label:   "GOLDEN CROSS",
		Kind:    domain.TradeKindBuy,
		Guard:   GuardFlat,
		Trigger: Trigger{Kind: CrossesUp, Fast: MARef(short), Slow: MARef(long)},
		Sizing:  Sizing{Kind: SizeAllCash},
	}
}

// DeathCross sells the whole position when the short average falls below the
// long average.
func DeathCross(short, long int) Rule {
	return Rule{
		Label:   "DEATH CROSS",
		Kind:    domain.TradeKindSell,
		Guard:   GuardHolding,
		Trigger: Trigger{Kind: FallsBelow, Fast: MARef(short), Slow: MARef(long)},
		Sizing:  Sizing{Kind: SizeAllShares},
	}
}

func (r Rule) validate() error {
	switch r.Trigger.Kind {
	case CrossesUp, BreaksBelow, FallsBelow:
	default:
		return fmt.Errorf("%w: rule %q: unknown trigger %q", ErrInvalidInput, r.Label, r.Trigger.Kind)
	}
	if r.Trigger.Fast < 0 || r.Trigger.Slow < 0 {
		return fmt.Errorf("%w: rule %q: negative moving average window", ErrInvalidInput, r.Label)
	}
	if r.Trigger.Fast == r.Trigger.Slow {
		return fmt.Errorf("%w: rule %q compares %s with itself", ErrInvalidInput, r.Label, r.Trigger.Fast)
	}
	switch r.Guard {
	case GuardHolding, GuardCash, GuardFlat:
	default:
		return fmt.Errorf("%w: rule %q: unknown guard %q", ErrInvalidInput, r.Label, r.Guard)
	}

	switch r.Sizing.Kind {
	case SizeAllShares, SizeHoldingsFraction:
		if r.Kind != domain.TradeKindSell {
			return fmt.Errorf("%w: rule %q: sizing %s needs a sell rule", ErrInvalidInput, r.Label, r.Sizing.Kind)
		}
	case SizePortfolioFraction, SizeAllCash:
		if r.Kind != domain.TradeKindBuy {
			return fmt.Errorf("%w: rule %q: sizing %s needs a buy rule", ErrInvalidInput, r.Label, r.Sizing.Kind)
		}
	default:
		return fmt.Errorf("%w: rule %q: unknown sizing %q", ErrInvalidInput, r.Label, r.Sizing.Kind)
	}
	if r.Sizing.Kind == SizeHoldingsFraction || r.Sizing.Kind == SizePortfolioFraction {
		if r.Sizing.Fraction <= 0 || r.Sizing.Fraction > 1 {
			return fmt.Errorf("%w: rule %q: fraction %v outside (0, 1]", ErrInvalidInput, r.Label, r.Sizing.Fraction)
		}
	}
	return nil
}
