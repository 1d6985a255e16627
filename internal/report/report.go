// Package report renders backtest results as terminal tables.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"mabacktest/internal/domain"
	"mabacktest/internal/sweep"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1)
	colHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	cellStyle      = lipgloss.NewStyle().Padding(0, 1)
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	buyStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	sellStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	liqStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	borderStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// pct formats a percentage with a sign and two decimals.
func pct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

func signStyle(v float64) lipgloss.Style {
	if v < 0 {
		return lossStyle
	}
	return gainStyle
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...)
}

// Summary renders the headline numbers of a run: capital, return versus
// buy-and-hold, and drawdown.
func Summary(run *domain.Run) string {
	excess := run.ReturnPct - run.BenchmarkPct
	rows := [][]string{
		{"Symbol", run.Symbol},
		{"Strategy", run.Strategy},
		{"Period", run.Start.Format("2006-01-02") + " → " + run.End.Format("2006-01-02")},
		{"Lot size", strconv.FormatInt(run.LotSize, 10)},
		{"Initial capital", run.InitialCapital.StringFixed(2)},
		{"Final capital", run.FinalCapital.StringFixed(2)},
		{"Strategy return", pct(run.ReturnPct)},
		{"Buy & hold", pct(run.BenchmarkPct)},
		{"Excess return", pct(excess)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", run.MaxDrawdownPct)},
		{"Trades", strconv.Itoa(len(run.Trades))},
	}
	t := newTable().Rows(rows...).StyleFunc(func(row, col int) lipgloss.Style {
		if col == 0 {
			return cellStyle.Inherit(dimStyle)
		}
		switch row {
		case 6:
			return cellStyle.Inherit(signStyle(run.ReturnPct))
		case 7:
			return cellStyle.Inherit(signStyle(run.BenchmarkPct))
		case 8:
			return cellStyle.Inherit(signStyle(excess))
		}
		return cellStyle
	})
	return titleStyle.Render(fmt.Sprintf("%s · %s", run.Symbol, run.Strategy)) + "\n" + t.String()
}

// Trades renders the trade log in date order.
func Trades(trades []domain.TradeRecord) string {
	if len(trades) == 0 {
		return dimStyle.Render("no trades")
	}
	rows := make([][]string, len(trades))
	for i, tr := range trades {
		rows[i] = []string{
			tr.Date.Format("2006-01-02"),
			tr.Action,
			tr.Price.StringFixed(2),
			strconv.FormatInt(tr.Shares, 10),
			tr.Value.StringFixed(2),
			tr.CapitalAfter.StringFixed(2),
		}
	}
	t := newTable("Date", "Action", "Price", "Shares", "Value", "Cash after").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cellStyle.Inherit(colHeaderStyle)
			}
			if col != 1 || row < 0 || row >= len(trades) {
				return cellStyle
			}
			switch trades[row].Kind {
			case domain.TradeKindBuy:
				return cellStyle.Inherit(buyStyle)
			case domain.TradeKindSell:
				return cellStyle.Inherit(sellStyle)
			default:
				return cellStyle.Inherit(liqStyle)
			}
		})
	return t.String()
}

// Sweep renders one row per sweep outcome with failures shown inline.
func Sweep(outcomes []sweep.Outcome) string {
	rows := make([][]string, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			rows[i] = []string{o.Request.Symbol, o.Request.Strategy, "-", "-", "-", "-", "error: " + firstLine(o.Err.Error())}
			continue
		}
		r := o.Run
		rows[i] = []string{
			r.Symbol, r.Strategy,
			r.FinalCapital.StringFixed(2),
			pct(r.ReturnPct), pct(r.BenchmarkPct),
			fmt.Sprintf("%.2f%%", r.MaxDrawdownPct),
			strconv.Itoa(len(r.Trades)),
		}
	}
	t := newTable("Symbol", "Strategy", "Final", "Return", "Buy & hold", "Max DD", "Trades").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cellStyle.Inherit(colHeaderStyle)
			}
			if row < 0 || row >= len(outcomes) {
				return cellStyle
			}
			o := outcomes[row]
			if o.Err != nil {
				return cellStyle.Inherit(dimStyle)
			}
			switch col {
			case 3:
				return cellStyle.Inherit(signStyle(o.Run.ReturnPct))
			case 4:
				return cellStyle.Inherit(signStyle(o.Run.BenchmarkPct))
			}
			return cellStyle
		})
	return t.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Write prints the summary followed by the trade log.
func Write(w io.Writer, run *domain.Run) error {
	_, err := fmt.Fprintf(w, "%s\n\n%s\n", Summary(run), Trades(run.Trades))
	return err
}
