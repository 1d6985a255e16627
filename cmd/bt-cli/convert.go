package main

import (
	"mabacktest/internal/domain"
	"mabacktest/pkg/mabacktest"
)

// toDomain converts a run received from the server for the report tables.
func toDomain(r *mabacktest.Run) *domain.Run {
	out := &domain.Run{
		ID:             r.ID,
		Symbol:         r.Symbol,
		Strategy:       r.Strategy,
		LotSize:        r.LotSize,
		Start:          r.Start,
		End:            r.End,
		InitialCapital: r.InitialCapital,
		FinalCapital:   r.FinalCapital,
		ReturnPct:      r.ReturnPct,
		BenchmarkPct:   r.BenchmarkPct,
		MaxDrawdownPct: r.MaxDrawdownPct,
		CreatedAt:      r.CreatedAt,
	}
	for _, t := range r.Trades {
		out.Trades = append(out.Trades, domain.TradeRecord{
			Date:         t.Date,
			Action:       t.Action,
			Kind:         domain.TradeKind(t.Kind),
			Price:        t.Price,
			Shares:       t.Shares,
			Value:        t.Value,
			CapitalAfter: t.CapitalAfter,
		})
	}
	for _, d := range r.Days {
		out.Days = append(out.Days, domain.DayState(d))
	}
	return out
}
