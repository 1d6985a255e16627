// Package indicator computes the moving averages a strategy reads and pairs
// them with the price series they describe.
package indicator

import (
	"fmt"
	"math"
	"sort"

	"mabacktest/internal/domain"
)

// SMA returns the simple moving average of x over the trailing p points. The
// result is aligned to x; the first p-1 entries are NaN.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	var sum float64
	for i := range x {
		sum += x[i]
		if i >= p {
			sum -= x[i-p]
		}
		if i < p-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(p)
	}
	return out
}

// Series is a daily price series together with its moving averages, keyed by
// window length. A Series is read-only once built.
type Series struct {
	bars []domain.Bar
	mas  map[int][]float64
}

// NewSeries pairs bars with precomputed averages. Each average slice must be
// as long as bars; NaN marks an undefined value.
func NewSeries(bars []domain.Bar, mas map[int][]float64) (*Series, error) {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("bars not strictly increasing at index %d (%s)",
				i, bars[i].Timestamp.Format("2006-01-02"))
		}
	}
	copied := make(map[int][]float64, len(mas))
	for w, vals := range mas {
		if w <= 0 {
			return nil, fmt.Errorf("invalid moving average window %d", w)
		}
		if len(vals) != len(bars) {
			return nil, fmt.Errorf("MA%d has %d values for %d bars", w, len(vals), len(bars))
		}
		copied[w] = append([]float64(nil), vals...)
	}
	return &Series{
		bars: append([]domain.Bar(nil), bars...),
		mas:  copied,
	}, nil
}

// Augment computes SMA(close, w) for every requested window.
func Augment(bars []domain.Bar, windows ...int) (*Series, error) {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	mas := make(map[int][]float64, len(windows))
	for _, w := range windows {
		if w <= 0 {
			return nil, fmt.Errorf("invalid moving average window %d", w)
		}
		if _, ok := mas[w]; ok {
			continue
		}
		mas[w] = SMA(closes, w)
	}
	return NewSeries(bars, mas)
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.bars) }

// Bar returns the i-th bar.
func (s *Series) Bar(i int) domain.Bar { return s.bars[i] }

// Bars returns a copy of the underlying bars.
func (s *Series) Bars() []domain.Bar { return append([]domain.Bar(nil), s.bars...) }

// Close returns the closing price of bar i.
func (s *Series) Close(i int) float64 { return s.bars[i].Close }

// HasWindow reports whether averages for window w were computed.
func (s *Series) HasWindow(w int) bool {
	_, ok := s.mas[w]
	return ok
}

// Windows returns the computed window lengths in ascending order.
func (s *Series) Windows() []int {
	ws := make([]int, 0, len(s.mas))
	for w := range s.mas {
		ws = append(ws, w)
	}
	sort.Ints(ws)
	return ws
}

// MA returns the w-window average at bar i and whether it is defined.
func (s *Series) MA(w, i int) (float64, bool) {
	vals, ok := s.mas[w]
	if !ok || i < 0 || i >= len(vals) || math.IsNaN(vals[i]) {
		return 0, false
	}
	return vals[i], true
}

// FirstDefined returns the first index at which every window in ws has a
// defined average, or -1 if there is none.
func (s *Series) FirstDefined(ws []int) int {
	for i := range s.bars {
		ok := true
		for _, w := range ws {
			if _, defined := s.MA(w, i); !defined {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}
