package util

import (
	"fmt"
	"strings"
	"time"
)

// Lookbacks lists the accepted lookback period names, shortest first.
var Lookbacks = []string{"1mo", "3mo", "6mo", "1y", "2y", "5y"}

// ParseLookback converts a period name such as "6mo" or "2y" into the start
// of a daily range ending at end. The start is truncated to midnight UTC.
func ParseLookback(period string, end time.Time) (time.Time, error) {
	end = end.UTC()
	var start time.Time
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "1mo":
		start = end.AddDate(0, -1, 0)
	case "3mo":
		start = end.AddDate(0, -3, 0)
	case "6mo":
		start = end.AddDate(0, -6, 0)
	case "1y":
		start = end.AddDate(-1, 0, 0)
	case "2y":
		start = end.AddDate(-2, 0, 0)
	case "5y":
		start = end.AddDate(-5, 0, 0)
	default:
		return time.Time{}, fmt.Errorf("unknown lookback %q (want one of %s)", period, strings.Join(Lookbacks, ", "))
	}
	return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC), nil
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC. An empty string yields
// the zero time.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

// ResolveRange turns optional YYYY-MM-DD bounds and a lookback period into a
// concrete date range. A missing end defaults to now; a missing start is
// derived from lookback counted back from the end.
func ResolveRange(start, end, lookback string, now time.Time) (time.Time, time.Time, error) {
	e, err := ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if e.IsZero() {
		n := now.UTC()
		e = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	}
	s, err := ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if s.IsZero() {
		if s, err = ParseLookback(lookback, e); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if s.After(e) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is after end %s", s.Format("2006-01-02"), e.Format("2006-01-02"))
	}
	return s, e, nil
}
