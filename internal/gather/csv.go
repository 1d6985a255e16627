package gather

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mabacktest/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*CSVProvider)(nil)

// CSVProvider reads daily bars from <Dir>/<SYMBOL>.csv files in the common
// exported OHLCV layout: Date,Open,High,Low,Close[,Adj Close],Volume. When an
// "Adj Close" column is present it is used as the close.
type CSVProvider struct {
	Dir    string
	market domain.Market
}

// NewCSVProvider creates a CSVProvider serving market from dir.
func NewCSVProvider(dir string, market domain.Market) *CSVProvider {
	return &CSVProvider{Dir: dir, market: market}
}

// Name returns the provider identifier.
func (p *CSVProvider) Name() string { return "csv" }

// Market returns the market the files belong to.
func (p *CSVProvider) Market() domain.Market { return p.market }

// DailyBars loads the symbol's file and returns the bars inside the range.
// A missing file yields no bars.
func (p *CSVProvider) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	path := filepath.Join(p.Dir, symbol+".csv")
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	bars, err := ParseCSVBars(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	rng := DateRange{Start: start, End: end}
	out := bars[:0]
	for _, b := range bars {
		if rng.Contains(b.Timestamp) {
			out = append(out, b)
		}
	}
	return out, nil
}

// ParseCSVBars decodes OHLCV rows from r. Column order is taken from the
// header, matched case-insensitively. Rows with an empty or "null" close are
// skipped.
func ParseCSVBars(r io.Reader, symbol string) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, need := range []string{"date", "open", "high", "low", "close"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("missing %q column", need)
		}
	}
	closeCol := col["close"]
	if adj, ok := col["adj close"]; ok {
		closeCol = adj
	}

	var bars []domain.Bar
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		field := func(name string) string {
			if i, ok := col[name]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
		if closeCol >= len(row) {
			continue
		}
		rawClose := strings.TrimSpace(row[closeCol])
		if rawClose == "" || strings.EqualFold(rawClose, "null") {
			continue
		}

		ts, err := time.Parse("2006-01-02", field("date"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b := domain.Bar{Symbol: symbol, Timestamp: ts}
		if b.Close, err = strconv.ParseFloat(rawClose, 64); err != nil {
			return nil, fmt.Errorf("line %d close: %w", line, err)
		}
		for _, f := range []struct {
			name string
			dst  *float64
		}{{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}} {
			if *f.dst, err = strconv.ParseFloat(field(f.name), 64); err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, f.name, err)
			}
		}
		if v := field("volume"); v != "" {
			vol, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d volume: %w", line, err)
			}
			b.Volume = int64(vol)
		}
		bars = append(bars, b)
	}
	return Normalize(bars), nil
}
