package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mabacktest/internal/config"
	"mabacktest/internal/domain"
	"mabacktest/internal/gather"
	"mabacktest/internal/gather/us"
	"mabacktest/internal/strategy"
	"mabacktest/internal/strategy/builtins"
)

const aaplCSV = `Date,Open,High,Low,Close,Volume
2024-01-01,10,10,10,10,100
2024-01-02,9,9,9,9,100
2024-01-03,8,8,8,8,100
2024-01-04,9,9,9,9,100
2024-01-05,11,11,11,11,100
2024-01-06,12,12,12,12,100
2024-01-07,11,11,11,11,100
2024-01-08,9,9,9,9,100
2024-01-09,8,8,8,8,100
`

func csvConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	csvDir := filepath.Join(dir, "csv")
	if err := os.MkdirAll(csvDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(csvDir, "AAPL.csv"), []byte(aaplCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Storage.SQLitePath = filepath.Join(dir, "data", "runs.db")
	cfg.Data.Source = "csv"
	cfg.Data.CSVDir = csvDir
	cfg.Defaults()
	cfg.Backtest.InitialCapital = 10000
	cfg.Backtest.LotSize = 1
	return cfg
}

func TestNewRunsAndPersists(t *testing.T) {
	cfg := csvConfig(t)
	var logs bytes.Buffer
	a, err := New(cfg, Options{RunStore: true, LogWriter: &logs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	a.Registry.Register(strategy.Config{Name: "fast-cross", LotSize: 1, Rules: []strategy.Rule{
		strategy.DeathCross(2, 3), strategy.GoldenCross(2, 3),
	}})

	req, err := a.Request("aapl", "fast-cross", "2024-01-01", "2024-01-09", "")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	run, err := a.Backtester.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := run.FinalCapital.String(); got != "8182" {
		t.Errorf("final capital = %s, want 8182", got)
	}

	path, err := a.Persist(context.Background(), run)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if run.ID == 0 {
		t.Error("run ID not assigned")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("curve file: %v", err)
	}
	got, err := a.Runs.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Symbol != "AAPL" || len(got.Trades) != len(run.Trades) {
		t.Errorf("stored run = %s with %d trades, want AAPL with %d", got.Symbol, len(got.Trades), len(run.Trades))
	}
}

func TestRequestDefaults(t *testing.T) {
	cfg := csvConfig(t)
	a, err := New(cfg, Options{LogWriter: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	a.now = func() time.Time { return time.Date(2024, 6, 15, 18, 0, 0, 0, time.UTC) }

	req, err := a.Request("MSFT", "", "", "", "3mo")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.Strategy != builtins.TieredName {
		t.Errorf("strategy = %q, want %q", req.Strategy, builtins.TieredName)
	}
	wantEnd := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	wantStart := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !req.End.Equal(wantEnd) || !req.Start.Equal(wantStart) {
		t.Errorf("range = %s..%s, want %s..%s", req.Start, req.End, wantStart, wantEnd)
	}
	if req.InitialCapital.String() != "10000" || req.LotSize != 1 {
		t.Errorf("capital/lot = %s/%d, want 10000/1", req.InitialCapital, req.LotSize)
	}

	if _, err := a.Request("MSFT", "", "2024-05-01", "2024-04-01", ""); !errors.Is(err, strategy.ErrInvalidInput) {
		t.Errorf("start after end error = %v, want ErrInvalidInput", err)
	}
}

func TestNewProvider(t *testing.T) {
	cfg := csvConfig(t)
	p, err := NewProvider(cfg, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if _, ok := p.(*gather.CSVProvider); !ok {
		t.Errorf("provider = %T, want *gather.CSVProvider", p)
	}

	cfg.Data.Cache = true
	a, err := New(cfg, Options{LogWriter: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if got := a.Provider.Name(); got != "cached-csv" {
		t.Errorf("cached provider name = %q, want cached-csv", got)
	}

	cfg.Data.Cache = false
	cfg.Data.Source = "alpaca"
	cfg.Alpaca.APIKey, cfg.Alpaca.APISecret = "key", "secret"
	p, err = NewProvider(cfg, nil)
	if err != nil {
		t.Fatalf("NewProvider alpaca: %v", err)
	}
	if _, ok := p.(*us.AlpacaProvider); !ok {
		t.Errorf("provider = %T, want *us.AlpacaProvider", p)
	}
}

func TestNewProviderMarketCache(t *testing.T) {
	cfg := csvConfig(t)
	cfg.Data.Market = "tw"
	cfg.Data.Cache = true
	if err := os.WriteFile(filepath.Join(cfg.Data.CSVDir, "2330.TW.csv"), []byte(aaplCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := New(cfg, Options{LogWriter: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if got := a.Provider.Market(); got != domain.MarketTW {
		t.Fatalf("provider market = %q, want tw", got)
	}

	bars, err := a.Provider.DailyBars(context.Background(), "2330.TW", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC))
	if err != nil || len(bars) != 9 {
		t.Fatalf("DailyBars = %d bars, %v; want 9", len(bars), err)
	}

	ctx := context.Background()
	if syms, _ := a.Parquet.ListSymbols(ctx, domain.MarketUS); len(syms) != 0 {
		t.Errorf("us cache symbols = %v, want none", syms)
	}
	syms, err := a.Parquet.ListSymbols(ctx, domain.MarketTW)
	if err != nil || len(syms) != 1 || syms[0] != "2330.TW" {
		t.Errorf("tw cache symbols = %v (%v), want [2330.TW]", syms, err)
	}
}

func TestNewProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown source", func(c *config.Config) { c.Data.Source = "ftp" }},
		{"csv without dir", func(c *config.Config) { c.Data.CSVDir = "" }},
		{"unknown market", func(c *config.Config) { c.Data.Market = "mars" }},
		{"alpaca outside us", func(c *config.Config) {
			c.Data.Source = "alpaca"
			c.Data.Market = "tw"
			c.Alpaca.APIKey, c.Alpaca.APISecret = "key", "secret"
		}},
		{"alpaca without keys", func(c *config.Config) {
			c.Data.Source = "alpaca"
			c.Alpaca.APIKey, c.Alpaca.APISecret = "", ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := csvConfig(t)
			tt.mutate(cfg)
			if _, err := NewProvider(cfg, nil); !errors.Is(err, strategy.ErrConfiguration) {
				t.Errorf("error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(config.Backtest{LotSize: 100, Windows: []int{60, 5, 20, 10}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	tiered, ok := reg.Get(builtins.TieredName)
	if !ok {
		t.Fatal("tiered strategy not registered")
	}
	if got := tiered.RequiredWindows(); len(got) != 4 || got[0] != 5 || got[3] != 60 {
		t.Errorf("windows = %v, want [5 10 20 60]", got)
	}
	if tiered.LotSize != 100 {
		t.Errorf("lot size = %d, want 100", tiered.LotSize)
	}

	reg, err = NewRegistry(config.Backtest{LotSize: 1, Windows: []int{3, 6, 9, 12}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	tiered, _ = reg.Get(builtins.TieredName)
	if got := tiered.RequiredWindows(); got[0] != 3 || got[3] != 12 {
		t.Errorf("custom windows = %v, want [3 6 9 12]", got)
	}

	for _, bad := range []config.Backtest{
		{LotSize: 0},
		{LotSize: 1, Windows: []int{5, 10}},
		{LotSize: 1, Windows: []int{0, 10, 20, 60}},
	} {
		if _, err := NewRegistry(bad); !errors.Is(err, strategy.ErrInvalidInput) {
			t.Errorf("NewRegistry(%+v) error = %v, want ErrInvalidInput", bad, err)
		}
	}
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bt.log")
	var buf bytes.Buffer
	logger, closer, err := NewLogger(config.Logging{Level: "info", Format: "text", File: path}, &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hello", "k", "v")
	logger.Debug("hidden")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for name, out := range map[string]string{"file": string(data), "writer": buf.String()} {
		if !strings.Contains(out, "msg=hello") || strings.Contains(out, "hidden") {
			t.Errorf("%s output = %q, want only the info record", name, out)
		}
	}

	if _, _, err := NewLogger(config.Logging{File: filepath.Join(t.TempDir(), "missing", "x.log")}, &buf); err == nil {
		t.Error("expected error for unwritable log path")
	}
}
