package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mabacktest/internal/app"
	"mabacktest/internal/config"
	"mabacktest/internal/gather"
	"mabacktest/internal/report"
	"mabacktest/internal/sweep"
)

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func main() {
	symbolsFlag := flag.String("symbols", "", "comma-separated tickers (default from config)")
	symbolsFile := flag.String("symbols-file", "", "CSV file whose first column lists tickers")
	strategiesFlag := flag.String("strategies", "", "comma-separated strategy names (default from config)")
	start := flag.String("start", "", "first date, YYYY-MM-DD")
	end := flag.String("end", "", "last date, YYYY-MM-DD")
	lookback := flag.String("lookback", "", "period before end when -start is empty")
	workers := flag.Int("workers", 0, "concurrent backtests (default from config)")
	save := flag.Bool("save", false, "save successful runs and their equity curves")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	symbols := splitList(*symbolsFlag)
	if *symbolsFile != "" {
		fromFile, err := gather.LoadCSVSymbols(*symbolsFile)
		if err != nil {
			log.Fatalf("loading symbols: %v", err)
		}
		symbols = append(symbols, fromFile...)
	}
	if len(symbols) == 0 {
		symbols = cfg.Backtest.Symbols
	}
	if len(symbols) == 0 {
		log.Fatal("no symbols: pass -symbols, -symbols-file or set backtest.symbols")
	}

	strategies := splitList(*strategiesFlag)
	if len(strategies) == 0 {
		strategies = cfg.Sweep.Strategies
	}
	if len(strategies) == 0 {
		strategies = []string{cfg.Backtest.Strategy}
	}
	if *workers > 0 {
		cfg.Sweep.MaxWorkers = *workers
	}

	a, err := app.New(cfg, app.Options{RunStore: *save})
	if err != nil {
		log.Fatalf("initializing: %v", err)
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	base, err := a.Request("", strategies[0], *start, *end, *lookback)
	if err != nil {
		log.Fatalf("%v", err)
	}
	jobs := sweep.Jobs(base, symbols, strategies)
	a.Log.Info("starting sweep", "symbols", len(symbols), "strategies", strategies, "jobs", len(jobs),
		"workers", cfg.Sweep.MaxWorkers)

	outcomes, err := sweep.New(a.Backtester, cfg.Sweep.MaxWorkers).Run(ctx, jobs)
	fmt.Println(report.Sweep(outcomes))
	if err != nil {
		log.Fatalf("sweep interrupted: %v", err)
	}

	if *save {
		for _, run := range sweep.Succeeded(outcomes) {
			if _, err := a.Persist(ctx, run); err != nil {
				log.Fatalf("%v", err)
			}
		}
	}

	failed := len(outcomes) - len(sweep.Succeeded(outcomes))
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d backtests failed\n", failed, len(outcomes))
		os.Exit(1)
	}
}
