package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mabacktest/internal/app"
	"mabacktest/internal/config"
	"mabacktest/internal/report"
)

func main() {
	symbol := flag.String("symbol", "", "ticker to backtest (required)")
	strategyName := flag.String("strategy", "", "strategy name (default from config)")
	start := flag.String("start", "", "first date, YYYY-MM-DD")
	end := flag.String("end", "", "last date, YYYY-MM-DD (default latest trading day)")
	lookback := flag.String("lookback", "", "period before end when -start is empty: 1mo, 3mo, 6mo, 1y, 2y, 5y")
	save := flag.Bool("save", false, "save the run to the SQLite store")
	curve := flag.Bool("curve", false, "write the equity curve to Parquet")
	flag.Parse()

	if *symbol == "" && flag.NArg() > 0 {
		*symbol = flag.Arg(0)
	}
	if *symbol == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	a, err := app.New(cfg, app.Options{RunStore: *save})
	if err != nil {
		log.Fatalf("initializing: %v", err)
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	req, err := a.Request(*symbol, *strategyName, *start, *end, *lookback)
	if err != nil {
		log.Fatalf("%v", err)
	}

	run, err := a.Backtester.Run(ctx, req)
	if err != nil {
		log.Fatalf("backtest: %v", err)
	}

	if err := report.Write(os.Stdout, run); err != nil {
		log.Fatalf("writing report: %v", err)
	}

	if *save || *curve {
		path, err := a.Persist(ctx, run)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if *save {
			fmt.Printf("\nsaved run %d\n", run.ID)
		}
		fmt.Printf("equity curve: %s\n", path)
	}
}
