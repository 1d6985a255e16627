package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"mabacktest/internal/report"
	"mabacktest/pkg/mabacktest"
)

const version = "0.1.0"

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bt-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version                       Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  health                        Query the server's gRPC health status\n")
		fmt.Fprintf(os.Stderr, "  strategies                    List available strategies\n")
		fmt.Fprintf(os.Stderr, "  run <symbol> [strategy] [lookback]  Run a backtest on the server\n")
		fmt.Fprintf(os.Stderr, "  runs [symbol]                 List saved runs\n")
		fmt.Fprintf(os.Stderr, "  show <id>                     Show a saved run\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  MABT_SERVER       HTTP base URL (default http://127.0.0.1:8080)\n")
		fmt.Fprintf(os.Stderr, "  MABT_GRPC_ADDR    gRPC address (default 127.0.0.1:9090)\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	client := mabacktest.NewClient(env("MABT_SERVER", "http://127.0.0.1:8080"))
	ctx := context.Background()
	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("bt-cli %s\n", version)

	case "health":
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		status, herr := mabacktest.Health(hctx, env("MABT_GRPC_ADDR", "127.0.0.1:9090"))
		err = herr
		if err == nil {
			fmt.Printf("status: %s\n", status)
		}

	case "strategies":
		var infos []mabacktest.StrategyInfo
		infos, err = client.Strategies(ctx)
		for _, s := range infos {
			names := make([]string, len(s.Rules))
			for i, r := range s.Rules {
				names[i] = r.Label
			}
			fmt.Printf("%-12s lot=%-6d windows=%v rules=%s\n", s.Name, s.LotSize, s.Windows, strings.Join(names, ", "))
		}

	case "run":
		if len(args) < 1 {
			flag.Usage()
			os.Exit(1)
		}
		req := mabacktest.BacktestRequest{Symbol: args[0]}
		if len(args) > 1 {
			req.Strategy = args[1]
		}
		if len(args) > 2 {
			req.Lookback = args[2]
		}
		var resp *mabacktest.BacktestResponse
		resp, err = client.RunBacktest(ctx, req)
		if err == nil {
			err = report.Write(os.Stdout, toDomain(resp.Run))
			if resp.Saved {
				fmt.Printf("\nsaved run %d\n", resp.Run.ID)
			}
		}

	case "runs":
		symbol := ""
		if len(args) > 0 {
			symbol = args[0]
		}
		runs, lerr := client.ListRuns(ctx, symbol, "", 0)
		err = lerr
		for _, r := range runs {
			fmt.Printf("%5d  %-8s %-12s %s..%s  final=%s  return=%+.2f%%  b&h=%+.2f%%\n",
				r.ID, r.Symbol, r.Strategy,
				r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"),
				r.FinalCapital.StringFixed(2), r.ReturnPct, r.BenchmarkPct)
		}

	case "show":
		if len(args) < 1 {
			flag.Usage()
			os.Exit(1)
		}
		id, perr := strconv.ParseInt(args[0], 10, 64)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "invalid run id %q\n", args[0])
			os.Exit(1)
		}
		run, gerr := client.GetRun(ctx, id, false)
		err = gerr
		if err == nil {
			err = report.Write(os.Stdout, toDomain(run))
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
