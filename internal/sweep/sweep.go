// Package sweep runs many independent backtests in parallel.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"mabacktest/internal/domain"
	"mabacktest/internal/strategy"
)

// Runner executes backtest requests.
type Runner interface {
	Run(ctx context.Context, req strategy.Request) (*domain.Run, error)
}

// Outcome is the result of one job. Exactly one of Run and Err is set.
type Outcome struct {
	Request  strategy.Request
	Run      *domain.Run
	Err      error
	Duration time.Duration
}

// Sweep fans requests out over a bounded number of workers.
type Sweep struct {
	runner     Runner
	maxWorkers int
	log        *slog.Logger
}

// New creates a Sweep running at most maxWorkers backtests at once.
func New(runner Runner, maxWorkers int) *Sweep {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Sweep{
		runner:     runner,
		maxWorkers: maxWorkers,
		log:        slog.Default().With("component", "sweep"),
	}
}

// Jobs builds the cross product of symbols and strategy names sharing the
// remaining fields of base.
func Jobs(base strategy.Request, symbols, strategies []string) []strategy.Request {
	jobs := make([]strategy.Request, 0, len(symbols)*len(strategies))
	for _, sym := range symbols {
		for _, name := range strategies {
			req := base
			req.Symbol = sym
			req.Strategy = name
			jobs = append(jobs, req)
		}
	}
	return jobs
}

// Run executes every request and returns outcomes in input order. A failing
// job does not stop the others; only cancellation of ctx aborts the sweep,
// in which case ctx's error is returned with the outcomes gathered so far.
func (s *Sweep) Run(ctx context.Context, reqs []strategy.Request) ([]Outcome, error) {
	outcomes := make([]Outcome, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)

	for i, req := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = Outcome{Request: req, Err: err}
				return err
			}
			start := time.Now()
			run, err := s.runner.Run(gctx, req)
			outcomes[i] = Outcome{Request: req, Run: run, Err: err, Duration: time.Since(start)}
			if err != nil {
				s.log.Warn("backtest failed", "symbol", req.Symbol, "strategy", req.Strategy, "err", err)
				return nil
			}
			s.log.Info("backtest done", "symbol", req.Symbol, "strategy", req.Strategy,
				"returnPct", run.ReturnPct, "elapsed", outcomes[i].Duration.Round(time.Millisecond))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, ctx.Err()
}

// Succeeded returns the runs of the successful outcomes.
func Succeeded(outcomes []Outcome) []*domain.Run {
	var runs []*domain.Run
	for _, o := range outcomes {
		if o.Err == nil && o.Run != nil {
			runs = append(runs, o.Run)
		}
	}
	return runs
}
