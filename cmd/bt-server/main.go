package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"mabacktest/internal/api"
	"mabacktest/internal/app"
	"mabacktest/internal/config"
	"mabacktest/internal/httpapi"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	a, err := app.New(cfg, app.Options{RunStore: true})
	if err != nil {
		log.Fatalf("initializing: %v", err)
	}
	defer a.Close()

	handler := httpapi.NewServer(a.Backtester, a.Runs, a.Parquet, cfg, a.Log).Handler()
	srv := api.NewServer(cfg, handler, a.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.Log.Info("starting bt-server", "provider", a.Provider.Name(), "strategies", a.Registry.List())
	if err := srv.ListenAndServe(ctx); err != nil {
		a.Log.Error("server error", "error", err)
		a.Close()
		log.Fatalf("server: %v", err)
	}
}
