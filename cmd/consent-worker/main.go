package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/gawravmehta/sahaj-os-sub001/internal/app"
	"github.com/gawravmehta/sahaj-os-sub001/internal/config"
	"github.com/gawravmehta/sahaj-os-sub001/internal/worker"
)

func main() {
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init: %v", err)
	}

	runner := &worker.Runner{
		Broker:     a.Broker,
		Classifier: a.Classifier,
		Deliverer:  a.Deliverer,
		Promoter:   a.Promoter,
		Expiry:     a.Expiry,
		Bulk:       a.Bulk,
		MaxRetries: cfg.MaxRetries,
		Prefetch:   cfg.Prefetch,
	}
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("worker exited: %v", err)
	}
}
