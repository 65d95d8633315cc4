package main

import (
	"context"
	"log"

	"github.com/gawravmehta/sahaj-os-sub001/internal/app"
	"github.com/gawravmehta/sahaj-os-sub001/internal/config"
	httpinfra "github.com/gawravmehta/sahaj-os-sub001/internal/infra/http"
)

func main() {
	cfg := config.FromEnv()

	a, err := app.Build(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to init: %v", err)
	}

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Submit:      a.Submit,
		OTP:         a.OTP,
		Callbacks:   a.Callbacks,
		Verifier:    a.Verifier,
		Bulk:        a.Bulk,
		Audit:       a.Audit,
		Webhooks:    a.Webhooks,
		Tokens:      a.Tokens,
		Sessions:    a.Sessions,
		RateLimiter: a.RateLimiter,
	})
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
