package main

import (
	"context"
	"log"
	"time"

	"vorion/internal/config"
	"vorion/internal/infra/db"
	httpinfra "vorion/internal/infra/http"
)

func main() {
	cfg := config.FromEnv()

	var store *db.Store
	if cfg.PostgresDSN != "" {
		opened, err := db.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		if err := opened.AutoMigrate(); err != nil {
			log.Fatalf("failed to migrate schema: %v", err)
		}
		store = opened
	} else {
		log.Printf("POSTGRES_DSN not set, using in-memory store")
	}

	srv := httpinfra.NewServer(cfg, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if agg := srv.Aggregator(); agg != nil {
		go agg.RunTriggerLoop(ctx, time.Minute)
		go agg.RunAnchorSweep(ctx, cfg.AnchorSweepInterval(), 16)
	}

	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
