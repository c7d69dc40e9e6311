package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/seantiz/nester/internal/api"
	"github.com/seantiz/nester/internal/config"
	"github.com/seantiz/nester/internal/engine"
	"github.com/seantiz/nester/internal/pipeline"
	"github.com/seantiz/nester/internal/pipeline/strip"
	"github.com/seantiz/nester/internal/store"
	"github.com/seantiz/nester/internal/workpool"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	defaults, err := cfg.HarnessDefaults()
	if err != nil {
		log.Fatalf("failed to load run defaults: %v", err)
	}

	pool := workpool.New()
	workers := pool.Bootstrap(cfg.Workers)

	logger.Info("nester: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"workers", workers,
		"verbosity", cfg.Verbosity,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := pipeline.NewRegistry()
	strip.Register(reg, pool)

	eng, err := engine.NewEngine(db, reg, logger, engine.Options{
		Defaults:  defaults,
		Verbosity: cfg.Verbosity,
		Instant:   cfg.InstantLogs,
		Pool:      pool,
	})
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	srv := api.NewServer(cfg.ListenAddr, db, reg, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
