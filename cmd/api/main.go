package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/smukkama/trace-server/internal/aggregation"
	"github.com/smukkama/trace-server/internal/api"
	"github.com/smukkama/trace-server/internal/cache"
	"github.com/smukkama/trace-server/internal/database"
	"github.com/smukkama/trace-server/internal/sampler"
	"github.com/smukkama/trace-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Trace API...")

	db, err := database.Connect(cfg.Database.Driver, cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Printf("Connected to database (driver=%s)\n", cfg.Database.Driver)

	if err := db.RunMigrations(filepath.Join(cfg.Database.MigrationsDir, db.Dialect())); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	loc, err := cfg.Trace.Location()
	if err != nil {
		log.Fatalf("Failed to load time zone: %v", err)
	}

	var store sampler.Store = db
	redisClient, err := cache.ConnectRedis(cfg.Redis)
	if err != nil {
		fmt.Printf("Note: running without latest-record cache: %v\n", err)
	} else if redisClient != nil {
		defer redisClient.Close()
		store = cache.NewLatestStore(db, redisClient, cfg.Redis.LatestTTL)
		fmt.Printf("Latest-record cache enabled (%s)\n", cfg.Redis.Addr)
	}

	s := sampler.New(store, sampler.Config{
		QueueSize: cfg.Sampler.QueueSize,
		Workers:   cfg.Sampler.Workers,
		DedupRule: sampler.DedupRule(cfg.Sampler.DedupRule),
	})
	s.OnError = func(traceID string, err error) {
		log.Printf("Failed to record fix for %s: %v", traceID, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		log.Fatalf("Failed to start sampler: %v", err)
	}
	defer s.Stop()

	hourly := aggregation.NewHourlyAggregator(db, loc)
	srv := api.NewServer(&api.Service{
		Traces:  db,
		Records: db,
		Fixes:   s,
		Hourly:  hourly,
		Daily:   aggregation.NewDailyAggregator(hourly, db, nil, cfg.Trace.SegmentGap),
		Gap:     cfg.Trace.SegmentGap,
		Stats:   func() interface{} { return s.Stats() },
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.HTTP.Addr)
	}()

	fmt.Println("\n✓ Trace API is running")
	fmt.Printf("✓ HTTP listening on %s (days in %s)\n", cfg.HTTP.Addr, loc)
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down gracefully...")
		if err := srv.Shutdown(); err != nil {
			log.Printf("HTTP shutdown failed: %v", err)
		}
	case err := <-errCh:
		if err != nil {
			log.Printf("HTTP server exited: %v", err)
		}
	}
}
