package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/smukkama/trace-server/internal/cache"
	"github.com/smukkama/trace-server/internal/database"
	"github.com/smukkama/trace-server/internal/queue"
	"github.com/smukkama/trace-server/internal/sampler"
	"github.com/smukkama/trace-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Trace Recorder Service...")
	db, err := database.Connect(cfg.Database.Driver, cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Printf("Connected to database (driver=%s)\n", cfg.Database.Driver)

	if err := db.RunMigrations(filepath.Join(cfg.Database.MigrationsDir, db.Dialect())); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// The dedup lookup reads through Redis when it is reachable
	var store sampler.Store = db
	redisClient, err := cache.ConnectRedis(cfg.Redis)
	if err != nil {
		fmt.Printf("Note: running without latest-record cache: %v\n", err)
	} else if redisClient != nil {
		defer redisClient.Close()
		store = cache.NewLatestStore(db, redisClient, cfg.Redis.LatestTTL)
		fmt.Printf("Latest-record cache enabled (%s)\n", cfg.Redis.Addr)
	}

	// Fixes arrive already ordered per trace by partition, so the recorder
	// calls Process synchronously and needs no sampler workers
	s := sampler.New(store, sampler.Config{
		QueueSize: cfg.Sampler.QueueSize,
		Workers:   cfg.Sampler.Workers,
		DedupRule: sampler.DedupRule(cfg.Sampler.DedupRule),
	})

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicFixes, cfg.Kafka.ConsumerGroupID)
	defer consumer.Close()
	fmt.Println("Kafka consumer created (registering with broker...)")

	recorder := queue.NewRecorder(consumer, db, s, 100, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := recorder.Start(ctx); err != nil {
		log.Fatalf("Failed to start recorder: %v", err)
	}
	fmt.Println("Recorder started")

	// Print stats periodically
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := consumer.Stats()
			rs := recorder.Stats()
			fmt.Printf("Consumer stats: Messages=%d, Bytes=%d, Errors=%d\n",
				stats.Messages, stats.Bytes, stats.Errors)
			fmt.Printf("Recorder stats: Consumed=%d, Recorded=%d, Deduped=%d, Skipped=%d, Failed=%d\n",
				rs.Consumed, rs.Recorded, rs.Deduped, rs.Skipped, rs.Failed)
		}
	}()

	fmt.Println("\n✓ Trace Recorder Service is running")
	fmt.Printf("✓ Consuming %s with dedup rule %s\n", cfg.Kafka.TopicFixes, cfg.Sampler.DedupRule)
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	recorder.Stop()
	fmt.Println("Trace Recorder Service stopped")
}
