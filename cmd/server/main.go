package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/trace-server/internal/connection"
	"github.com/smukkama/trace-server/internal/queue"
	"github.com/smukkama/trace-server/internal/server"
	"github.com/smukkama/trace-server/internal/source"
	"github.com/smukkama/trace-server/internal/timer"
	"github.com/smukkama/trace-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Trace Ingest Server...")

	if err := queue.CreateTopic(
		cfg.Kafka.Brokers,
		cfg.Kafka.TopicFixes,
		cfg.Kafka.NumPartitions,
		1, // replication factor
	); err != nil {
		fmt.Printf("Note: Topic creation failed (may already exist): %v\n", err)
	}

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicFixes)
	defer producer.Close()
	fmt.Printf("Kafka producer initialized (topic=%s)\n", cfg.Kafka.TopicFixes)

	policy := source.Policy{
		MinInterval: cfg.Sampler.MinInterval,
		MinDistance: cfg.Sampler.MinDistance,
	}
	connManager := connection.NewManager(cfg.TCPServer.MaxConnections, policy)
	fmt.Printf("Connection manager initialized (update policy: %s / %.0fm)\n", policy.MinInterval, policy.MinDistance)

	scheduler := timer.NewScheduler(4)
	scheduler.Start()
	defer scheduler.Stop()
	fmt.Println("Scheduler started")

	tcpServer := server.NewTCPServer(&cfg.TCPServer, connManager, scheduler, producer)
	tcpServer.Partitions = cfg.Kafka.NumPartitions
	if err := tcpServer.Start(); err != nil {
		log.Fatalf("Failed to start TCP server: %v", err)
	}
	defer tcpServer.Stop()

	// Print statistics periodically
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := connManager.Stats()
			timerStats := scheduler.Stats()
			fmt.Printf("\n--- Server Statistics ---\n")
			fmt.Printf("Active Connections: %d / %d\n", stats.TotalConnections, stats.MaxConnections)
			fmt.Printf("Active Traces: %d (paused: %d)\n", stats.ActiveTraces, stats.PausedTraces)
			fmt.Printf("Scheduled Timers: %d\n", timerStats.ScheduledTasks)
			fmt.Printf("------------------------\n\n")
		}
	}()

	fmt.Println("\n✓ Trace Ingest Server is running")
	fmt.Printf("✓ TCP Server listening on port %d\n", cfg.TCPServer.Port)
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
}
