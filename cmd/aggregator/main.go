package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/smukkama/trace-server/internal/aggregation"
	"github.com/smukkama/trace-server/internal/database"
	"github.com/smukkama/trace-server/internal/queue"
	"github.com/smukkama/trace-server/internal/timer"
	"github.com/smukkama/trace-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Aggregation Service...")

	db, err := database.Connect(cfg.Database.Driver, cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	loc, err := cfg.Trace.Location()
	if err != nil {
		log.Fatalf("Failed to load time zone: %v", err)
	}

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicSummaries, 1, 1); err != nil {
		fmt.Printf("Note: Topic creation failed (may already exist): %v\n", err)
	}
	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSummaries)
	defer producer.Close()

	scheduler := timer.NewScheduler(2)
	scheduler.Start()
	defer scheduler.Stop()
	fmt.Println("Scheduler started")

	hourlyAgg := aggregation.NewHourlyAggregator(db, loc)
	dailyAgg := aggregation.NewDailyAggregator(hourlyAgg, db, producer, cfg.Trace.SegmentGap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduleDailyAggregation(ctx, scheduler, dailyAgg, cfg.Aggregation.DailyTime)

	fmt.Println("\n✓ Aggregation Service is running")
	fmt.Printf("✓ Daily summaries at %s (%s) to %s\n", cfg.Aggregation.DailyTime, loc, cfg.Kafka.TopicSummaries)
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
}

func scheduleDailyAggregation(ctx context.Context, s *timer.Scheduler, agg *aggregation.DailyAggregator, timeOfDay string) {
	taskID := "daily-aggregation"

	var scheduleNext func()
	scheduleNext = func() {
		nextRun, err := agg.CalculateNextRunTime(timeOfDay)
		if err != nil {
			log.Fatalf("Failed to calculate daily run time: %v", err)
		}
		fmt.Printf("Next daily aggregation scheduled for: %s\n", nextRun.Format("2006-01-02 15:04:05 MST"))

		callback := func() {
			fmt.Println("\n--- Running Daily Aggregation ---")
			if _, err := agg.AggregatePreviousDay(ctx); err != nil {
				log.Printf("Daily aggregation failed: %v\n", err)
			}
			fmt.Println("--- Daily Aggregation Complete ---")

			scheduleNext()
		}

		s.Schedule(taskID, nextRun, callback)
	}

	scheduleNext()
}
