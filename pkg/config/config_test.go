package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("SAMPLER_DEDUP_RULE", "")
	t.Setenv("TRACE_TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Sampler.MinInterval != 5*time.Second {
		t.Errorf("Expected 5s min interval, got %v", cfg.Sampler.MinInterval)
	}
	if cfg.Sampler.MinDistance != 10 {
		t.Errorf("Expected 10m min distance, got %v", cfg.Sampler.MinDistance)
	}
	if cfg.Trace.SegmentGap != 30*time.Second {
		t.Errorf("Expected 30s segment gap, got %v", cfg.Trace.SegmentGap)
	}
	if cfg.Sampler.DedupRule != "both-changed" {
		t.Errorf("Expected both-changed dedup rule, got %s", cfg.Sampler.DedupRule)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", "/tmp/trace.sqlite")
	t.Setenv("SOURCE_MIN_DISTANCE_METERS", "25.5")
	t.Setenv("TRACE_SEGMENT_GAP", "45s")
	t.Setenv("TRACE_TIMEZONE", "Europe/Berlin")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.ConnectionString() != "/tmp/trace.sqlite" {
		t.Errorf("Unexpected sqlite DSN: %s", cfg.Database.ConnectionString())
	}
	if cfg.Sampler.MinDistance != 25.5 {
		t.Errorf("Expected 25.5m, got %v", cfg.Sampler.MinDistance)
	}
	if cfg.Trace.SegmentGap != 45*time.Second {
		t.Errorf("Expected 45s, got %v", cfg.Trace.SegmentGap)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Expected 2 brokers, got %v", cfg.Kafka.Brokers)
	}

	loc, err := cfg.Trace.Location()
	if err != nil || loc.String() != "Europe/Berlin" {
		t.Errorf("Unexpected location %v (%v)", loc, err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"DB_DRIVER":          "oracle",
		"SAMPLER_DEDUP_RULE": "nearest",
		"TRACE_TIMEZONE":     "Mars/Olympus_Mons",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s=%s", key, value)
			}
		})
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	d := DatabaseConfig{
		Driver: "pgx", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "traces", SSLMode: "disable",
	}
	if got := d.ConnectionString(); got != "postgres://u:p@db:5432/traces?sslmode=disable" {
		t.Errorf("Unexpected pgx DSN: %s", got)
	}

	d.Driver = "postgres"
	if got := d.ConnectionString(); got != "host=db port=5432 user=u password=p dbname=traces sslmode=disable" {
		t.Errorf("Unexpected postgres DSN: %s", got)
	}
}
