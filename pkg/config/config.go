package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	TCPServer   TCPServerConfig
	Sampler     SamplerConfig
	Trace       TraceConfig
	Aggregation AggregationConfig
	HTTP        HTTPConfig
}

type DatabaseConfig struct {
	Driver        string // postgres, pgx or sqlite
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	SQLitePath    string
	MigrationsDir string
}

// ConnectionString returns the DSN for the configured driver
func (d DatabaseConfig) ConnectionString() string {
	switch d.Driver {
	case "sqlite":
		return d.SQLitePath
	case "pgx":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
	default:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
	}
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// LatestTTL bounds how long a cached "most recent record" survives without writes
	LatestTTL time.Duration
}

type KafkaConfig struct {
	Brokers         []string
	TopicFixes      string
	TopicSummaries  string
	NumPartitions   int
	ConsumerGroupID string
}

type TCPServerConfig struct {
	Port              int
	MaxConnections    int
	IdentifyTimeout   time.Duration
	InactivityTimeout time.Duration
}

type SamplerConfig struct {
	QueueSize int
	Workers   int
	DedupRule string
	// Update policy handed to position sources: at most one fix per
	// MinInterval or per MinDistance meters of movement, whichever comes first.
	MinInterval time.Duration
	MinDistance float64
}

type TraceConfig struct {
	TimeZone   string
	SegmentGap time.Duration
}

// Location resolves the configured time zone used for calendar days and hour buckets
func (t TraceConfig) Location() (*time.Location, error) {
	if t.TimeZone == "" || strings.EqualFold(t.TimeZone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(t.TimeZone)
}

type AggregationConfig struct {
	DailyTime string
}

type HTTPConfig struct {
	Addr string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Driver:        getEnv("DB_DRIVER", "postgres"),
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "trace_user"),
			Password:      getEnv("DB_PASSWORD", "trace_pass"),
			DBName:        getEnv("DB_NAME", "trace_db"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			SQLitePath:    getEnv("DB_SQLITE_PATH", "trace.sqlite"),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			LatestTTL: getEnvAsDuration("REDIS_LATEST_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:         strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicFixes:      getEnv("KAFKA_TOPIC_FIXES", "trace.fixes.raw"),
			TopicSummaries:  getEnv("KAFKA_TOPIC_SUMMARIES", "trace.daily-summaries"),
			NumPartitions:   getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
			ConsumerGroupID: getEnv("KAFKA_CONSUMER_GROUP", "trace-recorder-group"),
		},
		TCPServer: TCPServerConfig{
			Port:              getEnvAsInt("TCP_PORT", 8080),
			MaxConnections:    getEnvAsInt("TCP_MAX_CONNECTIONS", 10000),
			IdentifyTimeout:   getEnvAsDuration("TCP_IDENTIFY_TIMEOUT", 10*time.Second),
			InactivityTimeout: getEnvAsDuration("TCP_INACTIVITY_TIMEOUT", 2*time.Minute),
		},
		Sampler: SamplerConfig{
			QueueSize:   getEnvAsInt("SAMPLER_QUEUE_SIZE", 1024),
			Workers:     getEnvAsInt("SAMPLER_WORKERS", 4),
			DedupRule:   getEnv("SAMPLER_DEDUP_RULE", "both-changed"),
			MinInterval: getEnvAsDuration("SOURCE_MIN_INTERVAL", 5*time.Second),
			MinDistance: getEnvAsFloat("SOURCE_MIN_DISTANCE_METERS", 10),
		},
		Trace: TraceConfig{
			TimeZone:   getEnv("TRACE_TIMEZONE", "Local"),
			SegmentGap: getEnvAsDuration("TRACE_SEGMENT_GAP", 30*time.Second),
		},
		Aggregation: AggregationConfig{
			DailyTime: getEnv("AGGREGATION_DAILY_TIME", "00:05"),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8090"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "pgx", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (expected postgres, pgx or sqlite)", c.Database.Driver)
	}

	switch c.Sampler.DedupRule {
	case "both-changed", "any-changed":
	default:
		return fmt.Errorf("unsupported SAMPLER_DEDUP_RULE %q (expected both-changed or any-changed)", c.Sampler.DedupRule)
	}

	if c.Sampler.QueueSize <= 0 || c.Sampler.Workers <= 0 {
		return fmt.Errorf("sampler queue size and workers must be positive")
	}
	if c.Trace.SegmentGap <= 0 {
		return fmt.Errorf("TRACE_SEGMENT_GAP must be positive")
	}
	if _, err := c.Trace.Location(); err != nil {
		return fmt.Errorf("invalid TRACE_TIMEZONE: %w", err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
