package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smukkama/trace-server/internal/location"
)

// RecordStore is the store wrapped by LatestStore
type RecordStore interface {
	InsertRecord(ctx context.Context, rec *location.Record) (int64, error)
	MostRecent(ctx context.Context, traceID string) (*location.Record, error)
	RangeByDay(ctx context.Context, traceID string, day time.Time) ([]location.Record, error)
	TracesBetween(ctx context.Context, from, to time.Time) ([]string, error)
}

// LatestStore keeps the most recently inserted record of each trace in Redis
// so the sampler's dedup lookup does not hit the database on every fix.
// Inserts go to the database first and then refresh the cached entry. Redis
// failures fall back to the database and never fail the call.
type LatestStore struct {
	RecordStore
	redis *redis.Client
	ttl   time.Duration
}

// NewLatestStore wraps store with a Redis cache of the latest record per trace
func NewLatestStore(store RecordStore, redisClient *redis.Client, ttl time.Duration) *LatestStore {
	return &LatestStore{RecordStore: store, redis: redisClient, ttl: ttl}
}

func latestKey(traceID string) string {
	return fmt.Sprintf("trace_latest:%s", traceID)
}

// InsertRecord writes through to the store and then caches the record
func (c *LatestStore) InsertRecord(ctx context.Context, rec *location.Record) (int64, error) {
	id, err := c.RecordStore.InsertRecord(ctx, rec)
	if err != nil {
		return 0, err
	}

	if err := c.set(ctx, rec); err != nil {
		// A stale entry would break dedup, so drop it
		c.redis.Del(ctx, latestKey(rec.TraceID))
		fmt.Printf("Failed to cache latest record for %s: %v\n", rec.TraceID, err)
	}
	return id, nil
}

// MostRecent reads the cached record, loading it from the store on a miss
func (c *LatestStore) MostRecent(ctx context.Context, traceID string) (*location.Record, error) {
	rec, err := c.get(ctx, traceID)
	if err == nil && rec != nil {
		return rec, nil
	}
	if err != nil {
		fmt.Printf("Latest record cache unavailable for %s: %v\n", traceID, err)
	}

	rec, err = c.RecordStore.MostRecent(ctx, traceID)
	if err != nil || rec == nil {
		return rec, err
	}

	if err := c.set(ctx, rec); err != nil {
		fmt.Printf("Failed to cache latest record for %s: %v\n", traceID, err)
	}
	return rec, nil
}

// Invalidate removes the cached entry of a trace
func (c *LatestStore) Invalidate(ctx context.Context, traceID string) error {
	return c.redis.Del(ctx, latestKey(traceID)).Err()
}

func (c *LatestStore) get(ctx context.Context, traceID string) (*location.Record, error) {
	data, err := c.redis.Get(ctx, latestKey(traceID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest record from Redis: %w", err)
	}

	var rec location.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal latest record: %w", err)
	}
	return &rec, nil
}

func (c *LatestStore) set(ctx context.Context, rec *location.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal latest record: %w", err)
	}

	if err := c.redis.Set(ctx, latestKey(rec.TraceID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set latest record in Redis: %w", err)
	}
	return nil
}
