package database

import (
	"context"
	"time"

	"github.com/smukkama/trace-server/internal/location"
)

// Trace represents one tracked entity or recording session
type Trace struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// RecordStore is the ordered record collection consumed by the sampler,
// the segmenter and the aggregators. Both *DB and *MemoryStore satisfy it.
type RecordStore interface {
	InsertRecord(ctx context.Context, rec *location.Record) (int64, error)
	MostRecent(ctx context.Context, traceID string) (*location.Record, error)
	RangeByDay(ctx context.Context, traceID string, day time.Time) ([]location.Record, error)
	TracesBetween(ctx context.Context, from, to time.Time) ([]string, error)
}

// TraceStore keeps trace metadata
type TraceStore interface {
	UpsertTrace(ctx context.Context, trace *Trace) error
	ListTraces(ctx context.Context) ([]Trace, error)
}
