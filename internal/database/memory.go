package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smukkama/trace-server/internal/location"
)

// MemoryStore is an in-process record and trace store. It keeps each trace's
// records in insertion order and is used for tests and single-process runs.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[string][]location.Record // key: trace id
	traces  map[string]Trace
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]location.Record),
		traces:  make(map[string]Trace),
	}
}

// InsertRecord appends a record and assigns the next id
func (m *MemoryStore) InsertRecord(ctx context.Context, rec *location.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &location.StorageError{Op: "insert record", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	rec.ID = m.nextID
	m.records[rec.TraceID] = append(m.records[rec.TraceID], *rec)
	return rec.ID, nil
}

// MostRecent returns the last inserted record of a trace, or nil
func (m *MemoryStore) MostRecent(ctx context.Context, traceID string) (*location.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &location.StorageError{Op: "most recent", Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.records[traceID]
	if len(recs) == 0 {
		return nil, nil
	}
	last := recs[len(recs)-1]
	return &last, nil
}

// RangeByDay returns a copy of the trace's records captured on day's calendar day
func (m *MemoryStore) RangeByDay(ctx context.Context, traceID string, day time.Time) ([]location.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &location.StorageError{Op: "range", Err: err}
	}
	start, end := location.DayBounds(day)

	m.mu.RLock()
	var out []location.Record
	for _, r := range m.records[traceID] {
		if !r.CapturedAt.Before(start) && r.CapturedAt.Before(end) {
			r.CapturedAt = r.CapturedAt.In(start.Location())
			out = append(out, r)
		}
	}
	m.mu.RUnlock()

	// Stable on id so equal timestamps keep insertion order
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	return out, nil
}

// TracesBetween lists traces with records captured in [from, to)
func (m *MemoryStore) TracesBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &location.StorageError{Op: "traces between", Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, recs := range m.records {
		for _, r := range recs {
			if !r.CapturedAt.Before(from) && r.CapturedAt.Before(to) {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// UpsertTrace stores trace metadata
func (m *MemoryStore) UpsertTrace(ctx context.Context, trace *Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	existing, ok := m.traces[trace.ID]
	if !ok {
		if trace.CreatedAt.IsZero() {
			trace.CreatedAt = now
		}
		existing = *trace
	}
	if trace.Device != "" {
		existing.Device = trace.Device
	}
	existing.LastSeenAt = trace.LastSeenAt
	if existing.LastSeenAt.IsZero() {
		existing.LastSeenAt = now
	}
	m.traces[trace.ID] = existing
	return nil
}

// ListTraces returns all traces, most recently seen first
func (m *MemoryStore) ListTraces(ctx context.Context) ([]Trace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	traces := make([]Trace, 0, len(m.traces))
	for _, t := range m.traces {
		traces = append(traces, t)
	}
	sort.Slice(traces, func(i, j int) bool {
		if traces[i].LastSeenAt.Equal(traces[j].LastSeenAt) {
			return traces[i].ID < traces[j].ID
		}
		return traces[i].LastSeenAt.After(traces[j].LastSeenAt)
	})
	return traces, nil
}
