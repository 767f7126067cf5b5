package sampler

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/smukkama/trace-server/internal/database"
	"github.com/smukkama/trace-server/internal/location"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func fixAt(lat, lon float64, offset time.Duration) location.Fix {
	return location.Fix{Latitude: lat, Longitude: lon, Altitude: 100, CapturedAt: t0.Add(offset)}
}

func stored(t *testing.T, store *database.MemoryStore, traceID string) []location.Record {
	t.Helper()
	records, err := store.RangeByDay(context.Background(), traceID, t0)
	if err != nil {
		t.Fatalf("RangeByDay failed: %v", err)
	}
	return records
}

func TestProcess_ScenarioBothChanged(t *testing.T) {
	store := database.NewMemoryStore()
	s := New(store, Config{DedupRule: DedupBothChanged})
	ctx := context.Background()

	a := fixAt(1.0, 1.0, 0)
	b := fixAt(1.0, 2.0, 5*time.Second)
	c := fixAt(1.0, 2.0, 10*time.Second)

	for i, f := range []location.Fix{a, b, c} {
		if _, err := s.Process(ctx, "trace-1", f); err != nil {
			t.Fatalf("Process %d failed: %v", i, err)
		}
	}

	// B moves along longitude only, so the both-changed rule drops it
	records := stored(t, store, "trace-1")
	if len(records) != 1 || records[0].Longitude != 1.0 {
		t.Fatalf("Expected only A stored, got %+v", records)
	}

	stats := s.Stats()
	if stats.Accepted != 1 || stats.Rejected != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestProcess_ScenarioAnyChanged(t *testing.T) {
	store := database.NewMemoryStore()
	s := New(store, Config{DedupRule: DedupAnyChanged})
	ctx := context.Background()

	s.Process(ctx, "trace-1", fixAt(1.0, 1.0, 0))
	s.Process(ctx, "trace-1", fixAt(1.0, 2.0, 5*time.Second))
	s.Process(ctx, "trace-1", fixAt(1.0, 2.0, 10*time.Second))

	records := stored(t, store, "trace-1")
	if len(records) != 2 {
		t.Fatalf("Expected [A B], got %+v", records)
	}
	if records[0].Longitude != 1.0 || records[1].Longitude != 2.0 {
		t.Errorf("Unexpected stored order: %+v", records)
	}
}

func TestProcess_FirstFixAlwaysAccepted(t *testing.T) {
	store := database.NewMemoryStore()
	s := New(store, Config{})

	inserted, err := s.Process(context.Background(), "trace-1", fixAt(0, 0, 0))
	if err != nil || !inserted {
		t.Fatalf("Expected first fix inserted, got %v (%v)", inserted, err)
	}
}

func TestProcess_ComparesAgainstLastAccepted(t *testing.T) {
	store := database.NewMemoryStore()
	s := New(store, Config{})
	ctx := context.Background()

	s.Process(ctx, "trace-1", fixAt(1, 1, 0))
	s.Process(ctx, "trace-1", fixAt(1, 5, time.Second)) // rejected, same latitude
	inserted, _ := s.Process(ctx, "trace-1", fixAt(2, 5, 2*time.Second))

	if !inserted {
		t.Fatal("Expected fix differing from last accepted record to be inserted")
	}
	if n := len(stored(t, store, "trace-1")); n != 2 {
		t.Fatalf("Expected 2 records, got %d", n)
	}
}

func TestProcess_TracesAreIndependent(t *testing.T) {
	store := database.NewMemoryStore()
	s := New(store, Config{})
	ctx := context.Background()

	s.Process(ctx, "trace-1", fixAt(1, 1, 0))
	inserted, _ := s.Process(ctx, "trace-2", fixAt(1, 1, 0))
	if !inserted {
		t.Fatal("Expected first fix of another trace to be inserted")
	}
}

func TestProcess_MalformedFix(t *testing.T) {
	store := database.NewMemoryStore()
	s := New(store, Config{})

	bad := []location.Fix{
		fixAt(math.NaN(), 1, 0),
		fixAt(1, math.Inf(1), 0),
		fixAt(91, 1, 0),
		fixAt(1, -181, 0),
	}
	for _, f := range bad {
		if _, err := s.Process(context.Background(), "trace-1", f); !errors.Is(err, location.ErrMalformedFix) {
			t.Errorf("Expected ErrMalformedFix for %+v, got %v", f, err)
		}
	}
	if n := len(stored(t, store, "trace-1")); n != 0 {
		t.Fatalf("Expected nothing stored, got %d", n)
	}
}

type brokenStore struct {
	readErr  error
	writeErr error
	last     *location.Record
}

func (b *brokenStore) MostRecent(ctx context.Context, traceID string) (*location.Record, error) {
	return b.last, b.readErr
}

func (b *brokenStore) InsertRecord(ctx context.Context, rec *location.Record) (int64, error) {
	return 0, b.writeErr
}

func TestProcess_StorageErrors(t *testing.T) {
	tests := []struct {
		name  string
		store *brokenStore
	}{
		{"read fails", &brokenStore{readErr: errors.New("connection reset")}},
		{"write fails", &brokenStore{writeErr: errors.New("disk full")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.store, Config{})

			_, err := s.Process(context.Background(), "trace-1", fixAt(1, 1, 0))
			var storageErr *location.StorageError
			if !errors.As(err, &storageErr) {
				t.Fatalf("Expected StorageError, got %v", err)
			}
			if s.Stats().Failed != 1 {
				t.Errorf("Expected failed counter to be 1, got %d", s.Stats().Failed)
			}
		})
	}
}

func TestOnFix_ProcessesInBackground(t *testing.T) {
	store := database.NewMemoryStore()
	s := New(store, Config{QueueSize: 64, Workers: 4})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		f := fixAt(1+float64(i)*0.001, 1+float64(i)*0.001, time.Duration(i)*time.Second)
		if err := s.OnFix("trace-1", f); err != nil {
			t.Fatalf("OnFix failed: %v", err)
		}
	}
	s.Stop()

	records := stored(t, store, "trace-1")
	if len(records) != 10 {
		t.Fatalf("Expected 10 records after drain, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].ID <= records[i-1].ID {
			t.Fatalf("Fixes of one trace were not processed in order")
		}
	}
}

type blockingStore struct {
	*database.MemoryStore
	release chan struct{}
}

func (b *blockingStore) MostRecent(ctx context.Context, traceID string) (*location.Record, error) {
	<-b.release
	return b.MemoryStore.MostRecent(ctx, traceID)
}

func TestOnFix_NeverBlocks(t *testing.T) {
	store := &blockingStore{MemoryStore: database.NewMemoryStore(), release: make(chan struct{})}
	s := New(store, Config{QueueSize: 2, Workers: 1})
	s.Start(context.Background())

	var full int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			if err := s.OnFix("trace-1", fixAt(float64(i), float64(i), time.Duration(i)*time.Second)); errors.Is(err, ErrQueueFull) {
				full++
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnFix blocked while the store was stalled")
	}

	if full == 0 {
		t.Error("Expected some fixes to be dropped with ErrQueueFull")
	}
	if s.Stats().Dropped != uint64(full) {
		t.Errorf("Expected dropped counter %d, got %d", full, s.Stats().Dropped)
	}

	close(store.release)
	s.Stop()
}

func TestOnFix_AfterStop(t *testing.T) {
	s := New(database.NewMemoryStore(), Config{})
	s.Start(context.Background())
	s.Stop()
	s.Stop()

	if err := s.OnFix("trace-1", fixAt(1, 1, 0)); !errors.Is(err, ErrStopped) {
		t.Fatalf("Expected ErrStopped, got %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Expected restart to fail with ErrStopped, got %v", err)
	}
}

func TestOnFix_MalformedRejectedSynchronously(t *testing.T) {
	s := New(database.NewMemoryStore(), Config{})

	if err := s.OnFix("trace-1", fixAt(100, 1, 0)); !errors.Is(err, location.ErrMalformedFix) {
		t.Fatalf("Expected ErrMalformedFix, got %v", err)
	}
	if s.Stats().Malformed != 1 || s.Stats().Pending != 0 {
		t.Errorf("Unexpected stats: %+v", s.Stats())
	}
}

func TestOnFix_ReportsBackgroundErrors(t *testing.T) {
	s := New(&brokenStore{readErr: errors.New("timeout")}, Config{Workers: 1})

	var mu sync.Mutex
	var got []error
	s.OnError = func(traceID string, err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	}

	s.Start(context.Background())
	s.OnFix("trace-1", fixAt(1, 1, 0))
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("Expected one reported error, got %d", len(got))
	}
	var storageErr *location.StorageError
	if !errors.As(got[0], &storageErr) {
		t.Errorf("Expected StorageError, got %v", got[0])
	}
}

func TestDedupRule_Accepts(t *testing.T) {
	last := &location.Record{Latitude: 1, Longitude: 1}

	tests := []struct {
		rule DedupRule
		fix  location.Fix
		want bool
	}{
		{DedupBothChanged, fixAt(2, 2, 0), true},
		{DedupBothChanged, fixAt(1, 2, 0), false},
		{DedupBothChanged, fixAt(2, 1, 0), false},
		{DedupBothChanged, fixAt(1, 1, 0), false},
		{DedupAnyChanged, fixAt(1, 2, 0), true},
		{DedupAnyChanged, fixAt(2, 1, 0), true},
		{DedupAnyChanged, fixAt(1, 1, 0), false},
	}

	for _, tt := range tests {
		if got := tt.rule.Accepts(last, tt.fix); got != tt.want {
			t.Errorf("%s.Accepts(%v, %v) = %v, want %v", tt.rule, tt.fix.Latitude, tt.fix.Longitude, got, tt.want)
		}
	}
	if !DedupBothChanged.Accepts(nil, fixAt(1, 1, 0)) {
		t.Error("Expected any fix to be accepted without a previous record")
	}
}

func TestProcess_StoresMillisecondCaptureTime(t *testing.T) {
	store := database.NewMemoryStore()
	s := New(store, Config{})
	ctx := context.Background()

	fix := fixAt(1.0, 1.0, 250*time.Millisecond+999*time.Microsecond)
	if _, err := s.Process(ctx, "trace-1", fix); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	last, err := store.MostRecent(ctx, "trace-1")
	if err != nil || last == nil {
		t.Fatalf("MostRecent failed: %v", err)
	}
	if want := t0.Add(250 * time.Millisecond); !last.CapturedAt.Equal(want) {
		t.Errorf("Expected capture time %s, got %s", want, last.CapturedAt)
	}
}
