// Package sampler turns a stream of raw position fixes into a deduplicated,
// persisted trace.
//
// Fixes are handed over with OnFix, which never blocks: each fix is queued
// for a worker that performs the store round trip (read the most recent
// record, conditionally insert). All fixes of one trace are handled by the
// same worker, so the read-then-insert sequence is serialized per trace
// within one Sampler. Two Samplers writing the same trace can still both
// observe the same last record and both insert.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"sync/atomic"

	"github.com/smukkama/trace-server/internal/location"
)

var (
	ErrQueueFull = errors.New("sampler queue full")
	ErrStopped   = errors.New("sampler stopped")
)

// DedupRule selects how a fix is compared against the last accepted record
type DedupRule string

const (
	// DedupBothChanged accepts a fix only when latitude AND longitude both
	// differ from the last record. Moving along a single axis is dropped.
	DedupBothChanged DedupRule = "both-changed"

	// DedupAnyChanged drops only exact repeats of both coordinates
	DedupAnyChanged DedupRule = "any-changed"
)

// Accepts reports whether fix should be stored given the last stored record
func (r DedupRule) Accepts(last *location.Record, fix location.Fix) bool {
	if last == nil {
		return true
	}
	if r == DedupAnyChanged {
		return fix.Latitude != last.Latitude || fix.Longitude != last.Longitude
	}
	return fix.Latitude != last.Latitude && fix.Longitude != last.Longitude
}

// Store is the part of the record store the sampler needs
type Store interface {
	MostRecent(ctx context.Context, traceID string) (*location.Record, error)
	InsertRecord(ctx context.Context, rec *location.Record) (int64, error)
}

// Config controls queueing and deduplication
type Config struct {
	QueueSize int
	Workers   int
	DedupRule DedupRule
}

// Stats is a snapshot of sampler counters
type Stats struct {
	Received  uint64 `json:"received"`
	Malformed uint64 `json:"malformed"`
	Dropped   uint64 `json:"dropped"`
	Accepted  uint64 `json:"accepted"`
	Rejected  uint64 `json:"rejected"`
	Failed    uint64 `json:"failed"`
	Pending   int    `json:"pending"`
}

type job struct {
	traceID string
	fix     location.Fix
}

// Sampler deduplicates fixes and writes accepted ones to a Store
type Sampler struct {
	store  Store
	rule   DedupRule
	queues []chan job

	// OnError, when set, receives failures from background processing
	OnError func(traceID string, err error)

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup

	received  atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
	accepted  atomic.Uint64
	rejected  atomic.Uint64
	failed    atomic.Uint64
}

// New creates a fully initialized sampler. Workers do not run until Start.
func New(store Store, cfg Config) *Sampler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.DedupRule == "" {
		cfg.DedupRule = DedupBothChanged
	}

	// Split the total queue capacity across the workers
	perWorker := cfg.QueueSize / cfg.Workers
	if perWorker < 1 {
		perWorker = 1
	}

	queues := make([]chan job, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan job, perWorker)
	}

	return &Sampler{
		store:  store,
		rule:   cfg.DedupRule,
		queues: queues,
	}
}

// Start launches the workers. Queued fixes are processed with ctx.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return fmt.Errorf("sampler already started")
	}
	s.started = true

	for i, q := range s.queues {
		s.wg.Add(1)
		go s.worker(ctx, i, q)
	}

	fmt.Printf("Sampler started with %d workers (dedup rule: %s)\n", len(s.queues), s.rule)
	return nil
}

// Stop refuses new fixes, drains queued ones and waits for the workers
func (s *Sampler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for _, q := range s.queues {
		close(q)
	}
	s.mu.Unlock()

	s.wg.Wait()
	fmt.Println("Sampler stopped")
}

// OnFix validates a fix and queues it for the trace. It never blocks: when
// the trace's queue is full the fix is dropped and ErrQueueFull returned.
func (s *Sampler) OnFix(traceID string, fix location.Fix) error {
	s.received.Add(1)

	if err := fix.Validate(); err != nil {
		s.malformed.Add(1)
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return ErrStopped
	}

	select {
	case s.queues[s.shard(traceID)] <- job{traceID: traceID, fix: fix}:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// Process runs the store round trip for one fix synchronously. It reports
// whether a record was inserted. Store failures are returned as
// *location.StorageError and are not retried.
func (s *Sampler) Process(ctx context.Context, traceID string, fix location.Fix) (bool, error) {
	if err := fix.Validate(); err != nil {
		s.malformed.Add(1)
		return false, err
	}

	last, err := s.store.MostRecent(ctx, traceID)
	if err != nil {
		s.failed.Add(1)
		return false, asStorageError("most recent", err)
	}

	if !s.rule.Accepts(last, fix) {
		s.rejected.Add(1)
		return false, nil
	}

	rec := location.NewRecord(traceID, fix)
	if _, err := s.store.InsertRecord(ctx, &rec); err != nil {
		s.failed.Add(1)
		return false, asStorageError("insert record", err)
	}

	s.accepted.Add(1)
	return true, nil
}

// Stats returns a snapshot of the counters
func (s *Sampler) Stats() Stats {
	pending := 0
	for _, q := range s.queues {
		pending += len(q)
	}
	return Stats{
		Received:  s.received.Load(),
		Malformed: s.malformed.Load(),
		Dropped:   s.dropped.Load(),
		Accepted:  s.accepted.Load(),
		Rejected:  s.rejected.Load(),
		Failed:    s.failed.Load(),
		Pending:   pending,
	}
}

func (s *Sampler) worker(ctx context.Context, id int, q <-chan job) {
	defer s.wg.Done()

	for j := range q {
		if _, err := s.Process(ctx, j.traceID, j.fix); err != nil {
			if s.OnError != nil {
				s.OnError(j.traceID, err)
			} else {
				fmt.Printf("Sampler worker %d: failed to process fix for %s: %v\n", id, j.traceID, err)
			}
		}
	}
}

// shard maps a trace to a fixed worker queue
func (s *Sampler) shard(traceID string) int {
	return int(crc32.ChecksumIEEE([]byte(traceID)) % uint32(len(s.queues)))
}

func asStorageError(op string, err error) error {
	var storageErr *location.StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &location.StorageError{Op: op, Err: err}
}
