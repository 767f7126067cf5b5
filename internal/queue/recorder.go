package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smukkama/trace-server/internal/database"
	"github.com/smukkama/trace-server/internal/location"
	"github.com/smukkama/trace-server/internal/protocol"
)

// MessageSource is the part of a Kafka consumer the recorder reads from
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// FixProcessor runs the dedup-and-store round trip for one fix
type FixProcessor interface {
	Process(ctx context.Context, traceID string, fix location.Fix) (bool, error)
}

// TraceUpserter keeps trace metadata current
type TraceUpserter interface {
	UpsertTrace(ctx context.Context, trace *database.Trace) error
}

// RecorderStats is a snapshot of recorder counters
type RecorderStats struct {
	Consumed uint64
	Recorded uint64
	Deduped  uint64
	Skipped  uint64
	Failed   uint64
}

// Recorder consumes raw fix events from Kafka in batches and hands each fix
// to the sampler. Offsets are committed once a fix has been recorded or
// deduplicated. Undecodable events are committed and skipped.
//
// A storage failure blocks its partition: the failed message and every later
// message of that partition stay uncommitted and are retried in order on the
// next tick. Commits are cumulative per partition, so nothing past the failed
// offset may be committed before it.
type Recorder struct {
	source        MessageSource
	traces        TraceUpserter
	processor     FixProcessor
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup

	consumed atomic.Uint64
	recorded atomic.Uint64
	deduped  atomic.Uint64
	skipped  atomic.Uint64
	failed   atomic.Uint64
}

// NewRecorder creates a new recorder
func NewRecorder(source MessageSource, traces TraceUpserter, processor FixProcessor, batchSize int, flushInterval time.Duration) *Recorder {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Recorder{
		source:        source,
		traces:        traces,
		processor:     processor,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and recording fixes
func (r *Recorder) Start(ctx context.Context) error {
	r.wg.Add(1)
	go r.run(ctx)
	return nil
}

// Stop flushes the pending batch and stops the recorder
func (r *Recorder) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// Stats returns a snapshot of the counters
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Consumed: r.consumed.Load(),
		Recorded: r.recorded.Load(),
		Deduped:  r.deduped.Load(),
		Skipped:  r.skipped.Load(),
		Failed:   r.failed.Load(),
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	var batch []kafka.Message
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	msgChan := make(chan kafka.Message, r.batchSize)
	go func() {
		defer close(msgChan)
		for {
			msg, err := r.source.Consume(fetchCtx)
			if err != nil {
				if fetchCtx.Err() != nil {
					return
				}
				fmt.Printf("Consumer error: %v\n", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
			select {
			case msgChan <- msg:
			case <-fetchCtx.Done():
				return
			}
		}
	}()

	// retrying is set while the batch holds messages behind a storage failure.
	// Those are only retried on the ticker, and reading stops once
	// maxPending messages are held.
	retrying := false
	maxPending := r.batchSize * 10

	for {
		in := msgChan
		if len(batch) >= maxPending {
			in = nil
		}

		select {
		case <-r.stopCh:
			// Flush remaining batch before stopping
			r.stopWith(r.flush(ctx, batch))
			return

		case <-ticker.C:
			if len(batch) > 0 {
				batch = r.flush(ctx, batch)
				retrying = len(batch) > 0
			}

		case msg, ok := <-in:
			if !ok {
				r.stopWith(r.flush(ctx, batch))
				return
			}
			r.consumed.Add(1)
			batch = append(batch, msg)

			if !retrying && len(batch) >= r.batchSize {
				batch = r.flush(ctx, batch)
				retrying = len(batch) > 0
			}
		}
	}
}

func (r *Recorder) stopWith(pending []kafka.Message) {
	if len(pending) > 0 {
		fmt.Printf("Stopping with %d uncommitted events, they will be redelivered\n", len(pending))
	}
}

// flush processes a batch in order and returns the messages that must be
// retried: a message that failed with a storage error and everything after
// it on the same partition.
func (r *Recorder) flush(ctx context.Context, batch []kafka.Message) []kafka.Message {
	if len(batch) == 0 {
		return nil
	}

	var retry []kafka.Message
	blocked := make(map[int]bool)
	recorded := 0
	for _, msg := range batch {
		if blocked[msg.Partition] {
			retry = append(retry, msg)
			continue
		}

		inserted, err := r.processMessage(ctx, msg)
		if err != nil {
			var storageErr *location.StorageError
			if errors.As(err, &storageErr) {
				r.failed.Add(1)
				fmt.Printf("Failed to record fix (partition=%d, offset=%d): %v\n", msg.Partition, msg.Offset, err)
				blocked[msg.Partition] = true
				retry = append(retry, msg)
				continue
			}
			r.skipped.Add(1)
			fmt.Printf("Skipping invalid fix event (partition=%d, offset=%d): %v\n", msg.Partition, msg.Offset, err)
		} else if inserted {
			recorded++
			r.recorded.Add(1)
		} else {
			r.deduped.Add(1)
		}

		if err := r.source.Commit(ctx, msg); err != nil {
			fmt.Printf("Failed to commit offset: %v\n", err)
		}
	}

	fmt.Printf("Flushed batch of %d events, %d new records, %d held for retry\n", len(batch), recorded, len(retry))
	return retry
}

func (r *Recorder) processMessage(ctx context.Context, msg kafka.Message) (bool, error) {
	event, err := protocol.DecodeFixEvent(msg.Value)
	if err != nil {
		return false, fmt.Errorf("failed to decode event: %w", err)
	}
	if event.TraceID == "" {
		return false, fmt.Errorf("event without trace id")
	}

	fix, err := event.Data.Parse()
	if err != nil {
		return false, err
	}

	trace := &database.Trace{
		ID:         event.TraceID,
		Device:     event.Device,
		LastSeenAt: fix.CapturedAt,
	}
	if err := r.traces.UpsertTrace(ctx, trace); err != nil {
		return false, err
	}

	return r.processor.Process(ctx, event.TraceID, fix)
}
