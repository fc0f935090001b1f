package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prakashsellathurai/timebased-logger/internal/gate"
	"github.com/prakashsellathurai/timebased-logger/internal/sink"
)

const (
	// DefaultQueueCapacity bounds the async queue when the caller does not.
	DefaultQueueCapacity = 1024

	// defaultPoll is how long the worker waits for the next record before
	// flushing a partial batch.
	defaultPoll = 100 * time.Millisecond
)

// Async decouples producers from gating and output. Submit only enqueues; a
// single worker goroutine dequeues, batches, gates, and emits. The worker
// being the gate's only caller means gate state needs no locking here.
//
// Backpressure is drop-newest: a Submit against a full queue drops the
// record, counts it, and returns ErrQueueFull so the producer never blocks.
type Async struct {
	gate   *gate.Gate
	sink   sink.Sink
	logger *slog.Logger

	batchSize int
	poll      time.Duration

	in       chan Record
	flushReq chan chan struct{}
	stop     chan struct{}
	done     chan struct{}

	paused  atomic.Bool
	closed  atomic.Bool
	started atomic.Bool

	stopOnce sync.Once

	// Drops recorded from producers when the queue is full.
	dropped atomic.Uint64

	// Optional metric callbacks provided by the owner.
	incrEmitted      func(int64)
	incrSuppressed   func(int64)
	incrOutputFailed func(int64)
}

// NewAsync constructs the asynchronous variant. batchSize must be positive;
// queueCapacity <= 0 selects DefaultQueueCapacity. The worker is started
// separately via Start.
func NewAsync(g *gate.Gate, s sink.Sink, logger *slog.Logger, batchSize, queueCapacity int) (*Async, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, batchSize)
	}

	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}

	return &Async{
		gate:      g,
		sink:      s,
		logger:    logger,
		batchSize: batchSize,
		poll:      defaultPoll,
		in:        make(chan Record, queueCapacity),
		flushReq:  make(chan chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// SetMetricsCallbacks installs optional callbacks for metrics updates.
// If not provided, metrics are not recorded by the dispatcher.
func (d *Async) SetMetricsCallbacks(incrEmitted, incrSuppressed, incrOutputFailed func(int64)) {
	d.incrEmitted = incrEmitted
	d.incrSuppressed = incrSuppressed
	d.incrOutputFailed = incrOutputFailed
}

// Start launches the worker. Safe to call more than once; only the first
// call starts it, and a closed dispatcher stays stopped.
func (d *Async) Start(ctx context.Context) {
	if d.closed.Load() || !d.started.CompareAndSwap(false, true) {
		return
	}

	go d.run(ctx)
}

// Submit enqueues the payload without blocking. A full queue drops the
// record (see ErrQueueFull).
func (d *Async) Submit(_ context.Context, payload string) error {
	if d.closed.Load() {
		return ErrClosed
	}

	if d.paused.Load() {
		return nil
	}

	select {
	case d.in <- Record{Payload: payload}:
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

// Pause suspends submissions. Records already queued still get delivered;
// pausing is a submission-time gate, not a worker-time gate.
func (d *Async) Pause() { d.paused.Store(true) }

// Resume re-enables submissions without touching gate state.
func (d *Async) Resume() { d.paused.Store(false) }

// Flush blocks until every record enqueued before the call has been offered
// to the gate. Callers own the deadline through ctx.
func (d *Async) Flush(ctx context.Context) error {
	if d.closed.Load() {
		return ErrClosed
	}

	if !d.started.Load() {
		return nil
	}

	ack := make(chan struct{})

	select {
	case d.flushReq <- ack:
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further submissions, signals the worker to drain and stop,
// and waits for it bounded by ctx. On timeout the dispatcher remains closed
// even though the worker's exit was not observed.
func (d *Async) Close(ctx context.Context) error {
	d.closed.Store(true)
	d.stopOnce.Do(func() { close(d.stop) })

	if !d.started.Load() {
		return nil
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", ErrShutdownTimeout, ctx.Err())
	}
}

// Dropped returns the number of records dropped due to a full queue.
func (d *Async) Dropped() uint64 { return d.dropped.Load() }

// QueueLen returns the current queue length; can be observed for metrics.
func (d *Async) QueueLen() int { return len(d.in) }

// run is the worker loop: accumulate records into a batch, flush at
// batchSize or on the poll tick, and drain everything on stop so accepted
// records are never silently lost.
func (d *Async) run(ctx context.Context) {
	// Worker exit, for whatever reason, terminates the dispatcher: records
	// submitted afterwards would otherwise queue up with no consumer.
	defer close(d.done)
	defer d.closed.Store(true)

	batch := make([]Record, 0, d.batchSize)

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.flushBatch(d.drain(batch))
			return
		case <-d.stop:
			d.flushBatch(d.drain(batch))
			return
		case r := <-d.in:
			batch = append(batch, r)
			if len(batch) >= d.batchSize {
				d.flushBatch(batch)
				batch = batch[:0]
			}
		case ack := <-d.flushReq:
			d.flushBatch(d.drain(batch))
			batch = batch[:0]
			close(ack)
		case <-ticker.C:
			if len(batch) > 0 {
				d.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

// drain moves everything currently queued into batch without blocking.
func (d *Async) drain(batch []Record) []Record {
	for {
		select {
		case r := <-d.in:
			batch = append(batch, r)
		default:
			return batch
		}
	}
}

// flushBatch offers each record to the gate in enqueue order and emits the
// approved ones. A sink failure on one record never aborts the rest.
func (d *Async) flushBatch(batch []Record) {
	if len(batch) == 0 {
		return
	}

	var emitted, suppressed, failed int64

	for _, r := range batch {
		if !d.gate.ShouldEmit(d.gate.Now()) {
			suppressed++
			continue
		}

		emitted++

		if err := d.sink.Emit(context.Background(), r.Payload); err != nil {
			failed++

			d.logger.Error(
				"sink emit failed",
				slog.String("err", err.Error()),
				slog.String("sink", fmt.Sprintf("%T", d.sink)),
			)
		}
	}

	if emitted > 0 && d.incrEmitted != nil {
		d.incrEmitted(emitted)
	}

	if suppressed > 0 && d.incrSuppressed != nil {
		d.incrSuppressed(suppressed)
	}

	if failed > 0 && d.incrOutputFailed != nil {
		d.incrOutputFailed(failed)
	}
}
