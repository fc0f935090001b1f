package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prakashsellathurai/timebased-logger/internal/gate"
	"github.com/prakashsellathurai/timebased-logger/internal/sink"
)

// Sync gates and emits inline on the submitting goroutine.
//
// With thread safety enabled, one mutex serializes the gate decision and the
// sink call as a single atomic unit per submission. Without it there is no
// synchronization at all; concurrent submissions are a data race the caller
// explicitly opted into.
type Sync struct {
	gate   *gate.Gate
	sink   sink.Sink
	logger *slog.Logger

	// mu is nil unless thread safety was requested.
	mu *sync.Mutex

	paused atomic.Bool
	closed atomic.Bool

	// Optional metric callbacks provided by the owner.
	incrEmitted      func(int64)
	incrSuppressed   func(int64)
	incrOutputFailed func(int64)
}

// NewSync constructs the synchronous variant.
func NewSync(g *gate.Gate, s sink.Sink, logger *slog.Logger, threadSafe bool) *Sync {
	d := &Sync{
		gate:   g,
		sink:   s,
		logger: logger,
	}
	if threadSafe {
		d.mu = &sync.Mutex{}
	}

	return d
}

// SetMetricsCallbacks installs optional callbacks for metrics updates.
// If not provided, metrics are not recorded by the dispatcher.
func (d *Sync) SetMetricsCallbacks(incrEmitted, incrSuppressed, incrOutputFailed func(int64)) {
	d.incrEmitted = incrEmitted
	d.incrSuppressed = incrSuppressed
	d.incrOutputFailed = incrOutputFailed
}

// Submit gates the payload and emits it inline if approved. Sink failures
// are logged and counted, never returned to the producer.
func (d *Sync) Submit(ctx context.Context, payload string) error {
	if d.closed.Load() {
		return ErrClosed
	}

	if d.paused.Load() {
		return nil
	}

	if d.mu != nil {
		d.mu.Lock()
		defer d.mu.Unlock()
	}

	if !d.gate.ShouldEmit(d.gate.Now()) {
		if d.incrSuppressed != nil {
			d.incrSuppressed(1)
		}

		return nil
	}

	if d.incrEmitted != nil {
		d.incrEmitted(1)
	}

	if err := d.sink.Emit(ctx, payload); err != nil {
		d.logger.Error("sink emit failed", slog.String("err", err.Error()))

		if d.incrOutputFailed != nil {
			d.incrOutputFailed(1)
		}
	}

	return nil
}

// Pause suspends delivery.
func (d *Sync) Pause() { d.paused.Store(true) }

// Resume re-enables delivery without touching gate state.
func (d *Sync) Resume() { d.paused.Store(false) }

// Flush is a synchronization no-op: there is no queue in this variant.
func (d *Sync) Flush(_ context.Context) error {
	if d.closed.Load() {
		return ErrClosed
	}

	return nil
}

// Close marks the dispatcher closed. Idempotent.
func (d *Sync) Close(_ context.Context) error {
	d.closed.Store(true)
	return nil
}
