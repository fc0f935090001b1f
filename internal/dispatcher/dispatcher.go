// Package dispatcher turns submitted records into zero-or-one sink emissions,
// applying pause state and the configured delivery mode around the gate.
//
// Two variants implement Dispatcher: Sync gates and emits inline on the
// caller's goroutine, Async defers gating to a single background worker fed
// by a bounded FIFO queue. The variants carry different concurrency
// obligations, so they are separate types rather than one type with branches.
package dispatcher

import (
	"context"
	"errors"
)

var (
	// ErrInvalidBatchSize is returned when the async batch size is not positive.
	ErrInvalidBatchSize = errors.New("dispatcher: batch size must be positive")
	// ErrQueueFull signals that a record was dropped because the async queue
	// was at capacity. The drop is also counted; see Async.Dropped.
	ErrQueueFull = errors.New("dispatcher: queue full, record dropped")
	// ErrClosed is returned by operations invoked after Close.
	ErrClosed = errors.New("dispatcher: closed")
	// ErrShutdownTimeout is returned when Close could not confirm worker
	// termination within the caller's deadline. The dispatcher is still
	// marked closed.
	ErrShutdownTimeout = errors.New("dispatcher: shutdown timed out")
)

// Record is an opaque unit of work: a fully prepared payload awaiting a gate
// decision. It is immutable and owned by whichever stage currently holds it.
type Record struct {
	Payload string
}

// Dispatcher routes submitted payloads through the gate to the sink.
type Dispatcher interface {
	// Submit offers one payload. Paused dispatchers discard it immediately.
	Submit(ctx context.Context, payload string) error
	// Pause makes subsequent Submit calls no-ops. It is a submission-time
	// gate only; records already queued are still delivered.
	Pause()
	// Resume re-enables Submit. Gate state survives a pause untouched.
	Resume()
	// Flush blocks until every record queued before the call has been
	// offered to the gate.
	Flush(ctx context.Context) error
	// Close stops the dispatcher, draining queued records first. Submissions
	// after Close fail with ErrClosed.
	Close(ctx context.Context) error
}
