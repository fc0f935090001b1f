package sink

import "context"

//go:generate mockgen -source=sink.go -destination=./mocks/mock_sink.go -package=mocks

// Sink receives payloads approved by the gate. Implementations may block or
// fail; the dispatcher isolates failures per record and never calls a Sink
// concurrently with itself.
type Sink interface {
	Emit(ctx context.Context, payload string) error
}

// Func adapts a plain function to the Sink interface.
type Func func(ctx context.Context, payload string) error

// Emit calls f.
func (f Func) Emit(ctx context.Context, payload string) error { return f(ctx, payload) }
