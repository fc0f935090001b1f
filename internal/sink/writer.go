package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// WriterSink writes each payload as a single line to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a sink writing to the provided writer.
func NewWriter(w io.Writer) *WriterSink { return &WriterSink{w: w} }

// NewStdout returns a sink that writes to os.Stdout.
func NewStdout() *WriterSink { return &WriterSink{w: os.Stdout} }

// Emit writes the payload with a trailing newline. The mutex only guards
// against callers sharing one WriterSink across two dispatchers; a single
// dispatcher never emits concurrently.
func (s *WriterSink) Emit(_ context.Context, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintln(s.w, payload); err != nil {
		return fmt.Errorf("sink: write: %w", err)
	}

	return nil
}
