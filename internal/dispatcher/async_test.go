package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prakashsellathurai/timebased-logger/internal/gate"
	"github.com/prakashsellathurai/timebased-logger/internal/sink"
)

// tickingClock advances itself on every reading, so consecutive gate
// decisions in one batch flush still observe strictly increasing time.
type tickingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(c.step)

	return c.now
}

func newAsyncUnderTest(t *testing.T, interval time.Duration, batchSize, queueCap int, opts ...gate.Option) (*Async, *captureSink, *fakeClock) {
	t.Helper()

	clk := newFakeClock()

	g, err := gate.New(interval, append(opts, gate.WithNow(clk.Now))...)
	require.NoError(t, err)

	cs := &captureSink{}

	d, err := NewAsync(g, cs, discardLogger(), batchSize, queueCap)
	require.NoError(t, err)

	return d, cs, clk
}

func TestNewAsync_RejectsInvalidBatchSize(t *testing.T) {
	g, err := gate.New(time.Second)
	require.NoError(t, err)

	_, err = NewAsync(g, &captureSink{}, discardLogger(), 0, 10)
	require.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestAsync_FlushDrainsInOrder(t *testing.T) {
	// Cap of 3 within one window: of 7 rapid submissions exactly the first
	// three must reach the sink, in enqueue order.
	d, cs, _ := newAsyncUnderTest(t, time.Hour, 3, 0, gate.WithMaxPerInterval(3))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Start(ctx)

	defer func() { require.NoError(t, d.Close(context.Background())) }()

	for i := 0; i < 7; i++ {
		require.NoError(t, d.Submit(ctx, fmt.Sprintf("r%d", i)))
	}

	require.NoError(t, d.Flush(ctx))
	require.Equal(t, []string{"r0", "r1", "r2"}, cs.payloads())
}

func TestAsync_PreservesFIFOAcrossBatches(t *testing.T) {
	clk := &tickingClock{now: time.Unix(1_700_000_000, 0), step: time.Millisecond}

	g, err := gate.New(time.Nanosecond, gate.WithNow(clk.Now))
	require.NoError(t, err)

	cs := &captureSink{}

	d, err := NewAsync(g, cs, discardLogger(), 4, 0)
	require.NoError(t, err)

	ctx := context.Background()
	d.Start(ctx)

	defer func() { require.NoError(t, d.Close(context.Background())) }()

	var want []string

	for i := 0; i < 20; i++ {
		p := fmt.Sprintf("m%02d", i)
		want = append(want, p)
		require.NoError(t, d.Submit(ctx, p))
	}

	require.NoError(t, d.Flush(ctx))
	require.Equal(t, want, cs.payloads())
}

func TestAsync_DropNewestWhenQueueFull(t *testing.T) {
	// Worker intentionally not started: the queue fills immediately.
	d, _, _ := newAsyncUnderTest(t, time.Second, 2, 1)

	ctx := context.Background()

	require.NoError(t, d.Submit(ctx, "kept"))
	require.ErrorIs(t, d.Submit(ctx, "dropped"), ErrQueueFull)
	require.EqualValues(t, 1, d.Dropped())
	require.Equal(t, 1, d.QueueLen())
}

func TestAsync_CloseDrainsQueuedRecords(t *testing.T) {
	clk := &tickingClock{now: time.Unix(1_700_000_000, 0), step: time.Millisecond}

	g, err := gate.New(time.Nanosecond, gate.WithNow(clk.Now))
	require.NoError(t, err)

	cs := &captureSink{}

	d, err := NewAsync(g, cs, discardLogger(), 100, 0)
	require.NoError(t, err)

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Submit(ctx, fmt.Sprintf("q%d", i)))
	}

	// Start after submitting so the final drain, not steady-state batching,
	// is what delivers the records.
	d.Start(ctx)
	require.NoError(t, d.Close(context.Background()))

	require.Equal(t, []string{"q0", "q1", "q2", "q3", "q4"}, cs.payloads())

	require.ErrorIs(t, d.Submit(ctx, "late"), ErrClosed)
	require.ErrorIs(t, d.Flush(ctx), ErrClosed)
}

func TestAsync_PauseDoesNotSuppressQueuedRecords(t *testing.T) {
	d, cs, _ := newAsyncUnderTest(t, time.Hour, 10, 0)

	ctx := context.Background()

	require.NoError(t, d.Submit(ctx, "before pause"))

	d.Pause()
	require.NoError(t, d.Submit(ctx, "while paused"), "discarded, not an error")

	d.Start(ctx)
	require.NoError(t, d.Close(context.Background()))

	// The record accepted before Pause is still delivered; the paused one
	// never entered the queue.
	require.Equal(t, []string{"before pause"}, cs.payloads())
}

func TestAsync_ContextCancellationDrains(t *testing.T) {
	d, cs, _ := newAsyncUnderTest(t, time.Hour, 10, 0)

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	require.NoError(t, d.Submit(context.Background(), "only one"))

	cancel()

	require.Eventually(t, func() bool {
		return len(cs.payloads()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAsync_CloseTimeoutStillMarksClosed(t *testing.T) {
	clk := newFakeClock()

	g, err := gate.New(time.Nanosecond, gate.WithNow(clk.Now))
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})

	blocking := sink.Func(func(context.Context, string) error {
		close(entered)
		<-release

		return nil
	})

	d, err := NewAsync(g, blocking, discardLogger(), 1, 0)
	require.NoError(t, err)

	ctx := context.Background()
	d.Start(ctx)

	require.NoError(t, d.Submit(ctx, "slow"))

	// Wait until the worker is stuck inside the sink, then demand an
	// immediate shutdown.
	<-entered

	expired, cancel := context.WithCancel(context.Background())
	cancel()

	err = d.Close(expired)
	require.ErrorIs(t, err, ErrShutdownTimeout)
	require.ErrorIs(t, d.Submit(ctx, "late"), ErrClosed)

	// The in-flight emission completes; cooperative shutdown finishes.
	close(release)

	require.Eventually(t, func() bool {
		select {
		case <-d.done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	assert.NoError(t, d.Close(context.Background()))
}
