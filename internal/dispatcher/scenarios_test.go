package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/prakashsellathurai/timebased-logger/internal/gate"
	"github.com/prakashsellathurai/timebased-logger/internal/sink"
)

// runTimeline replays submissions at fixed offsets through a synchronous
// dispatcher and returns the emitted lines.
func runTimeline(t *testing.T, interval time.Duration, offsets []time.Duration, opts ...gate.Option) []byte {
	t.Helper()

	clk := newFakeClock()
	base := clk.Now()

	g, err := gate.New(interval, append(opts, gate.WithNow(clk.Now))...)
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	d := NewSync(g, sink.NewWriter(buf), discardLogger(), false)

	ctx := context.Background()

	for i, off := range offsets {
		clk.Advance(base.Add(off).Sub(clk.Now()))
		require.NoError(t, d.Submit(ctx, fmt.Sprintf("offset=%s msg-%02d", off, i)))
	}

	return buf.Bytes()
}

func TestTimeline_Uncapped(t *testing.T) {
	offsets := []time.Duration{
		0,
		time.Second,
		2 * time.Second,
		2*time.Second + 500*time.Millisecond,
		4 * time.Second,
		5 * time.Second,
		6 * time.Second,
	}

	got := runTimeline(t, 2*time.Second, offsets)

	g := goldie.New(t)
	g.Assert(t, "uncapped_timeline", got)
}

func TestTimeline_Capped(t *testing.T) {
	offsets := []time.Duration{
		0,
		100 * time.Millisecond,
		200 * time.Millisecond,
		time.Second,
		time.Second + 100*time.Millisecond,
		time.Second + 200*time.Millisecond,
		2*time.Second + 500*time.Millisecond,
		2*time.Second + 600*time.Millisecond,
		2*time.Second + 700*time.Millisecond,
	}

	got := runTimeline(t, time.Second, offsets, gate.WithMaxPerInterval(2))

	g := goldie.New(t)
	g.Assert(t, "capped_timeline", got)
}
