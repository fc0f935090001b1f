// Package throttle wires the gate, dispatcher, and sink into one service and
// owns the pipeline's metrics and lifecycle.
package throttle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"

	cfgpkg "github.com/prakashsellathurai/timebased-logger/internal/config"
	"github.com/prakashsellathurai/timebased-logger/internal/dispatcher"
	"github.com/prakashsellathurai/timebased-logger/internal/gate"
	"github.com/prakashsellathurai/timebased-logger/internal/sink"
)

const instrumentationName = "github.com/prakashsellathurai/timebased-logger"

// Service holds all instance-scoped dependencies and metrics.
type Service struct {
	Cfg    cfgpkg.Config
	Logger *slog.Logger
	Tracer oteltrace.Tracer
	Meter  otelmetric.Meter

	// Metrics
	Submitted    otelmetric.Int64Counter
	Emitted      otelmetric.Int64Counter
	Suppressed   otelmetric.Int64Counter
	Dropped      otelmetric.Int64Counter
	OutputFailed otelmetric.Int64Counter

	Gate       *gate.Gate
	Dispatcher dispatcher.Dispatcher

	outSink sink.Sink
	nowFn   func() time.Time

	// async is non-nil when the async variant was selected; it carries the
	// worker lifecycle the Dispatcher interface does not expose.
	async *dispatcher.Async
}

// Option configures a Service.
type Option func(*Service) error

// WithSink overrides the default stdout sink with a custom sink (useful for
// tests and for file-backed output).
func WithSink(s sink.Sink) Option {
	return func(svc *Service) error { svc.outSink = s; return nil }
}

// WithNow overrides the gate's time source, for deterministic tests.
func WithNow(fn func() time.Time) Option {
	return func(svc *Service) error { svc.nowFn = fn; return nil }
}

// New constructs a Service with instance-level instruments. Invalid
// configuration fails here, before any record can be submitted.
func New(cfg cfgpkg.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		Cfg:    cfg,
		Logger: logger,
		Tracer: otel.Tracer(instrumentationName),
		Meter:  otel.Meter(instrumentationName),
	}

	var err error
	if s.Submitted, err = s.Meter.Int64Counter(
		"com.github.prakashsellathurai.tblogger.records.submitted",
		otelmetric.WithDescription("The number of records submitted to the dispatcher"),
		otelmetric.WithUnit("{record}"),
	); err != nil {
		return nil, err
	}

	if s.Emitted, err = s.Meter.Int64Counter(
		"com.github.prakashsellathurai.tblogger.records.emitted",
		otelmetric.WithDescription("The number of records approved by the gate and sent to the sink"),
		otelmetric.WithUnit("{record}"),
	); err != nil {
		return nil, err
	}

	if s.Suppressed, err = s.Meter.Int64Counter(
		"com.github.prakashsellathurai.tblogger.records.suppressed",
		otelmetric.WithDescription("The number of records suppressed by the interval gate"),
		otelmetric.WithUnit("{record}"),
	); err != nil {
		return nil, err
	}

	if s.Dropped, err = s.Meter.Int64Counter(
		"com.github.prakashsellathurai.tblogger.records.dropped",
		otelmetric.WithDescription("The number of records dropped because the async queue was full"),
		otelmetric.WithUnit("{record}"),
	); err != nil {
		return nil, err
	}

	if s.OutputFailed, err = s.Meter.Int64Counter(
		"com.github.prakashsellathurai.tblogger.output.failed",
		otelmetric.WithDescription("Number of failed sink emissions"),
		otelmetric.WithUnit("{failure}"),
	); err != nil {
		return nil, err
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	// Default sink to stdout if not set
	if s.outSink == nil {
		s.outSink = sink.NewStdout()
	}

	gateOpts := []gate.Option{}
	if cfg.Capped() {
		gateOpts = append(gateOpts, gate.WithMaxPerInterval(cfg.MaxPerInterval))
	}

	if s.nowFn != nil {
		gateOpts = append(gateOpts, gate.WithNow(s.nowFn))
	}

	if s.Gate, err = gate.New(cfg.Interval, gateOpts...); err != nil {
		return nil, err
	}

	incrEmitted := func(n int64) { s.Emitted.Add(context.Background(), n) }
	incrSuppressed := func(n int64) { s.Suppressed.Add(context.Background(), n) }
	incrOutputFailed := func(n int64) { s.OutputFailed.Add(context.Background(), n) }

	if cfg.Async {
		a, err := dispatcher.NewAsync(s.Gate, s.outSink, logger, cfg.BatchSize, cfg.QueueCapacity)
		if err != nil {
			return nil, err
		}

		a.SetMetricsCallbacks(incrEmitted, incrSuppressed, incrOutputFailed)
		s.async = a
		s.Dispatcher = a
	} else {
		d := dispatcher.NewSync(s.Gate, s.outSink, logger, cfg.ThreadSafe)
		d.SetMetricsCallbacks(incrEmitted, incrSuppressed, incrOutputFailed)
		s.Dispatcher = d
	}

	return s, nil
}

// Start starts the background worker in async mode. It is safe to call more
// than once; synchronous mode has nothing to start.
func (s *Service) Start(ctx context.Context) {
	if s.async == nil {
		return
	}

	ctx, span := s.Tracer.Start(ctx, "throttle.Start")
	defer span.End()

	s.async.Start(ctx)
	s.Logger.DebugContext(ctx, "throttle.Start: worker running", slog.Int("queue_len", s.async.QueueLen()))
}

// Log submits one prepared payload. The gate decides whether it reaches the
// sink; the only errors a producer sees are lifecycle ones (ErrClosed) and
// the async queue-full signal.
func (s *Service) Log(ctx context.Context, payload string) error {
	s.Submitted.Add(ctx, 1)

	err := s.Dispatcher.Submit(ctx, payload)
	if errors.Is(err, dispatcher.ErrQueueFull) {
		s.Dropped.Add(ctx, 1)
	}

	return err
}

// Pause stops subsequent Log calls from reaching the pipeline.
func (s *Service) Pause() {
	s.Dispatcher.Pause()
	s.Logger.Debug("throttle.Pause")
}

// Resume re-enables Log. Gate state is untouched; a window that elapsed
// while paused admits the next record immediately.
func (s *Service) Resume() {
	s.Dispatcher.Resume()
	s.Logger.Debug("throttle.Resume")
}

// Flush blocks until every record queued before the call has been offered
// to the gate.
func (s *Service) Flush(ctx context.Context) error {
	ctx, span := s.Tracer.Start(ctx, "throttle.Flush")
	defer span.End()

	return s.Dispatcher.Flush(ctx)
}

// Close drains and stops the pipeline. Idempotent; bounded by ctx.
func (s *Service) Close(ctx context.Context) error {
	ctx, span := s.Tracer.Start(ctx, "throttle.Close")
	defer span.End()

	s.Logger.DebugContext(ctx, "throttle.Close: begin")

	err := s.Dispatcher.Close(ctx)

	s.Logger.DebugContext(ctx, "throttle.Close: end")

	return err
}

// QueueDropped returns the async drop counter, zero in synchronous mode.
func (s *Service) QueueDropped() uint64 {
	if s.async == nil {
		return 0
	}

	return s.async.Dropped()
}
