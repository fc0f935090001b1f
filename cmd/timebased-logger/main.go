package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"golang.org/x/time/rate"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	cfgpkg "github.com/prakashsellathurai/timebased-logger/internal/config"
	"github.com/prakashsellathurai/timebased-logger/internal/dispatcher"
	otelsetup "github.com/prakashsellathurai/timebased-logger/internal/otel"
	"github.com/prakashsellathurai/timebased-logger/internal/sink"
	"github.com/prakashsellathurai/timebased-logger/internal/throttle"
)

const name = "github.com/prakashsellathurai/timebased-logger"

const (
	logMaxSizeMB  = 100
	logMaxBackups = 7
	logMaxAgeDays = 28
)

// recordLogger is the slice of the throttle service the producers need.
type recordLogger interface {
	Log(ctx context.Context, payload string) error
}

func main() {
	if err := run(); err != nil {
		log.Fatalln(err)
	}
}

func run() (err error) {
	// Instance logger bridged to OTel.
	logger := otelslog.NewLogger(name)
	slog.SetDefault(logger)
	logger.Info("Starting timebased-logger")

	// Set up OpenTelemetry.
	otelShutdown, err := otelsetup.Setup(context.Background())
	if err != nil {
		return
	}

	defer func() { err = errors.Join(err, otelShutdown(context.Background())) }()

	// Config
	readCfg := cfgpkg.RegisterFlags()
	source := flag.String("source", "stdin", "Record source: stdin|generate")
	count := flag.Int("count", 20, "Number of synthetic records in generate mode")
	perSecond := flag.Float64("rate", 5, "Synthetic submissions per second in generate mode")

	flag.Parse()

	cfg, err := readCfg()
	if err != nil {
		return err
	}

	// Optional rotating output file; stdout otherwise.
	var opts []throttle.Option

	var outFile *lumberjack.Logger
	if cfg.OutputFile != "" {
		outFile = &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
		}
		opts = append(opts, throttle.WithSink(sink.NewWriter(outFile)))
	}

	svc, err := throttle.New(cfg, logger, opts...)
	if err != nil {
		return err
	}

	// Derive a context canceled on SIGINT/SIGTERM for graceful shutdown
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc.Start(sigCtx)

	switch *source {
	case "stdin":
		err = pump(sigCtx, svc, os.Stdin)
	case "generate":
		err = generate(sigCtx, svc, *count, *perSecond)
	default:
		err = fmt.Errorf("unknown source %q", *source)
	}

	if err != nil {
		return err
	}

	// Bound the shutdown with the configured timeout: drain the queue, then
	// stop the worker.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if cfg.Async {
		if ferr := svc.Flush(shutdownCtx); ferr != nil {
			slog.Warn("Flush before shutdown failed", slog.String("err", ferr.Error()))
		}
	}

	if cerr := svc.Close(shutdownCtx); cerr != nil {
		if errors.Is(cerr, dispatcher.ErrShutdownTimeout) {
			slog.Warn("Worker did not confirm shutdown in time", slog.String("err", cerr.Error()))
		} else {
			return cerr
		}
	}

	if dropped := svc.QueueDropped(); dropped > 0 {
		slog.Warn("Records dropped due to full queue", slog.Uint64("dropped", dropped))
	}

	if outFile != nil {
		if cerr := outFile.Close(); cerr != nil {
			return cerr
		}
	}

	return nil
}

// pump submits each line read from r until EOF or cancellation. Queue-full
// drops are already counted by the service; they do not stop the pump.
func pump(ctx context.Context, rl recordLogger, r io.Reader) error {
	sc := bufio.NewScanner(r)

	for sc.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := rl.Log(ctx, sc.Text()); err != nil && !errors.Is(err, dispatcher.ErrQueueFull) {
			return err
		}
	}

	return sc.Err()
}

// generate floods count synthetic records paced at perSecond. Pacing it
// faster than the gate interval demonstrates suppression.
func generate(ctx context.Context, rl recordLogger, count int, perSecond float64) error {
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)

	for i := 0; i < count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		}

		payload := fmt.Sprintf("record %d at %s", i, time.Now().Format(time.TimeOnly))
		if err := rl.Log(ctx, payload); err != nil && !errors.Is(err, dispatcher.ErrQueueFull) {
			return err
		}
	}

	return nil
}
