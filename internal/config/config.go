package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Unlimited marks maxLogsPerInterval as unset: no per-interval cap.
const Unlimited = -1

var (
	// ErrInvalidInterval is returned by Validate for a non-positive interval.
	ErrInvalidInterval = errors.New("config: interval must be positive")
	// ErrInvalidMax is returned by Validate for a cap below Unlimited.
	ErrInvalidMax = errors.New("config: maxLogsPerInterval must be >= 0, or -1 for unlimited")
	// ErrInvalidBatchSize is returned by Validate for a non-positive batch size.
	ErrInvalidBatchSize = errors.New("config: batchSize must be positive")
)

// Config holds instance-level configuration for the logging pipeline.
type Config struct {
	Interval       time.Duration
	MaxPerInterval int // Unlimited (-1) disables the per-interval cap
	Async          bool
	BatchSize      int
	QueueCapacity  int
	ThreadSafe     bool

	OutputFile      string
	LogLevel        string
	GracefulTimeout time.Duration
}

// Capped reports whether a per-interval cap is configured.
func (c Config) Capped() bool { return c.MaxPerInterval >= 0 }

// Validate applies the construction-time checks. Invalid configuration fails
// fast here rather than surfacing later in the pipeline.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, c.Interval)
	}

	if c.MaxPerInterval < Unlimited {
		return fmt.Errorf("%w: got %d", ErrInvalidMax, c.MaxPerInterval)
	}

	if c.Async && c.BatchSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchSize, c.BatchSize)
	}

	return nil
}

// RegisterFlags registers CLI flags and returns a reader that captures them
// after flag.Parse(). If -config points at a YAML file, its values fill in
// every field not explicitly set on the command line.
func RegisterFlags() func() (Config, error) {
	interval := flag.Duration("interval", time.Second, "Minimum duration between emissions (window length when capped)")
	maxPer := flag.Int("maxLogsPerInterval", Unlimited, "Max emissions per interval; -1 for unlimited, 0 suppresses everything")
	async := flag.Bool("async", false, "Queue records and gate them on a background worker")
	batchSize := flag.Int("batchSize", 10, "Records per batch in async mode")
	queueCap := flag.Int("queueCapacity", 1024, "Async queue capacity; overflow drops newest")
	threadSafe := flag.Bool("threadSafe", false, "Serialize synchronous submissions with a lock")
	outFile := flag.String("outputFile", "", "Write emissions to this rotating file instead of stdout")
	logLevel := flag.String("logLevel", "info", "Log level: debug|info|warn|error")
	graceful := flag.Duration("gracefulTimeout", 10*time.Second, "Graceful shutdown timeout")
	configFile := flag.String("config", "", "Optional YAML config file; explicit flags win over it")

	return func() (Config, error) {
		cfg := Config{
			Interval:        *interval,
			MaxPerInterval:  *maxPer,
			Async:           *async,
			BatchSize:       *batchSize,
			QueueCapacity:   *queueCap,
			ThreadSafe:      *threadSafe,
			OutputFile:      *outFile,
			LogLevel:        *logLevel,
			GracefulTimeout: *graceful,
		}

		if *configFile != "" {
			seen := map[string]bool{}
			flag.Visit(func(f *flag.Flag) { seen[f.Name] = true })

			if err := cfg.applyFile(*configFile, seen); err != nil {
				return Config{}, err
			}
		}

		return cfg, cfg.Validate()
	}
}

// fileConfig mirrors Config with optional YAML fields; durations are strings
// so the file can say "250ms" or "2s".
type fileConfig struct {
	Interval        string  `yaml:"interval"`
	MaxPerInterval  *int    `yaml:"maxLogsPerInterval"`
	Async           *bool   `yaml:"async"`
	BatchSize       *int    `yaml:"batchSize"`
	QueueCapacity   *int    `yaml:"queueCapacity"`
	ThreadSafe      *bool   `yaml:"threadSafe"`
	OutputFile      *string `yaml:"outputFile"`
	LogLevel        *string `yaml:"logLevel"`
	GracefulTimeout string  `yaml:"gracefulTimeout"`
}

// applyFile overlays file values onto c, skipping fields the command line
// set explicitly.
func (c *Config) applyFile(path string, seen map[string]bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.Interval != "" && !seen["interval"] {
		d, err := time.ParseDuration(fc.Interval)
		if err != nil {
			return fmt.Errorf("config: interval: %w", err)
		}

		c.Interval = d
	}

	if fc.GracefulTimeout != "" && !seen["gracefulTimeout"] {
		d, err := time.ParseDuration(fc.GracefulTimeout)
		if err != nil {
			return fmt.Errorf("config: gracefulTimeout: %w", err)
		}

		c.GracefulTimeout = d
	}

	if fc.MaxPerInterval != nil && !seen["maxLogsPerInterval"] {
		c.MaxPerInterval = *fc.MaxPerInterval
	}

	if fc.Async != nil && !seen["async"] {
		c.Async = *fc.Async
	}

	if fc.BatchSize != nil && !seen["batchSize"] {
		c.BatchSize = *fc.BatchSize
	}

	if fc.QueueCapacity != nil && !seen["queueCapacity"] {
		c.QueueCapacity = *fc.QueueCapacity
	}

	if fc.ThreadSafe != nil && !seen["threadSafe"] {
		c.ThreadSafe = *fc.ThreadSafe
	}

	if fc.OutputFile != nil && !seen["outputFile"] {
		c.OutputFile = *fc.OutputFile
	}

	if fc.LogLevel != nil && !seen["logLevel"] {
		c.LogLevel = *fc.LogLevel
	}

	return nil
}
