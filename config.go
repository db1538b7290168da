package gocotb

import "os"

// ResolveXStrategy is the default resolution strategy used when converting a
// logic value containing X/Z/U/W/- bits to an integer.
type ResolveXStrategy int

const (
	ResolveXValueError ResolveXStrategy = iota
	ResolveXZeros
	ResolveXOnes
	ResolveXRandom
)

// config holds Scheduler construction options, built via the functional
// Option pattern below rather than a config struct passed by value.
type config struct {
	logger         Logger
	resolveX       ResolveXStrategy
	schedulerDebug bool
	testCompleteCB func(error)
	metrics        bool
}

// Option configures a Scheduler at construction time.
type Option interface {
	apply(*config) error
}

type optionFunc func(*config) error

func (f optionFunc) apply(c *config) error { return f(c) }

// WithLogger attaches a structured Logger to the Scheduler. The default is
// NoOpLogger.
func WithLogger(logger Logger) Option {
	return optionFunc(func(c *config) error {
		c.logger = logger
		return nil
	})
}

// WithResolveX sets the default X-resolution strategy for logic-array reads.
func WithResolveX(strategy ResolveXStrategy) Option {
	return optionFunc(func(c *config) error {
		c.resolveX = strategy
		return nil
	})
}

// WithSchedulerDebug enables verbose scheduler tracing at LevelDebug. When
// enabled, the Scheduler logs to a stderr WriterLogger, replacing any logger
// set by WithLogger regardless of the order the options are given in.
func WithSchedulerDebug(enabled bool) Option {
	return optionFunc(func(c *config) error {
		c.schedulerDebug = enabled
		return nil
	})
}

// WithTestCompleteCallback sets the function the Scheduler invokes once, at
// the end of its shutdown sequence, with any aggregated shutdown error (nil
// on a clean shutdown).
func WithTestCompleteCallback(cb func(error)) Option {
	return optionFunc(func(c *config) error {
		c.testCompleteCB = cb
		return nil
	})
}

// WithMetrics attaches a Metrics collector to the Scheduler, tracking
// resume latency and run-queue/waiters depth.
func WithMetrics(enabled bool) Option {
	return optionFunc(func(c *config) error {
		c.metrics = enabled
		return nil
	})
}

func resolveConfig(opts []Option) (*config, error) {
	cfg := &config{
		logger:         NewNoOpLogger(),
		resolveX:       ResolveXValueError,
		testCompleteCB: func(error) {},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.schedulerDebug {
		cfg.logger = NewWriterLogger(LevelDebug, os.Stderr)
	}
	return cfg, nil
}

// resolveXFromEnv reads COCOTB_RESOLVE_X and returns the matching strategy,
// defaulting to ResolveXValueError when unset or unrecognized.
func resolveXFromEnv() ResolveXStrategy {
	switch os.Getenv("COCOTB_RESOLVE_X") {
	case "ZEROS":
		return ResolveXZeros
	case "ONES":
		return ResolveXOnes
	case "RANDOM":
		return ResolveXRandom
	case "VALUE_ERROR":
		return ResolveXValueError
	default:
		return ResolveXValueError
	}
}
