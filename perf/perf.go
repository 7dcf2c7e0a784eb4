package perf

import (
	"context"

	"go.uber.org/zap"

	"github.com/wesleyorama2/forgy/internal/config"
	"github.com/wesleyorama2/forgy/internal/performance/engine"
	"github.com/wesleyorama2/forgy/internal/performance/metrics"
)

// Config describes a load test.
type Config = config.TestConfig

// ExportConfig configures live metric export.
type ExportConfig = config.ExportConfig

// Header is a request header.
type Header = config.Header

// Result is the outcome of a load test.
type Result = engine.Result

// Snapshot is a point-in-time view of the test metrics.
type Snapshot = metrics.Snapshot

// Export kinds.
const (
	ExportNone        = config.ExportNone
	ExportRemoteWrite = config.ExportRemoteWrite
	ExportPushgateway = config.ExportPushgateway
)

// ErrAlreadyRunning is returned when a Runner is started twice at once.
var ErrAlreadyRunning = engine.ErrAlreadyRunning

// DefaultConfig returns a configuration with every default applied. The URL
// must still be set.
func DefaultConfig() *Config {
	return config.Default()
}

// Runner runs load tests for one configuration. It may be run repeatedly,
// but not concurrently.
//
//	runner, _ := perf.NewRunner(cfg, perf.WithLogger(logger))
//	result, _ := runner.Run(context.Background())
type Runner struct {
	engine *engine.Engine
}

// Option configures a Runner.
type Option func(*runnerOptions)

type runnerOptions struct {
	logger *zap.Logger
}

// WithLogger sets the logger used during the test. Logs are discarded by
// default.
func WithLogger(logger *zap.Logger) Option {
	return func(o *runnerOptions) {
		o.logger = logger
	}
}

// NewRunner validates cfg and creates a Runner.
func NewRunner(cfg *Config, opts ...Option) (*Runner, error) {
	var o runnerOptions
	for _, opt := range opts {
		opt(&o)
	}

	eng, err := engine.New(cfg, engine.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	return &Runner{engine: eng}, nil
}

// Run executes the test and blocks until it finishes or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	return r.engine.Run(ctx)
}

// Run validates cfg and executes a single test.
func Run(ctx context.Context, cfg *Config, opts ...Option) (*Result, error) {
	runner, err := NewRunner(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx)
}
