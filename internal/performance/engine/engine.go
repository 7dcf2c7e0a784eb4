// Package engine runs a complete load test: it ramps virtual users through
// the load profile, aggregates their outcomes and pushes live metrics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/forgy/internal/config"
	"github.com/wesleyorama2/forgy/internal/performance"
	"github.com/wesleyorama2/forgy/internal/performance/executor"
	"github.com/wesleyorama2/forgy/internal/performance/export"
	"github.com/wesleyorama2/forgy/internal/performance/metrics"
)

// ErrAlreadyRunning is returned by Run while another run is in progress.
var ErrAlreadyRunning = errors.New("engine is already running")

// Engine is the test driver.
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.URL = "http://localhost:8080/"
//	eng, _ := engine.New(cfg, engine.WithLogger(logger))
//	result, _ := eng.Run(ctx)
//	fmt.Printf("%d requests, %.1f%% ok\n", result.Metrics.TotalRequests, result.Metrics.SuccessRate)
type Engine struct {
	config   *config.TestConfig
	template *performance.RequestTemplate
	sink     export.Sink
	logger   *zap.Logger

	running atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards all logs.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSink replaces the sink selected by the export configuration.
func WithSink(sink export.Sink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// Result is the outcome of one run.
type Result struct {
	RunID  string `json:"run_id" yaml:"run_id"`
	Name   string `json:"name" yaml:"name"`
	URL    string `json:"url" yaml:"url"`
	Method string `json:"method" yaml:"method"`
	VUs    int    `json:"vus" yaml:"vus"`

	RampUp   time.Duration `json:"-" yaml:"-"`
	Hold     time.Duration `json:"-" yaml:"-"`
	RampDown time.Duration `json:"-" yaml:"-"`
	Profile  Profile       `json:"profile" yaml:"profile"`

	StartTime       time.Time     `json:"start_time" yaml:"start_time"`
	EndTime         time.Time     `json:"end_time" yaml:"end_time"`
	Duration        time.Duration `json:"-" yaml:"-"`
	DurationSeconds float64       `json:"duration_seconds" yaml:"duration_seconds"`

	// Interrupted is true when the run was cancelled before the profile
	// completed.
	Interrupted bool `json:"interrupted" yaml:"interrupted"`

	Metrics *metrics.Snapshot `json:"metrics" yaml:"metrics"`
	Export  *export.Stats     `json:"export,omitempty" yaml:"export,omitempty"`
}

// Profile is the configured load profile in human-readable form.
type Profile struct {
	RampUp   string `json:"ramp_up" yaml:"ramp_up"`
	Hold     string `json:"hold" yaml:"hold"`
	RampDown string `json:"ramp_down" yaml:"ramp_down"`
}

// New validates cfg and prepares an engine. Configuration errors surface
// here, before anything is started.
func New(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	template, err := performance.NewRequestTemplate(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	sink, err := export.NewSink(cfg.Export, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		config:   cfg,
		template: template,
		sink:     sink,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.sink != nil {
		if _, err := export.NewRegistry(export.NewCollector(cfg.Export.Namespace)); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return e, nil
}

// Run executes the load profile and blocks until it completes or ctx is
// cancelled. Cancellation is not an error: the partial result is returned
// with Interrupted set.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	cfg := e.config
	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", runID))

	agg := metrics.NewAggregator(metrics.AggregatorConfig{SampleCapacity: cfg.SampleCapacity})

	httpConfig := performance.DefaultHTTPClientConfig()
	httpConfig.Timeout = cfg.Timeout
	httpConfig.InsecureSkipVerify = cfg.Insecure
	pool := performance.NewPool(e.template, agg, performance.PoolConfig{
		HTTP:       httpConfig.SizedFor(cfg.VUs),
		MaxWorkers: cfg.MaxWorkers,
		Logger:     logger,
	})

	schedule := executor.Schedule{
		VUs:      cfg.VUs,
		RampUp:   cfg.RampUp,
		Hold:     cfg.Hold,
		RampDown: cfg.RampDown,
	}
	controller := executor.NewController(schedule, pool, agg, executor.ControllerConfig{
		TickInterval: cfg.TickInterval,
		Logger:       logger,
	})

	var exporter *export.Exporter
	sinkName := "none"
	if e.sink != nil {
		sinkName = e.sink.Name()
		var err error
		exporter, err = export.New(agg, e.sink, export.Config{
			Interval:  cfg.Export.Interval,
			Timeout:   cfg.Export.Timeout,
			Namespace: cfg.Export.Namespace,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Info("starting load test",
		zap.String("url", e.template.URL.String()),
		zap.String("method", e.template.Method),
		zap.Int("vus", cfg.VUs),
		zap.Duration("ramp_up", cfg.RampUp),
		zap.Duration("hold", cfg.Hold),
		zap.Duration("ramp_down", cfg.RampDown),
		zap.Duration("total", cfg.TotalDuration()),
		zap.String("sink", sinkName),
	)

	start := time.Now()
	agg.Start(start)

	exportCtx, stopExport := context.WithCancel(ctx)
	defer stopExport()

	var interrupted atomic.Bool
	var g errgroup.Group

	g.Go(func() error {
		defer stopExport()

		if err := controller.Run(ctx, start); err != nil {
			interrupted.Store(true)
		}

		// Shutdown drops every VU from the pool before draining, so the
		// active gauge goes to zero ahead of the target.
		agg.SetActiveVUs(0)
		agg.SetTargetVUs(0)

		// In-flight requests get up to one request timeout to finish.
		pool.Shutdown(cfg.Timeout)
		agg.SetPhase(metrics.PhaseDone)
		return nil
	})

	if exporter != nil {
		g.Go(func() error {
			return exporter.Run(exportCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	end := time.Now()
	snap := agg.Snapshot()

	result := &Result{
		RunID:    runID,
		Name:     cfg.Export.Label,
		URL:      e.template.URL.String(),
		Method:   e.template.Method,
		VUs:      cfg.VUs,
		RampUp:   cfg.RampUp,
		Hold:     cfg.Hold,
		RampDown: cfg.RampDown,
		Profile: Profile{
			RampUp:   cfg.RampUp.String(),
			Hold:     cfg.Hold.String(),
			RampDown: cfg.RampDown.String(),
		},
		StartTime:       start,
		EndTime:         end,
		Duration:        end.Sub(start),
		DurationSeconds: end.Sub(start).Seconds(),
		Interrupted:     interrupted.Load(),
		Metrics:         snap,
	}

	if exporter != nil {
		exporter.Flush(snap)
		stats := exporter.Stats()
		result.Export = &stats
	}

	logger.Info("load test finished",
		zap.Bool("interrupted", result.Interrupted),
		zap.Duration("duration", result.Duration),
		zap.Int64("total_requests", snap.TotalRequests),
		zap.Float64("success_rate", snap.SuccessRate),
		zap.Float64("average_rps", snap.AverageRPS),
	)

	return result, nil
}
