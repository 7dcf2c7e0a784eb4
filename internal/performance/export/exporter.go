package export

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wesleyorama2/forgy/internal/performance/metrics"
)

// Defaults for Config.
const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// SnapshotSource produces metric snapshots.
type SnapshotSource interface {
	Snapshot() *metrics.Snapshot
}

// Config contains configuration for the Exporter.
type Config struct {
	// Interval between pushes (default: 10s)
	Interval time.Duration

	// Timeout bounds each push independently of the run (default: 5s)
	Timeout time.Duration

	// Namespace prefixes metric names
	Namespace string

	Logger *zap.Logger
}

// Stats summarizes exporter activity.
type Stats struct {
	Sink      string    `json:"sink" yaml:"sink"`
	Pushes    int64     `json:"pushes" yaml:"pushes"`
	Failures  int64     `json:"failures" yaml:"failures"`
	LastPush  time.Time `json:"last_push,omitempty" yaml:"last_push,omitempty"`
	LastError string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Exporter periodically pushes snapshots to a Sink.
//
// Push failures are logged and counted but never returned to the caller:
// the next interval simply tries again.
type Exporter struct {
	source    SnapshotSource
	sink      Sink
	collector *Collector
	registry  *prometheus.Registry
	config    Config
	logger    *zap.Logger

	// Serializes pushes so the collector holds one snapshot per Gather
	pushMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// New creates an exporter that reads from source and pushes to sink.
// It fails when config.Namespace does not yield valid metric names.
func New(source SnapshotSource, sink Sink, config Config) (*Exporter, error) {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	collector := NewCollector(config.Namespace)
	registry, err := NewRegistry(collector)
	if err != nil {
		return nil, err
	}
	return &Exporter{
		source:    source,
		sink:      sink,
		collector: collector,
		registry:  registry,
		config:    config,
		logger:    logger.With(zap.String("component", "exporter"), zap.String("sink", sink.Name())),
		stats:     Stats{Sink: sink.Name()},
	}, nil
}

// Run pushes a fresh snapshot every interval until ctx is cancelled.
// A push in progress when ctx is cancelled runs to its own deadline.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Push(ctx, e.source.Snapshot())
		}
	}
}

// Push sends snap to the sink under the push timeout. The timeout is not
// tied to ctx's cancellation, only to its values.
//
// Returns the push error, which has already been logged and counted.
func (e *Exporter) Push(ctx context.Context, snap *metrics.Snapshot) error {
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Timeout)
	defer cancel()

	e.pushMu.Lock()
	e.collector.Update(snap)
	err := e.sink.Push(pushCtx, e.registry)
	e.pushMu.Unlock()

	e.statsMu.Lock()
	e.stats.Pushes++
	e.stats.LastPush = time.Now()
	if err != nil {
		e.stats.Failures++
		e.stats.LastError = err.Error()
	}
	e.statsMu.Unlock()

	if err != nil {
		e.logger.Warn("metrics push failed",
			zap.Int64("total_requests", snap.TotalRequests),
			zap.Error(err),
		)
		return err
	}

	e.logger.Debug("metrics pushed",
		zap.Int64("total_requests", snap.TotalRequests),
		zap.Int("active_vus", snap.ActiveVUs),
		zap.String("phase", string(snap.Phase)),
	)
	return nil
}

// Flush pushes the final snapshot after the run has ended.
func (e *Exporter) Flush(snap *metrics.Snapshot) {
	_ = e.Push(context.Background(), snap)
}

// Stats returns a copy of the exporter statistics.
func (e *Exporter) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}
