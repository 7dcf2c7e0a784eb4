package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/forgy/internal/performance/metrics"
)

// DefaultTickInterval is how often the controller re-evaluates the schedule.
const DefaultTickInterval = 100 * time.Millisecond

// Scaler converges the live VU count to a target.
type Scaler interface {
	// Scale returns the number of live VUs after adjusting.
	Scale(ctx context.Context, target int) int
}

// Gauges receives the controller's view of the test.
type Gauges interface {
	SetPhase(p metrics.Phase)
	SetTargetVUs(n int)
	SetActiveVUs(n int)
}

// ControllerConfig contains configuration for the Controller.
type ControllerConfig struct {
	// TickInterval between schedule evaluations (default: 100ms)
	TickInterval time.Duration

	Logger *zap.Logger
}

// Controller ticks the schedule and applies each target to the pool.
type Controller struct {
	schedule Schedule
	scaler   Scaler
	gauges   Gauges
	tick     time.Duration
	logger   *zap.Logger

	phase  metrics.Phase
	target int
}

// NewController creates a controller for the given schedule.
func NewController(schedule Schedule, scaler Scaler, gauges Gauges, config ControllerConfig) *Controller {
	tick := config.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		schedule: schedule,
		scaler:   scaler,
		gauges:   gauges,
		tick:     tick,
		logger:   logger.With(zap.String("component", "controller")),
		phase:    metrics.PhaseIdle,
	}
}

// Run applies the schedule from start until the done phase is reached or
// ctx is cancelled. The first target is applied immediately.
//
// Returns nil when the schedule completed and ctx.Err() when interrupted.
// Run leaves the pool as it is on interrupt; the caller shuts it down.
func (c *Controller) Run(ctx context.Context, start time.Time) error {
	if c.apply(ctx, time.Since(start)) {
		return nil
	}

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("load profile interrupted",
				zap.String("phase", string(c.phase)),
				zap.Duration("elapsed", time.Since(start)),
			)
			return ctx.Err()
		case <-ticker.C:
			if c.apply(ctx, time.Since(start)) {
				return nil
			}
		}
	}
}

// apply evaluates the schedule at elapsed and converges the pool.
// Returns true once the done phase is reached.
func (c *Controller) apply(ctx context.Context, elapsed time.Duration) bool {
	phase, target := c.schedule.At(elapsed)

	if phase != c.phase {
		c.logger.Info("phase transition",
			zap.String("from", string(c.phase)),
			zap.String("to", string(phase)),
			zap.Int("target_vus", target),
			zap.Duration("elapsed", elapsed),
		)
		c.phase = phase
	}

	c.gauges.SetPhase(phase)

	// Gauges are read concurrently, so order the updates to keep active at
	// or below target: raise the target first, lower it last.
	if target >= c.target {
		c.gauges.SetTargetVUs(target)
		c.gauges.SetActiveVUs(c.scaler.Scale(ctx, target))
	} else {
		c.gauges.SetActiveVUs(c.scaler.Scale(ctx, target))
		c.gauges.SetTargetVUs(target)
	}
	c.target = target

	return phase == metrics.PhaseDone
}
