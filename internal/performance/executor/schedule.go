// Package executor drives the VU pool through the ramp-up, hold and
// ramp-down load profile.
package executor

import (
	"time"

	"github.com/wesleyorama2/forgy/internal/performance/metrics"
)

// Schedule is the three-phase load profile. It is a pure function of the
// time elapsed since the test started.
type Schedule struct {
	VUs      int
	RampUp   time.Duration
	Hold     time.Duration
	RampDown time.Duration
}

// Total returns the length of the whole profile.
func (s Schedule) Total() time.Duration {
	return s.RampUp + s.Hold + s.RampDown
}

// At returns the phase and target VU count at the given elapsed time.
//
// Ramps interpolate linearly and round to the nearest VU. Zero-length
// phases are never current: with no ramp-up the test starts in hold at the
// full target, and with no hold ramp-down follows ramp-up directly.
func (s Schedule) At(elapsed time.Duration) (metrics.Phase, int) {
	if elapsed < 0 {
		return metrics.PhaseIdle, 0
	}

	if elapsed < s.RampUp {
		progress := float64(elapsed) / float64(s.RampUp)
		return metrics.PhaseRampUp, interpolate(0, s.VUs, progress)
	}
	elapsed -= s.RampUp

	if elapsed < s.Hold {
		return metrics.PhaseHold, s.VUs
	}
	elapsed -= s.Hold

	if elapsed < s.RampDown {
		progress := float64(elapsed) / float64(s.RampDown)
		return metrics.PhaseRampDown, interpolate(s.VUs, 0, progress)
	}

	return metrics.PhaseDone, 0
}

// interpolate returns the value between from and to at progress (0 to 1),
// rounded to nearest.
func interpolate(from, to int, progress float64) int {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	v := float64(from) + float64(to-from)*progress
	return int(v + 0.5)
}
