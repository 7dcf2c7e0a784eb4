package metrics

import (
	"math"
	"sort"
	"time"
)

// DefaultSampleCapacity is the default number of recent latencies kept for
// percentile estimation.
const DefaultSampleCapacity = 10000

// LatencyWindow is a fixed-capacity ring of the most recent latencies.
//
// Once full, each Add overwrites the oldest sample, so memory stays constant
// regardless of test length. LatencyWindow is not safe for concurrent use;
// the Aggregator guards it.
type LatencyWindow struct {
	buf  []time.Duration
	next int
	full bool
}

// NewLatencyWindow creates a window holding at most capacity samples.
func NewLatencyWindow(capacity int) *LatencyWindow {
	if capacity <= 0 {
		capacity = DefaultSampleCapacity
	}
	return &LatencyWindow{buf: make([]time.Duration, capacity)}
}

// Add records a latency, evicting the oldest sample when full.
func (w *LatencyWindow) Add(d time.Duration) {
	w.buf[w.next] = d
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
}

// Len returns the number of samples held.
func (w *LatencyWindow) Len() int {
	if w.full {
		return len(w.buf)
	}
	return w.next
}

// Cap returns the fixed capacity.
func (w *LatencyWindow) Cap() int {
	return len(w.buf)
}

// AppendTo appends the held samples, oldest first, to dst.
func (w *LatencyWindow) AppendTo(dst []time.Duration) []time.Duration {
	if w.full {
		dst = append(dst, w.buf[w.next:]...)
	}
	return append(dst, w.buf[:w.next]...)
}

// Percentile returns the nearest-rank q-th percentile (0 < q <= 100) of a
// sorted slice, or zero if it is empty.
func Percentile(sorted []time.Duration, q float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(q / 100 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

func sortDurations(d []time.Duration) {
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
