package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// DefaultDurationBuckets are the upper bounds, in seconds, of the
// request_duration_seconds histogram.
var DefaultDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// AggregatorConfig contains configuration for the Aggregator.
type AggregatorConfig struct {
	// SampleCapacity is the size of the recent-latency window (default: 10000)
	SampleCapacity int

	// DurationBuckets are histogram upper bounds in seconds (default: DefaultDurationBuckets)
	DurationBuckets []float64

	// HistogramMax is the largest latency tracked by the lifetime HDR
	// histogram, in microseconds (default: 1 hour)
	HistogramMax int64
}

// DefaultAggregatorConfig returns the default configuration.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		SampleCapacity:  DefaultSampleCapacity,
		DurationBuckets: DefaultDurationBuckets,
		HistogramMax:    3600000000,
	}
}

type seriesKey struct {
	method string
	class  StatusClass
}

type requestKey struct {
	status string
	method string
}

type durationHistogram struct {
	counts []uint64
	count  uint64
	sum    float64
}

// Aggregator accumulates request outcomes reported concurrently by VUs.
//
// # Thread Safety
//
// Record takes a single mutex for a handful of O(1) updates; VU and phase
// gauges are atomics. Snapshot copies state under the same mutex and sorts
// the latency copy after releasing it, so a snapshot never stalls
// recording for longer than a copy of the window.
type Aggregator struct {
	mu sync.Mutex

	total     int64
	classes   [5]int64
	codes     map[int]int64
	methods   map[string]int64
	requests  map[requestKey]int64
	durations map[seriesKey]*durationHistogram
	sent      map[string]int64
	received  map[seriesKey]int64
	sentTotal int64
	recvTotal int64

	window *LatencyWindow

	// Lifetime latency in microseconds
	hist *hdrhistogram.Histogram

	buckets []float64

	start         time.Time
	lastSnapAt    time.Time
	lastSnapTotal int64

	activeVUs atomic.Int32
	targetVUs atomic.Int32
	phase     atomic.Int32
}

// NewAggregator creates an Aggregator with the given configuration.
func NewAggregator(config AggregatorConfig) *Aggregator {
	defaults := DefaultAggregatorConfig()
	if config.SampleCapacity <= 0 {
		config.SampleCapacity = defaults.SampleCapacity
	}
	if len(config.DurationBuckets) == 0 {
		config.DurationBuckets = defaults.DurationBuckets
	}
	if config.HistogramMax <= 0 {
		config.HistogramMax = defaults.HistogramMax
	}

	buckets := append([]float64(nil), config.DurationBuckets...)
	sort.Float64s(buckets)

	now := time.Now()
	return &Aggregator{
		codes:      make(map[int]int64),
		methods:    make(map[string]int64),
		requests:   make(map[requestKey]int64),
		durations:  make(map[seriesKey]*durationHistogram),
		sent:       make(map[string]int64),
		received:   make(map[seriesKey]int64),
		window:     NewLatencyWindow(config.SampleCapacity),
		hist:       hdrhistogram.New(1, config.HistogramMax, 3),
		buckets:    buckets,
		start:      now,
		lastSnapAt: now,
	}
}

// Start marks the beginning of the measurement; RPS windows are measured
// from this point.
func (a *Aggregator) Start(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.start = t
	a.lastSnapAt = t
	a.lastSnapTotal = a.total
}

// Record adds a single outcome.
func (a *Aggregator) Record(o Outcome) {
	class := o.Class()
	sk := seriesKey{method: o.Method, class: class}
	rk := requestKey{status: o.StatusLabel(), method: o.Method}
	seconds := o.Latency.Seconds()

	latencyMicros := o.Latency.Microseconds()
	if latencyMicros < 1 {
		latencyMicros = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.classes[classIndex(class)]++
	if o.Err == nil && o.StatusCode != 0 {
		a.codes[o.StatusCode]++
	}
	a.methods[o.Method]++
	a.requests[rk]++

	h := a.durations[sk]
	if h == nil {
		h = &durationHistogram{counts: make([]uint64, len(a.buckets))}
		a.durations[sk] = h
	}
	h.count++
	h.sum += seconds
	for i, ub := range a.buckets {
		if seconds <= ub {
			h.counts[i]++
			break
		}
	}

	a.sent[o.Method] += o.BytesSent
	a.received[sk] += o.BytesReceived
	a.sentTotal += o.BytesSent
	a.recvTotal += o.BytesReceived

	a.window.Add(o.Latency)

	if latencyMicros > a.hist.HighestTrackableValue() {
		latencyMicros = a.hist.HighestTrackableValue()
	}
	_ = a.hist.RecordValue(latencyMicros)
}

// SetPhase updates the current test phase.
func (a *Aggregator) SetPhase(p Phase) {
	idx := p.Index()
	if idx < 0 {
		return
	}
	a.phase.Store(int32(idx))
}

// Phase returns the current test phase.
func (a *Aggregator) Phase() Phase {
	return Phases[a.phase.Load()]
}

// SetActiveVUs updates the live VU gauge.
func (a *Aggregator) SetActiveVUs(n int) {
	a.activeVUs.Store(int32(n))
}

// ActiveVUs returns the live VU gauge.
func (a *Aggregator) ActiveVUs() int {
	return int(a.activeVUs.Load())
}

// SetTargetVUs updates the scheduler target gauge.
func (a *Aggregator) SetTargetVUs(n int) {
	a.targetVUs.Store(int32(n))
}

// TargetVUs returns the scheduler target gauge.
func (a *Aggregator) TargetVUs() int {
	return int(a.targetVUs.Load())
}

// Total returns the number of recorded outcomes.
func (a *Aggregator) Total() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Snapshot returns a point-in-time view of all metrics.
//
// RequestsPerSecond covers the interval since the previous Snapshot call,
// so every call advances the rate window.
func (a *Aggregator) Snapshot() *Snapshot {
	now := time.Now()

	a.mu.Lock()
	snap := &Snapshot{
		Timestamp:          now,
		Elapsed:            now.Sub(a.start),
		TotalRequests:      a.total,
		StatusClasses:      make(map[StatusClass]int64, len(StatusClasses)),
		StatusCodes:        make(map[int]int64, len(a.codes)),
		Methods:            make(map[string]int64, len(a.methods)),
		Requests:           make([]RequestCount, 0, len(a.requests)),
		Durations:          make([]DurationHistogram, 0, len(a.durations)),
		BytesSent:          make([]ByteCount, 0, len(a.sent)),
		BytesReceived:      make([]ByteCount, 0, len(a.received)),
		TotalBytesSent:     a.sentTotal,
		TotalBytesReceived: a.recvTotal,
	}
	for i, c := range StatusClasses {
		snap.StatusClasses[c] = a.classes[i]
	}
	for code, n := range a.codes {
		snap.StatusCodes[code] = n
	}
	for m, n := range a.methods {
		snap.Methods[m] = n
	}
	for k, n := range a.requests {
		snap.Requests = append(snap.Requests, RequestCount{Status: k.status, Method: k.method, Count: n})
	}
	for k, h := range a.durations {
		snap.Durations = append(snap.Durations, a.cumulative(k, h))
	}
	for m, n := range a.sent {
		snap.BytesSent = append(snap.BytesSent, ByteCount{Method: m, Bytes: n})
	}
	for k, n := range a.received {
		snap.BytesReceived = append(snap.BytesReceived, ByteCount{Method: k.method, Class: k.class, Bytes: n})
	}

	samples := a.window.AppendTo(make([]time.Duration, 0, a.window.Len()))
	if a.hist.TotalCount() > 0 {
		snap.Latency.MinMs = float64(a.hist.Min()) / 1000
		snap.Latency.MaxMs = float64(a.hist.Max()) / 1000
		snap.Latency.MeanMs = a.hist.Mean() / 1000
	}

	window := now.Sub(a.lastSnapAt)
	delta := a.total - a.lastSnapTotal
	a.lastSnapAt = now
	a.lastSnapTotal = a.total
	a.mu.Unlock()

	snap.ElapsedSeconds = snap.Elapsed.Seconds()
	snap.SuccessfulRequests = snap.StatusClasses[Class2xx] + snap.StatusClasses[Class3xx]
	snap.FailedRequests = snap.TotalRequests - snap.SuccessfulRequests
	snap.SuccessRate = 100
	if snap.TotalRequests > 0 {
		snap.SuccessRate = float64(snap.SuccessfulRequests) / float64(snap.TotalRequests) * 100
	}
	if window > 0 {
		snap.RequestsPerSecond = float64(delta) / window.Seconds()
	}
	if snap.Elapsed > 0 {
		snap.AverageRPS = float64(snap.TotalRequests) / snap.Elapsed.Seconds()
	}

	sortDurations(samples)
	snap.Latency.Samples = len(samples)
	snap.Latency.P50Ms = toMillis(Percentile(samples, 50))
	snap.Latency.P90Ms = toMillis(Percentile(samples, 90))
	snap.Latency.P95Ms = toMillis(Percentile(samples, 95))
	snap.Latency.P99Ms = toMillis(Percentile(samples, 99))

	sortSeries(snap)

	snap.ActiveVUs = a.ActiveVUs()
	snap.TargetVUs = a.TargetVUs()
	snap.Phase = a.Phase()

	return snap
}

// cumulative converts per-bucket counts into cumulative buckets.
// Callers must hold a.mu.
func (a *Aggregator) cumulative(k seriesKey, h *durationHistogram) DurationHistogram {
	out := DurationHistogram{
		Method:  k.method,
		Class:   k.class,
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make([]Bucket, len(a.buckets)),
	}
	var running uint64
	for i, ub := range a.buckets {
		running += h.counts[i]
		out.Buckets[i] = Bucket{UpperBound: ub, CumulativeCount: running}
	}
	return out
}

// sortSeries orders labelled series so equal snapshots compare equal.
func sortSeries(s *Snapshot) {
	sort.Slice(s.Requests, func(i, j int) bool {
		if s.Requests[i].Method != s.Requests[j].Method {
			return s.Requests[i].Method < s.Requests[j].Method
		}
		return s.Requests[i].Status < s.Requests[j].Status
	})
	sort.Slice(s.Durations, func(i, j int) bool {
		if s.Durations[i].Method != s.Durations[j].Method {
			return s.Durations[i].Method < s.Durations[j].Method
		}
		return s.Durations[i].Class < s.Durations[j].Class
	})
	sort.Slice(s.BytesSent, func(i, j int) bool { return s.BytesSent[i].Method < s.BytesSent[j].Method })
	sort.Slice(s.BytesReceived, func(i, j int) bool {
		if s.BytesReceived[i].Method != s.BytesReceived[j].Method {
			return s.BytesReceived[i].Method < s.BytesReceived[j].Method
		}
		return s.BytesReceived[i].Class < s.BytesReceived[j].Class
	})
}

