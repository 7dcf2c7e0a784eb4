// Package metrics aggregates request outcomes into load test statistics.
package metrics

import (
	"strconv"
	"time"
)

// Phase represents a phase of the load test.
type Phase string

const (
	// PhaseIdle is the phase before the test starts.
	PhaseIdle Phase = "idle"

	// PhaseRampUp is the phase when the VU target is increasing.
	PhaseRampUp Phase = "rampup"

	// PhaseHold is the phase at full VU target.
	PhaseHold Phase = "hold"

	// PhaseRampDown is the phase when the VU target is decreasing.
	PhaseRampDown Phase = "rampdown"

	// PhaseDone indicates the test has completed.
	PhaseDone Phase = "done"
)

// Phases lists every phase in the order a test passes through them.
var Phases = []Phase{PhaseIdle, PhaseRampUp, PhaseHold, PhaseRampDown, PhaseDone}

// Index returns the position of the phase in Phases, or -1.
func (p Phase) Index() int {
	for i, ph := range Phases {
		if ph == p {
			return i
		}
	}
	return -1
}

// StatusClass buckets a request outcome by HTTP status family.
type StatusClass string

const (
	Class2xx   StatusClass = "2xx"
	Class3xx   StatusClass = "3xx"
	Class4xx   StatusClass = "4xx"
	Class5xx   StatusClass = "5xx"
	ClassError StatusClass = "error"
)

// StatusClasses lists every class a request can be counted under.
var StatusClasses = []StatusClass{Class2xx, Class3xx, Class4xx, Class5xx, ClassError}

// ClassOf maps a status code to its class. Any code outside 200-599 and any
// transport failure count as ClassError.
func ClassOf(statusCode int, err error) StatusClass {
	if err != nil {
		return ClassError
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Class2xx
	case statusCode >= 300 && statusCode < 400:
		return Class3xx
	case statusCode >= 400 && statusCode < 500:
		return Class4xx
	case statusCode >= 500 && statusCode < 600:
		return Class5xx
	default:
		return ClassError
	}
}

func classIndex(c StatusClass) int {
	switch c {
	case Class2xx:
		return 0
	case Class3xx:
		return 1
	case Class4xx:
		return 2
	case Class5xx:
		return 3
	default:
		return 4
	}
}

// Outcome is the result of a single request attempt.
//
// StatusCode is zero whenever Err is set: timeouts, refused connections and
// transport failures all carry an error and no status.
type Outcome struct {
	Start         time.Time
	Latency       time.Duration
	StatusCode    int
	Method        string
	BytesSent     int64
	BytesReceived int64
	Err           error
}

// Class returns the status class of the outcome.
func (o Outcome) Class() StatusClass {
	return ClassOf(o.StatusCode, o.Err)
}

// StatusLabel returns the value used for the status label of requests_total.
func (o Outcome) StatusLabel() string {
	if o.Err != nil || o.StatusCode == 0 {
		return string(ClassError)
	}
	return strconv.Itoa(o.StatusCode)
}

// Snapshot is a point-in-time view of the aggregated metrics. It is never
// mutated after creation.
type Snapshot struct {
	Timestamp      time.Time     `json:"timestamp" yaml:"timestamp"`
	Elapsed        time.Duration `json:"-" yaml:"-"`
	ElapsedSeconds float64       `json:"elapsed_seconds" yaml:"elapsed_seconds"`

	TotalRequests      int64                 `json:"total_requests" yaml:"total_requests"`
	SuccessfulRequests int64                 `json:"successful_requests" yaml:"successful_requests"`
	FailedRequests     int64                 `json:"failed_requests" yaml:"failed_requests"`
	StatusClasses      map[StatusClass]int64 `json:"status_classes" yaml:"status_classes"`
	StatusCodes        map[int]int64         `json:"status_code_distribution" yaml:"status_code_distribution"`
	Methods            map[string]int64      `json:"methods" yaml:"methods"`

	// Labelled series consumed by the exporter.
	Requests      []RequestCount      `json:"-" yaml:"-"`
	Durations     []DurationHistogram `json:"-" yaml:"-"`
	BytesSent     []ByteCount         `json:"-" yaml:"-"`
	BytesReceived []ByteCount         `json:"-" yaml:"-"`

	TotalBytesSent     int64 `json:"total_bytes_sent" yaml:"total_bytes_sent"`
	TotalBytesReceived int64 `json:"total_bytes_received" yaml:"total_bytes_received"`

	// SuccessRate is a percentage (0-100) of 2xx and 3xx responses.
	SuccessRate float64 `json:"success_rate" yaml:"success_rate"`

	// RequestsPerSecond is the rate since the previous snapshot.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// AverageRPS is the rate since the aggregator started.
	AverageRPS float64 `json:"average_rps" yaml:"average_rps"`

	Latency LatencySummary `json:"latency" yaml:"latency"`

	ActiveVUs int   `json:"active_vus" yaml:"active_vus"`
	TargetVUs int   `json:"target_vus" yaml:"target_vus"`
	Phase     Phase `json:"phase" yaml:"phase"`
}

// LatencySummary holds latency statistics in milliseconds.
//
// Percentiles come from the bounded window of recent samples; min, max and
// mean cover every request since the start.
type LatencySummary struct {
	P50Ms   float64 `json:"p50_ms" yaml:"p50_ms"`
	P90Ms   float64 `json:"p90_ms" yaml:"p90_ms"`
	P95Ms   float64 `json:"p95_ms" yaml:"p95_ms"`
	P99Ms   float64 `json:"p99_ms" yaml:"p99_ms"`
	MinMs   float64 `json:"min_ms" yaml:"min_ms"`
	MaxMs   float64 `json:"max_ms" yaml:"max_ms"`
	MeanMs  float64 `json:"mean_ms" yaml:"mean_ms"`
	Samples int     `json:"samples" yaml:"samples"`
}

// RequestCount is the request count for one status/method pair.
type RequestCount struct {
	Status string
	Method string
	Count  int64
}

// ByteCount is a byte total for one method, optionally split by class.
type ByteCount struct {
	Method string
	Class  StatusClass
	Bytes  int64
}

// DurationHistogram is a cumulative fixed-bucket latency histogram for one
// method/class pair, in seconds.
type DurationHistogram struct {
	Method  string
	Class   StatusClass
	Count   uint64
	Sum     float64
	Buckets []Bucket
}

// Bucket is a cumulative histogram bucket.
type Bucket struct {
	UpperBound      float64
	CumulativeCount uint64
}
