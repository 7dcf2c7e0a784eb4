// Package export pushes live load test metrics to Prometheus-compatible
// sinks.
package export

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wesleyorama2/forgy/internal/performance/metrics"
)

// Metric names, before the optional namespace prefix.
const (
	MetricRequestsTotal     = "requests_total"
	MetricRequestDuration   = "request_duration_seconds"
	MetricActiveVUs         = "active_vus"
	MetricTargetVUs         = "target_vus"
	MetricSuccessRate       = "success_rate"
	MetricRequestsPerSecond = "requests_per_second"
	MetricP50               = "response_time_p50_ms"
	MetricP90               = "response_time_p90_ms"
	MetricP95               = "response_time_p95_ms"
	MetricP99               = "response_time_p99_ms"
	MetricPhase             = "phase"
	MetricDataSent          = "data_sent_bytes"
	MetricDataReceived      = "data_received_bytes"
)

// Collector exposes the most recent snapshot as Prometheus metrics.
//
// It is registered once in a private registry and updated before every
// push, so each Gather reflects exactly one snapshot.
type Collector struct {
	mu   sync.RWMutex
	snap *metrics.Snapshot

	requests     *prometheus.Desc
	duration     *prometheus.Desc
	activeVUs    *prometheus.Desc
	targetVUs    *prometheus.Desc
	successRate  *prometheus.Desc
	rps          *prometheus.Desc
	p50          *prometheus.Desc
	p90          *prometheus.Desc
	p95          *prometheus.Desc
	p99          *prometheus.Desc
	phase        *prometheus.Desc
	dataSent     *prometheus.Desc
	dataReceived *prometheus.Desc
}

// NewCollector creates a collector whose metric names are prefixed with
// namespace when it is not empty.
func NewCollector(namespace string) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &Collector{
		requests:     desc(MetricRequestsTotal, "Total number of requests sent.", "status", "method"),
		duration:     desc(MetricRequestDuration, "Request latency in seconds.", "method", "status_class"),
		activeVUs:    desc(MetricActiveVUs, "Number of live virtual users."),
		targetVUs:    desc(MetricTargetVUs, "Number of virtual users the schedule asks for."),
		successRate:  desc(MetricSuccessRate, "Percentage of 2xx and 3xx responses."),
		rps:          desc(MetricRequestsPerSecond, "Request rate since the previous push."),
		p50:          desc(MetricP50, "50th percentile latency over recent requests, in milliseconds."),
		p90:          desc(MetricP90, "90th percentile latency over recent requests, in milliseconds."),
		p95:          desc(MetricP95, "95th percentile latency over recent requests, in milliseconds."),
		p99:          desc(MetricP99, "99th percentile latency over recent requests, in milliseconds."),
		phase:        desc(MetricPhase, "Current test phase (1 for the active phase).", "phase"),
		dataSent:     desc(MetricDataSent, "Estimated bytes sent.", "method"),
		dataReceived: desc(MetricDataReceived, "Estimated bytes received.", "method", "status_class"),
	}
}

// Update replaces the snapshot served by Collect.
func (c *Collector) Update(snap *metrics.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = snap
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.duration
	ch <- c.activeVUs
	ch <- c.targetVUs
	ch <- c.successRate
	ch <- c.rps
	ch <- c.p50
	ch <- c.p90
	ch <- c.p95
	ch <- c.p99
	ch <- c.phase
	ch <- c.dataSent
	ch <- c.dataReceived
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap == nil {
		return
	}

	for _, r := range snap.Requests {
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(r.Count), r.Status, r.Method)
	}

	for _, h := range snap.Durations {
		buckets := make(map[float64]uint64, len(h.Buckets))
		for _, b := range h.Buckets {
			buckets[b.UpperBound] = b.CumulativeCount
		}
		ch <- prometheus.MustNewConstHistogram(c.duration, h.Count, h.Sum, buckets, h.Method, string(h.Class))
	}

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	gauge(c.activeVUs, float64(snap.ActiveVUs))
	gauge(c.targetVUs, float64(snap.TargetVUs))
	gauge(c.successRate, snap.SuccessRate)
	gauge(c.rps, snap.RequestsPerSecond)
	gauge(c.p50, snap.Latency.P50Ms)
	gauge(c.p90, snap.Latency.P90Ms)
	gauge(c.p95, snap.Latency.P95Ms)
	gauge(c.p99, snap.Latency.P99Ms)

	for _, p := range metrics.Phases {
		v := 0.0
		if p == snap.Phase {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.phase, prometheus.GaugeValue, v, string(p))
	}

	for _, b := range snap.BytesSent {
		ch <- prometheus.MustNewConstMetric(c.dataSent, prometheus.CounterValue, float64(b.Bytes), b.Method)
	}
	for _, b := range snap.BytesReceived {
		ch <- prometheus.MustNewConstMetric(c.dataReceived, prometheus.CounterValue, float64(b.Bytes), b.Method, string(b.Class))
	}
}

// NewRegistry returns a private registry holding only c. It fails when a
// metric name built from the collector's namespace is invalid.
func NewRegistry(c *Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}
	return reg, nil
}
