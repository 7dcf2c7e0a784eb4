package export_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"

	"github.com/wesleyorama2/forgy/internal/config"
	"github.com/wesleyorama2/forgy/internal/performance/export"
	"github.com/wesleyorama2/forgy/internal/performance/metrics"
)

func testSnapshot() *metrics.Snapshot {
	agg := metrics.NewAggregator(metrics.DefaultAggregatorConfig())
	for i := 0; i < 3; i++ {
		agg.Record(metrics.Outcome{Method: "GET", StatusCode: 200, Latency: 20 * time.Millisecond, BytesSent: 100, BytesReceived: 300})
	}
	agg.Record(metrics.Outcome{Method: "GET", Latency: time.Second, Err: errors.New("timeout")})
	agg.SetActiveVUs(4)
	agg.SetTargetVUs(5)
	agg.SetPhase(metrics.PhaseHold)
	return agg.Snapshot()
}

func newRegistry(t *testing.T, c *export.Collector) *prometheus.Registry {
	t.Helper()
	reg, err := export.NewRegistry(c)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func newExporter(t *testing.T, source export.SnapshotSource, sink export.Sink, config export.Config) *export.Exporter {
	t.Helper()
	e, err := export.New(source, sink, config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func labelMap(labels []prompb.Label) map[string]string {
	m := make(map[string]string, len(labels))
	for _, l := range labels {
		m[l.Name] = l.Value
	}
	return m
}

func TestCollector_Gather(t *testing.T) {
	c := export.NewCollector("forgy")
	reg := newRegistry(t, c)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) != 0 {
		t.Errorf("Gather() before Update = %d families, want 0", len(families))
	}

	c.Update(testSnapshot())
	families, err = reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	byName := make(map[string]int)
	for _, mf := range families {
		byName[mf.GetName()] = len(mf.GetMetric())
	}

	want := map[string]int{
		"forgy_requests_total":           2, // status=200, status=error
		"forgy_request_duration_seconds": 2, // 2xx, error
		"forgy_active_vus":               1,
		"forgy_target_vus":               1,
		"forgy_success_rate":             1,
		"forgy_requests_per_second":      1,
		"forgy_response_time_p50_ms":     1,
		"forgy_response_time_p99_ms":     1,
		"forgy_phase":                    len(metrics.Phases),
		"forgy_data_sent_bytes":          1,
		"forgy_data_received_bytes":      2,
	}
	for name, n := range want {
		if byName[name] != n {
			t.Errorf("%s series = %d, want %d", name, byName[name], n)
		}
	}

	for _, mf := range families {
		if mf.GetName() != "forgy_phase" {
			continue
		}
		for _, m := range mf.GetMetric() {
			phase := m.GetLabel()[0].GetValue()
			want := 0.0
			if phase == string(metrics.PhaseHold) {
				want = 1
			}
			if m.GetGauge().GetValue() != want {
				t.Errorf("phase{%s} = %v, want %v", phase, m.GetGauge().GetValue(), want)
			}
		}
	}
}

func TestRemoteWriteSink_Push(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		decoded prompb.WriteRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()

		compressed, _ := io.ReadAll(r.Body)
		raw, err := snappy.Decode(nil, compressed)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := decoded.Unmarshal(raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := export.NewCollector("")
	c.Update(testSnapshot())
	sink := export.NewRemoteWriteSink(server.URL+"/api/v1/write", "checkout", server.Client())

	if err := sink.Push(context.Background(), newRegistry(t, c)); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if got := headers.Get("Content-Type"); got != "application/x-protobuf" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := headers.Get("Content-Encoding"); got != "snappy" {
		t.Errorf("Content-Encoding = %q", got)
	}
	if got := headers.Get("X-Prometheus-Remote-Write-Version"); got != "0.1.0" {
		t.Errorf("X-Prometheus-Remote-Write-Version = %q", got)
	}

	if len(decoded.Timeseries) == 0 {
		t.Fatal("no time series received")
	}

	var sawInf, sawCount, sawRequests bool
	ts := decoded.Timeseries[0].Samples[0].Timestamp
	for _, series := range decoded.Timeseries {
		labels := labelMap(series.Labels)
		if labels["job"] != "checkout" {
			t.Errorf("series %v has job %q, want checkout", labels, labels["job"])
		}
		for i := 1; i < len(series.Labels); i++ {
			if series.Labels[i-1].Name >= series.Labels[i].Name {
				t.Errorf("labels not sorted: %v", series.Labels)
			}
		}
		if series.Samples[0].Timestamp != ts {
			t.Errorf("timestamp = %d, want %d for every series in one push", series.Samples[0].Timestamp, ts)
		}

		switch labels["__name__"] {
		case "request_duration_seconds_bucket":
			if labels["le"] == "+Inf" && labels["status_class"] == "2xx" {
				sawInf = true
				if series.Samples[0].Value != 3 {
					t.Errorf("+Inf bucket = %v, want 3", series.Samples[0].Value)
				}
			}
		case "request_duration_seconds_count":
			sawCount = true
		case "requests_total":
			if labels["status"] == "200" && labels["method"] == "GET" {
				sawRequests = true
				if series.Samples[0].Value != 3 {
					t.Errorf("requests_total{200,GET} = %v, want 3", series.Samples[0].Value)
				}
			}
		}
	}
	if !sawInf || !sawCount || !sawRequests {
		t.Errorf("missing series: +Inf=%v count=%v requests=%v", sawInf, sawCount, sawRequests)
	}
}

func TestRemoteWriteSink_TimestampsIncrease(t *testing.T) {
	var (
		mu    sync.Mutex
		times []int64
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		compressed, _ := io.ReadAll(r.Body)
		raw, _ := snappy.Decode(nil, compressed)
		var req prompb.WriteRequest
		req.Unmarshal(raw)
		mu.Lock()
		times = append(times, req.Timeseries[0].Samples[0].Timestamp)
		mu.Unlock()
	}))
	defer server.Close()

	c := export.NewCollector("")
	c.Update(testSnapshot())
	reg := newRegistry(t, c)
	sink := export.NewRemoteWriteSink(server.URL, "forgy", server.Client())

	for i := 0; i < 5; i++ {
		if err := sink.Push(context.Background(), reg); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			t.Errorf("timestamp[%d] = %d, not after %d", i, times[i], times[i-1])
		}
	}
}

func TestRemoteWriteSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of order sample", http.StatusBadRequest)
	}))
	defer server.Close()

	c := export.NewCollector("")
	c.Update(testSnapshot())
	sink := export.NewRemoteWriteSink(server.URL, "forgy", server.Client())

	err := sink.Push(context.Background(), newRegistry(t, c))
	if err == nil {
		t.Fatal("Push() error = nil, want status error")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "out of order sample") {
		t.Errorf("Push() error = %v, want status and body", err)
	}
}

func TestPushgatewaySink_Push(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := export.NewCollector("")
	c.Update(testSnapshot())
	sink := export.NewPushgatewaySink(server.URL, "checkout", server.Client())

	if err := sink.Push(context.Background(), newRegistry(t, c)); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if method != http.MethodPost {
		t.Errorf("method = %s, want POST", method)
	}
	if path != "/metrics/job/checkout" {
		t.Errorf("path = %s, want /metrics/job/checkout", path)
	}
	for _, want := range []string{
		`requests_total{method="GET",status="200"} 3`,
		`active_vus 4`,
		`target_vus 5`,
		`phase{phase="hold"} 1`,
		`request_duration_seconds_bucket{method="GET",status_class="2xx",le="+Inf"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q\n%s", want, body)
		}
	}
}

func TestNewSink(t *testing.T) {
	tests := []struct {
		kind     config.ExportKind
		wantName string
		wantErr  bool
	}{
		{config.ExportNone, "", false},
		{config.ExportRemoteWrite, "remote-write", false},
		{config.ExportPushgateway, "pushgateway", false},
		{"kafka", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			sink, err := export.NewSink(config.ExportConfig{Kind: tt.kind, URL: "http://localhost:9090", Label: "forgy"}, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSink() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantName == "" {
				if sink != nil {
					t.Errorf("NewSink() = %v, want nil", sink)
				}
				return
			}
			if sink.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", sink.Name(), tt.wantName)
			}
		})
	}
}

// fakeSink counts pushes and optionally fails or blocks.
type fakeSink struct {
	pushes atomic.Int32
	fail   bool
	block  bool
	ctxErr chan error
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Push(ctx context.Context, g prometheus.Gatherer) error {
	s.pushes.Add(1)
	if _, err := g.Gather(); err != nil {
		return err
	}
	if s.block {
		<-ctx.Done()
		s.ctxErr <- ctx.Err()
		return ctx.Err()
	}
	if s.fail {
		return errors.New("connection refused")
	}
	return nil
}

type staticSource struct{ calls atomic.Int32 }

func (s *staticSource) Snapshot() *metrics.Snapshot {
	s.calls.Add(1)
	return testSnapshot()
}

func TestExporter_RunPushesEveryInterval(t *testing.T) {
	sink := &fakeSink{}
	source := &staticSource{}
	e := newExporter(t, source, sink, export.Config{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if n := sink.pushes.Load(); n < 3 {
		t.Errorf("pushes = %d, want at least 3", n)
	}
	if stats := e.Stats(); stats.Pushes != int64(sink.pushes.Load()) || stats.Failures != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
	if source.calls.Load() != sink.pushes.Load() {
		t.Errorf("snapshots = %d, pushes = %d, want one snapshot per push", source.calls.Load(), sink.pushes.Load())
	}
}

func TestExporter_FailuresAreCounted(t *testing.T) {
	sink := &fakeSink{fail: true}
	e := newExporter(t, &staticSource{}, sink, export.Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, push failures must not surface", err)
	}

	stats := e.Stats()
	if stats.Failures == 0 || stats.Failures != stats.Pushes {
		t.Errorf("Stats() = %+v, want every push failed", stats)
	}
	if stats.LastError != "connection refused" {
		t.Errorf("LastError = %q", stats.LastError)
	}
	if stats.Sink != "fake" {
		t.Errorf("Sink = %q, want fake", stats.Sink)
	}
}

func TestExporter_PushTimeoutIndependentOfRun(t *testing.T) {
	sink := &fakeSink{block: true, ctxErr: make(chan error, 1)}
	e := newExporter(t, &staticSource{}, sink, export.Config{Timeout: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Push(ctx, testSnapshot()) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-sink.ctxErr:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("push ctx error = %v, want DeadlineExceeded (not Canceled)", err)
		}
	case <-time.After(time.Second):
		t.Fatal("push did not time out")
	}
	if err := <-done; err == nil {
		t.Error("Push() error = nil, want timeout")
	}
}

func TestExporter_Flush(t *testing.T) {
	sink := &fakeSink{}
	e := newExporter(t, &staticSource{}, sink, export.Config{})

	e.Flush(testSnapshot())
	if sink.pushes.Load() != 1 {
		t.Errorf("pushes = %d, want 1", sink.pushes.Load())
	}
}

func TestNew_InvalidNamespace(t *testing.T) {
	_, err := export.New(&staticSource{}, &fakeSink{}, export.Config{Namespace: "bad\xff"})
	if err == nil {
		t.Fatal("New() error = nil, want invalid metric name")
	}
	if !strings.Contains(err.Error(), "register collector") {
		t.Errorf("New() error = %v", err)
	}
}
