package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func outcome(status int, latency time.Duration) Outcome {
	return Outcome{
		Start:         time.Now(),
		Latency:       latency,
		StatusCode:    status,
		Method:        "GET",
		BytesSent:     100,
		BytesReceived: 250,
	}
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		code int
		err  error
		want StatusClass
	}{
		{200, nil, Class2xx},
		{204, nil, Class2xx},
		{301, nil, Class3xx},
		{404, nil, Class4xx},
		{503, nil, Class5xx},
		{0, errors.New("timeout"), ClassError},
		{200, errors.New("body read"), ClassError},
		{101, nil, ClassError},
		{0, nil, ClassError},
	}

	for _, tt := range tests {
		if got := ClassOf(tt.code, tt.err); got != tt.want {
			t.Errorf("ClassOf(%d, %v) = %v, want %v", tt.code, tt.err, got, tt.want)
		}
	}
}

func TestAggregator_EmptySnapshot(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig())
	snap := agg.Snapshot()

	if snap.TotalRequests != 0 {
		t.Errorf("TotalRequests = %d, want 0", snap.TotalRequests)
	}
	if snap.SuccessRate != 100 {
		t.Errorf("SuccessRate = %v, want 100", snap.SuccessRate)
	}
	if snap.Latency.P99Ms != 0 {
		t.Errorf("P99Ms = %v, want 0", snap.Latency.P99Ms)
	}
	if snap.Phase != PhaseIdle {
		t.Errorf("Phase = %v, want %v", snap.Phase, PhaseIdle)
	}
	for _, c := range StatusClasses {
		if _, ok := snap.StatusClasses[c]; !ok {
			t.Errorf("StatusClasses missing %v", c)
		}
	}
}

func TestAggregator_Record(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig())

	agg.Record(outcome(200, 10*time.Millisecond))
	agg.Record(outcome(302, 20*time.Millisecond))
	agg.Record(outcome(404, 30*time.Millisecond))
	agg.Record(outcome(500, 40*time.Millisecond))
	agg.Record(Outcome{Latency: 50 * time.Millisecond, Method: "GET", Err: errors.New("connection refused")})

	snap := agg.Snapshot()

	if snap.TotalRequests != 5 {
		t.Errorf("TotalRequests = %d, want 5", snap.TotalRequests)
	}
	if snap.SuccessfulRequests != 2 {
		t.Errorf("SuccessfulRequests = %d, want 2", snap.SuccessfulRequests)
	}
	if snap.FailedRequests != 3 {
		t.Errorf("FailedRequests = %d, want 3", snap.FailedRequests)
	}
	if snap.SuccessRate != 40 {
		t.Errorf("SuccessRate = %v, want 40", snap.SuccessRate)
	}
	if snap.StatusClasses[ClassError] != 1 {
		t.Errorf("StatusClasses[error] = %d, want 1", snap.StatusClasses[ClassError])
	}
	if _, ok := snap.StatusCodes[0]; ok {
		t.Error("StatusCodes should not count transport errors under code 0")
	}
	if snap.StatusCodes[404] != 1 {
		t.Errorf("StatusCodes[404] = %d, want 1", snap.StatusCodes[404])
	}
	if snap.Methods["GET"] != 5 {
		t.Errorf("Methods[GET] = %d, want 5", snap.Methods["GET"])
	}
	if snap.TotalBytesSent != 400 {
		t.Errorf("TotalBytesSent = %d, want 400", snap.TotalBytesSent)
	}
	if snap.Latency.Samples != 5 {
		t.Errorf("Latency.Samples = %d, want 5", snap.Latency.Samples)
	}
	if snap.Latency.P50Ms != 30 {
		t.Errorf("P50Ms = %v, want 30", snap.Latency.P50Ms)
	}
	if snap.Latency.MinMs < 9.9 || snap.Latency.MinMs > 10.1 {
		t.Errorf("MinMs = %v, want ~10", snap.Latency.MinMs)
	}
	if snap.Latency.MaxMs < 49.9 || snap.Latency.MaxMs > 50.1 {
		t.Errorf("MaxMs = %v, want ~50", snap.Latency.MaxMs)
	}

	var errorSeries bool
	for _, rc := range snap.Requests {
		if rc.Status == "error" && rc.Count == 1 {
			errorSeries = true
		}
	}
	if !errorSeries {
		t.Error("Requests missing status=error series")
	}
}

func TestAggregator_TotalEqualsClassSum(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig())

	codes := []int{200, 201, 301, 400, 404, 500, 502, 0}
	for i := 0; i < 1000; i++ {
		code := codes[i%len(codes)]
		o := outcome(code, time.Duration(i)*time.Microsecond)
		if code == 0 {
			o.Err = errors.New("timeout")
		}
		agg.Record(o)
	}

	snap := agg.Snapshot()

	var sum int64
	for _, n := range snap.StatusClasses {
		sum += n
	}
	if sum != snap.TotalRequests {
		t.Errorf("sum of status classes = %d, want %d", sum, snap.TotalRequests)
	}

	var reqSum int64
	for _, rc := range snap.Requests {
		reqSum += rc.Count
	}
	if reqSum != snap.TotalRequests {
		t.Errorf("sum of requests series = %d, want %d", reqSum, snap.TotalRequests)
	}

	var histCount uint64
	for _, h := range snap.Durations {
		histCount += h.Count
	}
	if int64(histCount) != snap.TotalRequests {
		t.Errorf("sum of histogram counts = %d, want %d", histCount, snap.TotalRequests)
	}
}

func TestAggregator_PercentilesOrdered(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{SampleCapacity: 500})

	for i := 0; i < 2000; i++ {
		agg.Record(outcome(200, time.Duration((i*7919)%1000+1)*time.Millisecond))
	}

	snap := agg.Snapshot()
	l := snap.Latency

	if !(l.P50Ms <= l.P90Ms && l.P90Ms <= l.P95Ms && l.P95Ms <= l.P99Ms) {
		t.Errorf("percentiles not ordered: p50=%v p90=%v p95=%v p99=%v", l.P50Ms, l.P90Ms, l.P95Ms, l.P99Ms)
	}
	if l.Samples != 500 {
		t.Errorf("Samples = %d, want 500", l.Samples)
	}
}

func TestAggregator_DurationBuckets(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig())

	agg.Record(outcome(200, 3*time.Millisecond))
	agg.Record(outcome(200, 200*time.Millisecond))
	agg.Record(outcome(200, 20*time.Second))

	snap := agg.Snapshot()
	if len(snap.Durations) != 1 {
		t.Fatalf("Durations len = %d, want 1", len(snap.Durations))
	}

	h := snap.Durations[0]
	if h.Class != Class2xx || h.Method != "GET" {
		t.Errorf("series = %s/%s, want GET/2xx", h.Method, h.Class)
	}
	if h.Count != 3 {
		t.Errorf("Count = %d, want 3", h.Count)
	}
	if len(h.Buckets) != len(DefaultDurationBuckets) {
		t.Fatalf("Buckets len = %d, want %d", len(h.Buckets), len(DefaultDurationBuckets))
	}

	want := map[float64]uint64{0.001: 0, 0.005: 1, 0.25: 2, 10: 2}
	for _, b := range h.Buckets {
		if w, ok := want[b.UpperBound]; ok && b.CumulativeCount != w {
			t.Errorf("bucket le=%v = %d, want %d", b.UpperBound, b.CumulativeCount, w)
		}
	}
}

func TestAggregator_SnapshotIsCopy(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig())
	agg.Record(outcome(200, time.Millisecond))

	snap := agg.Snapshot()
	agg.Record(outcome(500, time.Millisecond))

	if snap.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", snap.TotalRequests)
	}
	if snap.StatusClasses[Class5xx] != 0 {
		t.Errorf("StatusClasses[5xx] = %d, want 0", snap.StatusClasses[Class5xx])
	}
}

func TestAggregator_SnapshotWithoutNewRecords(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig())
	agg.Record(outcome(200, 5*time.Millisecond))
	agg.Record(outcome(404, 15*time.Millisecond))

	first := agg.Snapshot()
	time.Sleep(10 * time.Millisecond)
	second := agg.Snapshot()

	if first.TotalRequests != second.TotalRequests {
		t.Errorf("TotalRequests changed: %d -> %d", first.TotalRequests, second.TotalRequests)
	}
	if first.Latency != second.Latency {
		t.Errorf("Latency changed: %+v -> %+v", first.Latency, second.Latency)
	}
	if first.SuccessRate != second.SuccessRate {
		t.Errorf("SuccessRate changed: %v -> %v", first.SuccessRate, second.SuccessRate)
	}
	if second.RequestsPerSecond != 0 {
		t.Errorf("RequestsPerSecond = %v, want 0 with no new records", second.RequestsPerSecond)
	}
}

func TestAggregator_WindowedRPS(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig())
	agg.Start(time.Now())
	agg.Snapshot()

	for i := 0; i < 50; i++ {
		agg.Record(outcome(200, time.Millisecond))
	}
	time.Sleep(100 * time.Millisecond)

	snap := agg.Snapshot()
	// 50 requests over ~100ms
	if snap.RequestsPerSecond < 100 || snap.RequestsPerSecond > 600 {
		t.Errorf("RequestsPerSecond = %v, want ~500", snap.RequestsPerSecond)
	}
	if snap.AverageRPS <= 0 {
		t.Errorf("AverageRPS = %v, want > 0", snap.AverageRPS)
	}
}

func TestAggregator_Gauges(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig())

	agg.SetActiveVUs(7)
	agg.SetTargetVUs(10)
	agg.SetPhase(PhaseHold)

	snap := agg.Snapshot()
	if snap.ActiveVUs != 7 {
		t.Errorf("ActiveVUs = %d, want 7", snap.ActiveVUs)
	}
	if snap.TargetVUs != 10 {
		t.Errorf("TargetVUs = %d, want 10", snap.TargetVUs)
	}
	if snap.Phase != PhaseHold {
		t.Errorf("Phase = %v, want %v", snap.Phase, PhaseHold)
	}

	agg.SetPhase(Phase("bogus"))
	if agg.Phase() != PhaseHold {
		t.Errorf("Phase after unknown = %v, want %v", agg.Phase(), PhaseHold)
	}
}

func TestAggregator_ConcurrentRecord(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{SampleCapacity: 1000})

	const workers = 20
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				code := 200
				if i%10 == 0 {
					code = 503
				}
				agg.Record(outcome(code, time.Duration(w+i)*time.Microsecond))
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				agg.Snapshot()
			}
		}
	}()

	wg.Wait()
	close(done)

	snap := agg.Snapshot()
	if snap.TotalRequests != workers*perWorker {
		t.Errorf("TotalRequests = %d, want %d", snap.TotalRequests, workers*perWorker)
	}
	if snap.StatusClasses[Class5xx] != workers*perWorker/10 {
		t.Errorf("StatusClasses[5xx] = %d, want %d", snap.StatusClasses[Class5xx], workers*perWorker/10)
	}
	if snap.Latency.Samples != 1000 {
		t.Errorf("Latency.Samples = %d, want 1000", snap.Latency.Samples)
	}
}
