package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/snappy"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
)

// Remote-write protocol headers.
const (
	remoteWriteVersion     = "0.1.0"
	remoteWriteContentType = "application/x-protobuf"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// RemoteWriteSink pushes metrics to a Prometheus remote-write endpoint as a
// snappy-compressed protobuf WriteRequest.
//
// Every series carries a job label with the configured value. The URL is
// used as given.
type RemoteWriteSink struct {
	url    string
	job    string
	client *http.Client

	mu     sync.Mutex
	lastTS int64

	now func() time.Time
}

// NewRemoteWriteSink creates a remote-write sink.
func NewRemoteWriteSink(url, job string, client *http.Client) *RemoteWriteSink {
	return &RemoteWriteSink{
		url:    url,
		job:    job,
		client: client,
		now:    time.Now,
	}
}

// Name implements Sink.
func (s *RemoteWriteSink) Name() string {
	return "remote-write"
}

// Push implements Sink.
func (s *RemoteWriteSink) Push(ctx context.Context, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	req := &prompb.WriteRequest{
		Timeseries: toTimeSeries(families, s.job, s.timestamp()),
	}
	raw, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("marshal write request: %w", err)
	}
	body := snappy.Encode(nil, raw)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build remote-write request: %w", err)
	}
	httpReq.Header.Set("Content-Type", remoteWriteContentType)
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", remoteWriteVersion)
	httpReq.Header.Set("User-Agent", "forgy")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("remote-write request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("remote-write returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// timestamp returns the current time in milliseconds, strictly greater than
// the previous timestamp of this sink so receivers never see out-of-order
// samples for a series.
func (s *RemoteWriteSink) timestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

// toTimeSeries flattens gathered families into remote-write series, all
// sampled at ts. Histograms become _bucket, _count and _sum series.
func toTimeSeries(families []*dto.MetricFamily, job string, ts int64) []prompb.TimeSeries {
	var out []prompb.TimeSeries

	add := func(name string, base []*dto.LabelPair, value float64, extra ...prompb.Label) {
		labels := make([]prompb.Label, 0, len(base)+len(extra)+2)
		labels = append(labels, prompb.Label{Name: "__name__", Value: name})
		labels = append(labels, prompb.Label{Name: "job", Value: job})
		for _, lp := range base {
			labels = append(labels, prompb.Label{Name: lp.GetName(), Value: lp.GetValue()})
		}
		labels = append(labels, extra...)
		sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })

		out = append(out, prompb.TimeSeries{
			Labels:  labels,
			Samples: []prompb.Sample{{Value: value, Timestamp: ts}},
		})
	}

	for _, mf := range families {
		name := mf.GetName()
		for _, m := range mf.GetMetric() {
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				add(name, m.GetLabel(), m.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				add(name, m.GetLabel(), m.GetGauge().GetValue())
			case dto.MetricType_UNTYPED:
				add(name, m.GetLabel(), m.GetUntyped().GetValue())
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				for _, b := range h.GetBucket() {
					le := formatBound(b.GetUpperBound())
					add(name+"_bucket", m.GetLabel(), float64(b.GetCumulativeCount()), prompb.Label{Name: "le", Value: le})
				}
				add(name+"_bucket", m.GetLabel(), float64(h.GetSampleCount()), prompb.Label{Name: "le", Value: "+Inf"})
				add(name+"_count", m.GetLabel(), float64(h.GetSampleCount()))
				add(name+"_sum", m.GetLabel(), h.GetSampleSum())
			}
		}
	}

	return out
}

func formatBound(v float64) string {
	if math.IsInf(v, +1) {
		return "+Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
