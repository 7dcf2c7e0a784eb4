package export

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/expfmt"
)

// PushgatewaySink pushes metrics to a Prometheus Pushgateway in the text
// exposition format, grouped under /metrics/job/<job>.
//
// Pushes use POST, so series from earlier pushes that are absent from the
// current one are kept by the gateway.
type PushgatewaySink struct {
	url    string
	job    string
	client *http.Client
}

// NewPushgatewaySink creates a Pushgateway sink. url is the gateway base URL.
func NewPushgatewaySink(url, job string, client *http.Client) *PushgatewaySink {
	return &PushgatewaySink{url: url, job: job, client: client}
}

// Name implements Sink.
func (s *PushgatewaySink) Name() string {
	return "pushgateway"
}

// Push implements Sink.
func (s *PushgatewaySink) Push(ctx context.Context, g prometheus.Gatherer) error {
	return push.New(s.url, s.job).
		Gatherer(g).
		Client(s.client).
		Format(expfmt.NewFormat(expfmt.TypeTextPlain)).
		AddContext(ctx)
}
