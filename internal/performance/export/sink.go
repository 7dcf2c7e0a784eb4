package export

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wesleyorama2/forgy/internal/config"
)

// Sink delivers gathered metrics to an external system.
type Sink interface {
	// Push sends the current contents of g. It must honour ctx's deadline.
	Push(ctx context.Context, g prometheus.Gatherer) error

	// Name identifies the sink in logs.
	Name() string
}

// NewSink builds the sink selected by the export configuration. It returns
// a nil Sink when export is disabled.
func NewSink(cfg config.ExportConfig, client *http.Client) (Sink, error) {
	if client == nil {
		client = &http.Client{}
	}

	switch cfg.Kind {
	case config.ExportNone, "":
		return nil, nil
	case config.ExportRemoteWrite:
		return NewRemoteWriteSink(cfg.URL, cfg.Label, client), nil
	case config.ExportPushgateway:
		return NewPushgatewaySink(cfg.URL, cfg.Label, client), nil
	default:
		return nil, fmt.Errorf("unknown export kind %q", cfg.Kind)
	}
}
