// Package performance runs virtual users that send load against a single
// HTTP endpoint.
package performance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/wesleyorama2/forgy/internal/config"
)

// RequestTemplate is the immutable description of the request every VU sends.
// It is built once per run and shared read-only by all VUs.
type RequestTemplate struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte

	// host overrides the Host header when one was configured.
	host string

	bytesSent int64
}

// NewRequestTemplate builds a template from the configuration.
func NewRequestTemplate(cfg *config.TestConfig) (*RequestTemplate, error) {
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}
	if strings.ContainsAny(method, " \t\r\n()<>@,;:\\\"/[]?={}") {
		return nil, fmt.Errorf("invalid HTTP method %q", cfg.Method)
	}

	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL %q: scheme must be http or https", cfg.URL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: missing host", cfg.URL)
	}

	t := &RequestTemplate{
		Method: method,
		URL:    u,
		Header: make(http.Header, len(cfg.Headers)),
		Body:   []byte(cfg.Body),
	}
	for _, h := range cfg.Headers {
		if strings.EqualFold(h.Key, "Host") {
			t.host = h.Value
			continue
		}
		t.Header.Add(h.Key, h.Value)
	}

	t.bytesSent = t.estimateSize()
	return t, nil
}

// NewRequest creates a fresh request bound to ctx. Each call gets its own
// body reader so requests can be sent concurrently.
func (t *RequestTemplate) NewRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(t.Body) > 0 {
		body = bytes.NewReader(t.Body)
	}

	req, err := http.NewRequestWithContext(ctx, t.Method, t.URL.String(), body)
	if err != nil {
		return nil, err
	}

	req.Header = t.Header.Clone()
	if t.host != "" {
		req.Host = t.host
	}
	return req, nil
}

// BytesSent returns the estimated wire size of one request.
func (t *RequestTemplate) BytesSent() int64 {
	return t.bytesSent
}

// estimateSize approximates the request line, headers and body.
func (t *RequestTemplate) estimateSize() int64 {
	// "METHOD URL HTTP/1.1\r\n"
	n := len(t.Method) + 1 + len(t.URL.RequestURI()) + len(" HTTP/1.1\r\n")

	host := t.host
	if host == "" {
		host = t.URL.Host
	}
	n += len("Host: \r\n") + len(host)

	for key, values := range t.Header {
		for _, v := range values {
			n += len(key) + len(": \r\n") + len(v)
		}
	}
	if len(t.Body) > 0 {
		n += len(fmt.Sprintf("Content-Length: %d\r\n", len(t.Body)))
	}
	n += len("\r\n") + len(t.Body)
	return int64(n)
}
