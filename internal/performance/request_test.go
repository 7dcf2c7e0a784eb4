package performance_test

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/wesleyorama2/forgy/internal/config"
	"github.com/wesleyorama2/forgy/internal/performance"
)

func TestNewRequestTemplate(t *testing.T) {
	cfg := config.Default()
	cfg.URL = "http://localhost:8080/api/items?page=2"
	cfg.Method = "post"
	cfg.Body = `{"name":"widget"}`
	cfg.Headers = []config.Header{
		{Key: "Content-Type", Value: "application/json"},
		{Key: "X-Tag", Value: "a"},
		{Key: "X-Tag", Value: "b"},
		{Key: "Host", Value: "api.example.com"},
	}

	tmpl, err := performance.NewRequestTemplate(cfg)
	if err != nil {
		t.Fatalf("NewRequestTemplate() error = %v", err)
	}

	if tmpl.Method != "POST" {
		t.Errorf("Method = %q, want POST", tmpl.Method)
	}
	if got := tmpl.Header.Values("X-Tag"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("X-Tag values = %v, want [a b]", got)
	}
	if tmpl.Header.Get("Host") != "" {
		t.Error("Host should not be kept as a regular header")
	}
	if tmpl.BytesSent() <= int64(len(cfg.Body)) {
		t.Errorf("BytesSent() = %d, want more than body size %d", tmpl.BytesSent(), len(cfg.Body))
	}

	req, err := tmpl.NewRequest(context.Background())
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if req.Host != "api.example.com" {
		t.Errorf("req.Host = %q, want api.example.com", req.Host)
	}
	if req.URL.RawQuery != "page=2" {
		t.Errorf("RawQuery = %q, want page=2", req.URL.RawQuery)
	}

	body, _ := io.ReadAll(req.Body)
	if string(body) != cfg.Body {
		t.Errorf("body = %q, want %q", body, cfg.Body)
	}

	// Each request gets its own body reader
	req2, _ := tmpl.NewRequest(context.Background())
	body2, _ := io.ReadAll(req2.Body)
	if string(body2) != cfg.Body {
		t.Errorf("second body = %q, want %q", body2, cfg.Body)
	}

	// Headers are copied, not shared
	req.Header.Set("X-Tag", "mutated")
	if tmpl.Header.Get("X-Tag") != "a" {
		t.Error("mutating a request header changed the template")
	}
}

func TestNewRequestTemplate_NoBody(t *testing.T) {
	cfg := config.Default()
	cfg.URL = "https://example.com"

	tmpl, err := performance.NewRequestTemplate(cfg)
	if err != nil {
		t.Fatalf("NewRequestTemplate() error = %v", err)
	}
	if tmpl.Method != http.MethodGet {
		t.Errorf("Method = %q, want GET", tmpl.Method)
	}

	req, err := tmpl.NewRequest(context.Background())
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if req.Body != nil {
		t.Error("GET without body should have nil Body")
	}
}

func TestNewRequestTemplate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		method string
	}{
		{"bad scheme", "ftp://example.com", "GET"},
		{"no host", "http:///path", "GET"},
		{"unparseable", "http://[::1", "GET"},
		{"bad method", "http://example.com", "GET /"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.URL = tt.url
			cfg.Method = tt.method
			if _, err := performance.NewRequestTemplate(cfg); err == nil {
				t.Error("NewRequestTemplate() error = nil, want error")
			}
		})
	}
}
