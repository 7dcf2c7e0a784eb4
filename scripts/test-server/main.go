// Command test-server is a local target for trying forgy out. It serves
// canned responses and accepts remote-write pushes, logging what arrives.
//
//	go run ./scripts/test-server --addr :8080
//	forgy run --url http://localhost:8080/status/200?delay=20ms \
//	    --remote-write-url http://localhost:8080/api/v1/write
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/snappy"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
)

type server struct {
	logger  *zap.Logger
	hits    atomic.Int64
	writes  atomic.Int64
	samples atomic.Int64
}

func newMux(s *server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status/", s.handleStatus)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "healthy")
	})
	mux.HandleFunc("/api/v1/write", s.handleWrite)
	return mux
}

// handleStatus answers /status/<code> with that code, after ?delay= if set.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)

	code, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/status/"))
	if err != nil || code < 100 || code > 599 {
		http.Error(w, "status must be a number between 100 and 599", http.StatusBadRequest)
		return
	}

	if raw := r.URL.Query().Get("delay"); raw != "" {
		delay, err := time.ParseDuration(raw)
		if err != nil {
			http.Error(w, "bad delay: "+err.Error(), http.StatusBadRequest)
			return
		}
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	io.Copy(io.Discard, r.Body)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	fmt.Fprint(w, http.StatusText(code))
}

// handleWrite decodes a remote-write request and logs a summary of it.
func (s *server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := decodeWriteRequest(r)
	if err != nil {
		s.logger.Warn("bad remote-write request", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var samples int
	var requests float64
	for _, ts := range req.Timeseries {
		samples += len(ts.Samples)
		for _, l := range ts.Labels {
			if l.Name == "__name__" && strings.HasSuffix(l.Value, "requests_total") && len(ts.Samples) > 0 {
				requests += ts.Samples[0].Value
			}
		}
	}
	s.writes.Add(1)
	s.samples.Add(int64(samples))

	s.logger.Info("remote write",
		zap.Int("series", len(req.Timeseries)),
		zap.Int("samples", samples),
		zap.Float64("requests_total", requests),
	)
	w.WriteHeader(http.StatusNoContent)
}

func decodeWriteRequest(r *http.Request) (*prompb.WriteRequest, error) {
	if enc := r.Header.Get("Content-Encoding"); enc != "snappy" {
		return nil, fmt.Errorf("unsupported content encoding %q", enc)
	}

	compressed, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("snappy: %w", err)
	}

	var req prompb.WriteRequest
	if err := req.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}
	if len(req.Timeseries) == 0 {
		return nil, errors.New("empty write request")
	}
	return &req, nil
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(&server{logger: logger}),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	logger.Info("starting test server",
		zap.String("addr", *addr),
		zap.Int("cpus", runtime.NumCPU()),
		zap.Strings("endpoints", []string{"/status/<code>?delay=<duration>", "/health", "POST /api/v1/write"}),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}
