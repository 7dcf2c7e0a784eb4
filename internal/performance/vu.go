package performance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/forgy/internal/performance/metrics"
)

// ErrVUStopped is returned by RunIteration once a VU has been asked to stop.
var ErrVUStopped = errors.New("virtual user stopped")

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is between requests.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU has a request in flight.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Recorder receives request outcomes.
type Recorder interface {
	Record(o metrics.Outcome)
}

// VirtualUser is one closed-loop client: it sends a request, waits for the
// response, reports the outcome and immediately sends the next one.
//
// A VU holds no per-user data. It only knows its ID, its lifecycle state and
// its stop signal.
type VirtualUser struct {
	ID int

	template *RequestTemplate
	client   *http.Client
	recorder Recorder

	state     atomic.Int32
	iteration atomic.Int64

	stopCh chan struct{}
}

// NewVirtualUser creates a new Virtual User.
func NewVirtualUser(id int, template *RequestTemplate, client *http.Client, recorder Recorder) *VirtualUser {
	return &VirtualUser{
		ID:       id,
		template: template,
		client:   client,
		recorder: recorder,
		stopCh:   make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of requests started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// RunIteration sends one request and records its outcome.
//
// Request failures are recorded and returned in the outcome with a nil
// error. A non-nil error means the VU is stopping or ctx was cancelled while
// the request was in flight; such aborted requests are not recorded.
func (vu *VirtualUser) RunIteration(ctx context.Context) (metrics.Outcome, error) {
	if s := vu.GetState(); s == VUStateStopping || s == VUStateStopped {
		return metrics.Outcome{}, ErrVUStopped
	}

	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	vu.iteration.Add(1)

	outcome, aborted := vu.executeRequest(ctx)
	if aborted {
		return outcome, ctx.Err()
	}

	vu.recorder.Record(outcome)
	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	return outcome, nil
}

// executeRequest sends the request and reads the full response body.
// aborted is true when ctx was cancelled before the exchange completed.
func (vu *VirtualUser) executeRequest(ctx context.Context) (outcome metrics.Outcome, aborted bool) {
	start := time.Now()
	outcome = metrics.Outcome{
		Start:     start,
		Method:    vu.template.Method,
		BytesSent: vu.template.BytesSent(),
	}

	req, err := vu.template.NewRequest(ctx)
	if err != nil {
		outcome.Latency = time.Since(start)
		outcome.Err = fmt.Errorf("failed to build request: %w", err)
		return outcome, false
	}

	resp, err := vu.client.Do(req)
	if err != nil {
		outcome.Latency = time.Since(start)
		outcome.Err = err
		return outcome, ctx.Err() != nil
	}

	n, err := io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	outcome.Latency = time.Since(start)
	outcome.BytesReceived = n + responseHeaderSize(resp)

	if err != nil {
		outcome.Err = fmt.Errorf("failed to read response body: %w", err)
		return outcome, ctx.Err() != nil
	}

	outcome.StatusCode = resp.StatusCode
	return outcome, false
}

// responseHeaderSize approximates the status line and header block.
func responseHeaderSize(resp *http.Response) int64 {
	// "HTTP/1.1 200 OK\r\n"
	n := len(resp.Proto) + 1 + len(resp.Status) + 2
	for key, values := range resp.Header {
		for _, v := range values {
			n += len(key) + len(": \r\n") + len(v)
		}
	}
	return int64(n + 2)
}

// RequestStop signals the VU to stop after its in-flight request completes.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// Stopping returns a channel closed once the VU has been asked to stop.
func (vu *VirtualUser) Stopping() <-chan struct{} {
	return vu.stopCh
}

// MarkStopped marks the VU as fully stopped.
// Called by the pool when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	prev := VUState(vu.state.Swap(int32(VUStateStopped)))
	if prev == VUStateIdle || prev == VUStateRunning {
		close(vu.stopCh)
	}
}
