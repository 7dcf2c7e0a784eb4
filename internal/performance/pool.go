package performance

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests, including reading the body
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// DisableCompression disables automatic decompression
	DisableCompression bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0, // Unlimited
		IdleConnTimeout:     90 * time.Second,
	}
}

// SizedFor raises the idle connection limits so that every VU can keep its
// connection alive between requests.
func (c HTTPClientConfig) SizedFor(vus int) HTTPClientConfig {
	if vus > c.MaxIdleConnsPerHost {
		c.MaxIdleConnsPerHost = vus
	}
	if vus > c.MaxIdleConns {
		c.MaxIdleConns = vus
	}
	return c
}

// NewHTTPClient creates an HTTP client with the configured settings.
func NewHTTPClient(config HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		DisableKeepAlives:   config.DisableKeepAlives,
		DisableCompression:  config.DisableCompression,
		ForceAttemptHTTP2:   true,
	}
	if config.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via --insecure
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}
}

// PoolConfig contains configuration for the Pool.
type PoolConfig struct {
	HTTP HTTPClientConfig

	// MaxWorkers caps the number of live VUs; 0 means no cap
	MaxWorkers int

	Logger *zap.Logger
}

// Pool owns the live VUs and converges their number to a target.
//
// The registry is written only by Scale and Shutdown. VUs that are asked to
// stop leave the registry at once and finish their in-flight request in the
// background, so ActiveCount never lags a shrinking target.
//
// Requests run under a context owned by the pool rather than the caller's,
// so stopping a VU never cuts a request short. Shutdown cancels that context
// only after its grace period.
type Pool struct {
	template *RequestTemplate
	recorder Recorder
	client   *http.Client
	config   PoolConfig
	logger   *zap.Logger

	// Throttles request error logs
	errLog rate.Sometimes

	vus    map[int]*VirtualUser
	order  []int // spawn order, newest last
	nextID int
	mu     sync.RWMutex

	reqCtx     context.Context
	cancelReqs context.CancelFunc
	wg         sync.WaitGroup

	clampLogged bool
	closed      bool
}

// NewPool creates an empty pool.
func NewPool(template *RequestTemplate, recorder Recorder, config PoolConfig) *Pool {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reqCtx, cancel := context.WithCancel(context.Background())
	return &Pool{
		template:   template,
		recorder:   recorder,
		client:     NewHTTPClient(config.HTTP),
		config:     config,
		logger:     logger.With(zap.String("component", "pool")),
		errLog:     rate.Sometimes{Interval: time.Second},
		vus:        make(map[int]*VirtualUser),
		reqCtx:     reqCtx,
		cancelReqs: cancel,
	}
}

// Scale spawns or stops VUs so that the pool holds target VUs, capped by
// MaxWorkers. Excess VUs are stopped newest first and finish their
// in-flight request. No VUs are spawned once ctx is done or the pool has
// been shut down.
//
// Returns the number of live VUs after the adjustment.
func (p *Pool) Scale(ctx context.Context, target int) int {
	if target < 0 {
		target = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if limit := p.config.MaxWorkers; limit > 0 && target > limit {
		if !p.clampLogged {
			p.logger.Warn("target VUs exceeds max workers, clamping",
				zap.Int("target", target),
				zap.Int("max_workers", limit),
			)
			p.clampLogged = true
		}
		target = limit
	}

	if p.closed {
		return len(p.vus)
	}

	current := len(p.vus)
	switch {
	case target > current:
		if ctx.Err() != nil {
			return current
		}
		for i := current; i < target; i++ {
			p.spawnLocked()
		}
	case target < current:
		excess := current - target
		for i := 0; i < excess; i++ {
			last := len(p.order) - 1
			id := p.order[last]
			p.order = p.order[:last]
			vu := p.vus[id]
			delete(p.vus, id)
			vu.RequestStop()
		}
	}

	return len(p.vus)
}

// spawnLocked registers and starts a new VU. Callers must hold p.mu.
func (p *Pool) spawnLocked() {
	p.nextID++
	id := p.nextID

	vu := NewVirtualUser(id, p.template, p.client, p.recorder)
	p.vus[id] = vu
	p.order = append(p.order, id)

	p.wg.Add(1)
	go p.runVU(vu)
}

// runVU loops requests until the VU is stopped or requests are cancelled.
func (p *Pool) runVU(vu *VirtualUser) {
	defer p.wg.Done()
	defer func() {
		vu.MarkStopped()
		p.logger.Debug("vu stopped", zap.Int("vu", vu.ID), zap.Int64("iterations", vu.GetIteration()))
	}()

	for {
		select {
		case <-vu.Stopping():
			return
		case <-p.reqCtx.Done():
			return
		default:
		}

		outcome, err := vu.RunIteration(p.reqCtx)
		if err != nil {
			return
		}
		if outcome.Err != nil {
			p.errLog.Do(func() {
				p.logger.Debug("request failed",
					zap.Int("vu", vu.ID),
					zap.Duration("latency", outcome.Latency),
					zap.Error(outcome.Err),
				)
			})
		}
	}
}

// ActiveCount returns the number of live VUs.
func (p *Pool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.vus)
}

// Shutdown stops every VU and waits up to grace for in-flight requests to
// complete. Requests still running after grace are cancelled and not
// recorded. Shutdown is idempotent.
//
// Returns true if every VU finished within grace.
func (p *Pool) Shutdown(grace time.Duration) bool {
	p.mu.Lock()
	p.closed = true
	for _, id := range p.order {
		p.vus[id].RequestStop()
	}
	p.vus = make(map[int]*VirtualUser)
	p.order = nil
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	clean := true
	select {
	case <-done:
	case <-time.After(grace):
		clean = false
		p.logger.Warn("VUs did not finish within grace period, aborting in-flight requests",
			zap.Duration("grace", grace),
		)
		p.cancelReqs()
		<-done
	}

	p.cancelReqs()
	p.client.CloseIdleConnections()
	return clean
}
