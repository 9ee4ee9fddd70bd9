package lb

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckKind selects how a backend's liveness is probed.
type CheckKind int

const (
	CheckHTTP CheckKind = iota
	CheckTCP
)

// HealthCheckConfig configures the periodic health-check loop.
type HealthCheckConfig struct {
	Interval           time.Duration
	Timeout            time.Duration
	Kind               CheckKind
	Path               string // used when Kind == CheckHTTP
	UnhealthyThreshold uint32
	HealthyThreshold   uint32
}

// DefaultHealthCheckConfig matches the original's HTTP-path-based defaults.
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Interval:           5 * time.Second,
		Timeout:            2 * time.Second,
		Kind:               CheckHTTP,
		Path:               "/health",
		UnhealthyThreshold: 3,
		HealthyThreshold:   2,
	}
}

// checker performs a single health probe against a backend.
type checker struct {
	cfg    HealthCheckConfig
	client *http.Client
}

func newChecker(cfg HealthCheckConfig) *checker {
	c := &checker{cfg: cfg}
	if cfg.Kind == CheckHTTP {
		c.client = &http.Client{Timeout: cfg.Timeout}
	}
	return c
}

func (c *checker) check(ctx context.Context, b *Backend) bool {
	switch c.cfg.Kind {
	case CheckHTTP:
		return c.checkHTTP(ctx, b)
	default:
		return c.checkTCP(ctx, b.Address())
	}
}

func (c *checker) checkHTTP(ctx context.Context, b *Backend) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL(c.cfg.Path), nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *checker) checkTCP(ctx context.Context, address string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// MetricsRecorder receives per-cycle backend health/load observations. The
// httpapi/obs package wires this to Prometheus gauges; tests can stub it.
type MetricsRecorder interface {
	UpdateBackendMetrics(address string, healthy bool, activeRequests int64)
}

// HealthChecker runs a background polling loop over a shared backend pool.
// Each probe result is applied to the backend at once (MarkHealthy or
// MarkUnhealthy), so a single failed probe takes a backend out of rotation;
// UnhealthyThreshold and HealthyThreshold only decide when the "marked
// unhealthy" and "recovered" log lines are emitted.
type HealthChecker struct {
	cfg     HealthCheckConfig
	checker *checker
	log     *zap.Logger

	mu       sync.RWMutex
	backends []*Backend
	metrics  MetricsRecorder

	stop chan struct{}
	done chan struct{}
}

// NewHealthChecker constructs a checker over the given backend pool.
func NewHealthChecker(cfg HealthCheckConfig, backends []*Backend, metrics MetricsRecorder, log *zap.Logger) *HealthChecker {
	if log == nil {
		log = zap.NewNop()
	}
	return &HealthChecker{
		cfg:      cfg,
		checker:  newChecker(cfg),
		log:      log,
		backends: backends,
		metrics:  metrics,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Backends returns the current backend snapshot under read lock.
func (h *HealthChecker) Backends() []*Backend {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Backend, len(h.backends))
	copy(out, h.backends)
	return out
}

// SetBackends replaces the pool the checker polls, e.g. after a reload.
func (h *HealthChecker) SetBackends(backends []*Backend) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backends = backends
}

// Run blocks, polling every backend at the configured interval until ctx is
// cancelled or Stop is called. Intended to be launched in its own goroutine.
func (h *HealthChecker) Run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.log.Info("starting health check loop",
		zap.Duration("interval", h.cfg.Interval),
		zap.String("kind", h.kindString()))

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			h.runCycle(ctx)
		}
	}
}

// Stop signals Run to return and blocks until it has.
func (h *HealthChecker) Stop() {
	close(h.stop)
	<-h.done
}

func (h *HealthChecker) kindString() string {
	if h.cfg.Kind == CheckHTTP {
		return "http"
	}
	return "tcp"
}

func (h *HealthChecker) runCycle(ctx context.Context) {
	backends := h.Backends()

	for _, b := range backends {
		wasHealthy := b.IsHealthy()
		ok := h.checker.check(ctx, b)

		if ok {
			b.MarkHealthy()
			if b.SuccessCount() >= uint64(h.cfg.HealthyThreshold) && !wasHealthy {
				h.log.Info("backend recovered", zap.String("backend", b.Address()))
			}
		} else {
			b.MarkUnhealthy()
			if b.FailureCount() >= uint64(h.cfg.UnhealthyThreshold) && wasHealthy {
				h.log.Warn("backend marked unhealthy",
					zap.String("backend", b.Address()),
					zap.Uint64("failures", b.FailureCount()))
			}
		}
	}

	if h.metrics != nil {
		for _, b := range backends {
			h.metrics.UpdateBackendMetrics(b.Address(), b.IsHealthy(), b.ActiveRequests())
		}
	}
}
