package lb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dufeut/mik/internal/retry"
)

// hopByHopHeaders must never be forwarded verbatim between proxy hops.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func isHopByHopHeader(name string) bool {
	return hopByHopHeaders[httpHeaderCanonicalLower(name)]
}

func httpHeaderCanonicalLower(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// selectOutcome classifies why backend selection did or didn't produce a target.
type selectOutcome int

const (
	selected selectOutcome = iota
	noHealthyBackends
	allAtCapacity
)

// Pool is a set of backends routed through a single Selector.
type Pool struct {
	mu                 sync.RWMutex
	backends           []*Backend
	selection          Selector
	keyed              *ConsistentHash // non-nil when selection needs a per-request key
	maxConnsPerBackend int64           // 0 = unlimited
}

// NewPool constructs a backend pool routed by the given selector.
func NewPool(backends []*Backend, selection Selector) *Pool {
	p := &Pool{backends: backends, selection: selection}
	if ch, ok := selection.(*ConsistentHash); ok {
		p.keyed = ch
	}
	return p
}

// SetMaxConnectionsPerBackend bounds the in-flight request count selection
// will route to any one backend; 0 (the default) leaves it unbounded. When
// every healthy backend is at this limit, selectBackend reports
// allAtCapacity rather than picking an overloaded target.
func (p *Pool) SetMaxConnectionsPerBackend(max int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxConnsPerBackend = max
}

// Backends returns the current backend snapshot.
func (p *Pool) Backends() []*Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Backend, len(p.backends))
	copy(out, p.backends)
	return out
}

// Replace swaps the pool's backend set, e.g. on a graceful reload.
func (p *Pool) Replace(backends []*Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backends = backends
}

func (p *Pool) selectBackend(key string) (*Backend, selectOutcome) {
	p.mu.RLock()
	backends := make([]*Backend, len(p.backends))
	copy(backends, p.backends)
	maxConns := p.maxConnsPerBackend
	p.mu.RUnlock()

	healthyIndices := make([]int, 0, len(backends))
	availableIndices := make([]int, 0, len(backends))
	for i, b := range backends {
		if !b.IsHealthy() {
			continue
		}
		healthyIndices = append(healthyIndices, i)
		if maxConns <= 0 || b.ActiveRequests() < maxConns {
			availableIndices = append(availableIndices, i)
		}
	}
	if len(healthyIndices) == 0 {
		return nil, noHealthyBackends
	}
	if len(availableIndices) == 0 {
		return nil, allAtCapacity
	}

	var idx int
	var ok bool
	if p.keyed != nil && key != "" {
		idx, ok = p.keyed.SelectByKey(key, availableIndices)
	} else {
		idx, ok = p.selection.Select(availableIndices)
	}
	if !ok {
		return nil, noHealthyBackends
	}
	return backends[idx], selected
}

// ProxyService forwards incoming HTTP requests to a healthy backend from
// Pool, recording per-backend success/failure and active-request counts.
type ProxyService struct {
	pool    *Pool
	timeout time.Duration
	log     *zap.Logger
}

// NewProxyService constructs a proxy over pool with the given per-request timeout.
func NewProxyService(pool *Pool, timeout time.Duration, log *zap.Logger) *ProxyService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProxyService{
		pool:    pool,
		timeout: timeout,
		log:     log,
	}
}

// ExtractKey derives the ConsistentHash key from a request per KeyExtractor.
func ExtractKey(r *http.Request, extractor KeyExtractor, headerName string) string {
	switch extractor {
	case KeyByHeader:
		return r.Header.Get(headerName)
	case KeyByClientIP:
		return clientIP(r)
	default:
		return r.URL.Path
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

// ServeHTTP selects a healthy backend and reverse-proxies the request to it.
func (p *ProxyService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := ""
	if p.pool.keyed != nil {
		key = ExtractKey(r, p.pool.keyed.KeyExtractorKind(), p.pool.keyed.HeaderName())
	}

	backend, outcome := p.pool.selectBackend(key)
	switch outcome {
	case noHealthyBackends:
		p.log.Warn("no healthy backends available")
		http.Error(w, "no healthy backends available", http.StatusServiceUnavailable)
		return
	case allAtCapacity:
		p.log.Warn("all healthy backends are at capacity")
		http.Error(w, "all backends are at capacity", http.StatusServiceUnavailable)
		return
	}

	backend.StartRequest()
	defer backend.EndRequest()

	target, err := url.Parse(fmt.Sprintf("http://%s", backend.Address()))
	if err != nil {
		backend.RecordFailure()
		http.Error(w, "invalid backend address", http.StatusBadGateway)
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = &retryingTransport{base: http.DefaultTransport, cfg: retry.NetworkConfig(), log: p.log}
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		stripHopByHopHeaders(req.Header)
	}
	proxy.ModifyResponse = func(resp *http.Response) error {
		stripHopByHopHeaders(resp.Header)
		backend.RecordSuccess()
		return nil
	}
	proxy.ErrorHandler = func(rw http.ResponseWriter, req *http.Request, err error) {
		backend.RecordFailure()
		p.log.Error("backend request failed", zap.String("backend", backend.Address()), zap.Error(err))
		http.Error(rw, fmt.Sprintf("backend error: %v", err), http.StatusBadGateway)
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()
	proxy.ServeHTTP(w, r.WithContext(ctx))
}

// retryingTransport wraps an http.RoundTripper with the same transient/
// permanent classification internal/retry uses for any other egress call,
// so a backend that resets a connection or times out mid-dial gets a
// couple of quick retries before the proxy gives up and reports
// RecordFailure. A request body is only retried when the standard library
// has given us a replay function (GetBody) to rewind it; a body-bearing
// request without one is attempted exactly once, same as a plain
// ReverseProxy would.
type retryingTransport struct {
	base http.RoundTripper
	cfg  retry.Config
	log  *zap.Logger
}

func (t *retryingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		return t.base.RoundTrip(req)
	}
	return retry.Do(req.Context(), t.cfg, "lb.proxy.roundtrip", t.log, retry.IsTransientError, func() (*http.Response, error) {
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = body
		}
		return t.base.RoundTrip(req)
	})
}

func stripHopByHopHeaders(h http.Header) {
	for name := range h {
		if isHopByHopHeader(name) {
			h.Del(name)
		}
	}
}
