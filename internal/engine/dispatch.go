package engine

import (
	"context"
	"io"
	"net/http"

	"github.com/dufeut/mik/internal/executor"
	"github.com/dufeut/mik/internal/httpapi"
	"github.com/dufeut/mik/internal/mikerrors"
	"github.com/dufeut/mik/internal/security"
)

// Dispatcher handles HTTP requests routed to /run/*. ServeModule parses its
// segment as <module> or <tenant>/<module>; NewRouter passes only the first
// path element after /run/ as the segment, so requests arriving through the
// router are always dispatched as platform modules. It drives the full
// admission pipeline spec.md §4.6 describes: parse path, sanitize the module
// name (and tenant ID), acquire the global then per-module slot, consult the
// circuit breaker, load (or reuse) the compiled component, run it under an
// execution deadline and fuel budget, and record the outcome back into the
// breaker and the metrics registry.
type Dispatcher struct {
	state *SharedState
}

// NewDispatcher builds a Dispatcher over state.
func NewDispatcher(state *SharedState) *Dispatcher {
	return &Dispatcher{state: state}
}

// ServeModule handles one /run/* request for the given raw path segment
// (everything after "/run/") and the sub-path the guest should see as its
// own request path (everything after the module name).
func (d *Dispatcher) ServeModule(w http.ResponseWriter, r *http.Request, segment, subPath string) {
	s := d.state

	if s.IsShuttingDown() {
		httpapi.WriteMikError(w, mikerrors.New(mikerrors.KindAdmissionDenied, "server is shutting down"))
		return
	}

	mp := ParseModulePath(segment)

	name, err := security.SanitizeModuleName(s.Logger, mp.Name)
	if err != nil {
		httpapi.WriteMikError(w, err)
		return
	}
	mp.Name = name
	if mp.IsTenant() {
		if _, err := security.SanitizeModuleName(s.Logger, mp.TenantID); err != nil {
			httpapi.WriteMikError(w, err)
			return
		}
	}

	cacheKey := mp.CacheKey()
	handlerName := mp.HandlerName()

	release, err := s.Limiter.Acquire(r.Context(), cacheKey)
	if err != nil {
		httpapi.WriteMikError(w, err)
		return
	}
	defer release()

	if err := s.Breaker.CheckRequest(cacheKey); err != nil {
		httpapi.WriteMikError(w, err)
		return
	}

	compiled, err := s.LoadComponent(r.Context(), mp)
	if err != nil {
		s.Breaker.RecordFailure(cacheKey)
		httpapi.WriteMikError(w, err)
		return
	}

	body, err := readBody(r, s.Config.MaxBodySizeBytes)
	if err != nil {
		httpapi.WriteMikError(w, err)
		return
	}

	req := &executor.Request{
		Method:  r.Method,
		Path:    subPath,
		Query:   r.URL.RawQuery,
		Headers: r.Header,
		Body:    body,
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.Config.ExecutionTimeout())
	defer cancel()

	lim := executor.Limits{FuelBudget: s.Config.FuelBudget}

	resp, err := s.Executor.Execute(ctx, compiled, handlerName, lim, req)
	s.requestCounter.Add(1)
	if s.Metrics != nil {
		s.Metrics.RequestsTotal.Inc()
	}

	if err != nil {
		s.Breaker.RecordFailure(cacheKey)
		httpapi.WriteMikError(w, err)
		return
	}

	s.Breaker.RecordSuccess(cacheKey)
	writeResponse(w, handlerName, resp)
}

// readBody reads the request body up to maxBytes, returning InvalidRequest
// if the body (or an unknown-length stream) overruns the limit.
func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	limited := io.LimitReader(r.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, mikerrors.Internal("failed to read request body", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, mikerrors.New(mikerrors.KindInvalidRequest, "request body exceeds the configured limit")
	}
	return body, nil
}

func writeResponse(w http.ResponseWriter, handlerName string, resp *executor.Response) {
	httpapi.WriteHandlerHeader(w, handlerName)
	for k, vs := range resp.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
