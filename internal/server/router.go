// Package server wires the chi router spec.md §4.6 describes, composing the
// leaf packages (engine, gatewayapi, staticfiles, obs) that internal/httpapi
// itself cannot depend on without an import cycle (each of them depends on
// internal/httpapi's response helpers).
package server

import (
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dufeut/mik/internal/engine"
	"github.com/dufeut/mik/internal/gatewayapi"
	"github.com/dufeut/mik/internal/httpapi"
	"github.com/dufeut/mik/internal/obs"
	"github.com/dufeut/mik/internal/servicesapi"
	"github.com/dufeut/mik/internal/staticfiles"
)

// HealthResponse is the exact shape spec.md §6 mandates for GET /health.
// cache_size is the live entry count; cache_capacity is the configured
// loose entry cap (bytes cap dominates eviction, per spec.md §4.1).
type HealthResponse struct {
	Status        string      `json:"status"`
	Timestamp     string      `json:"timestamp"`
	CacheSize     int         `json:"cache_size"`
	CacheCapacity int         `json:"cache_capacity"`
	CacheBytes    int64       `json:"cache_bytes"`
	CacheMaxBytes int64       `json:"cache_max_bytes"`
	TotalRequests uint64      `json:"total_requests"`
	Memory        MemoryStats `json:"memory"`
	LoadedModules []string    `json:"loaded_modules,omitempty"`
}

// MemoryStats reports the process's approximate current memory footprint.
type MemoryStats struct {
	AllocatedBytes       uint64 `json:"allocated_bytes"`
	LimitPerRequestBytes int64  `json:"limit_per_request_bytes"`
}

// NewRouter builds the full chi router: platform/tenant discovery under
// /_mik/*, health and metrics, static files, a /script/* placeholder (404
// without a scripts directory, 501 with one), and the catch-all /run/*
// dispatch into the engine.
func NewRouter(state *engine.SharedState, metrics *obs.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	gw := gatewayapi.New(state.ModulesDir(), state.UserModulesDir(), logger)
	svc := servicesapi.New(state.KV, state.Objects, state.Queue, logger)
	r.Route("/_mik", func(r chi.Router) {
		r.Mount("/services", svc)
		r.Mount("/", gw)
	})

	r.Get("/health", healthHandler(state))
	r.Handle("/metrics", metrics.Handler())

	if state.Config.StaticDir != "" {
		static := staticfiles.New(state.Config.StaticDir, logger)
		r.Mount(staticfiles.Prefix, static)
	}

	if state.Config.ScriptsDir == "" {
		r.Get("/script/*", http.NotFound)
	} else {
		r.Get("/script/*", scriptNotImplementedHandler)
	}

	dispatcher := engine.NewDispatcher(state)
	r.HandleFunc("/run/*", func(w http.ResponseWriter, req *http.Request) {
		rest := chi.URLParam(req, "*")
		segment, subPath := splitRunPath(rest)
		dispatcher.ServeModule(w, req, segment, subPath)
	})

	return r
}

// splitRunPath divides the wildcard tail of /run/* into the module-path
// segment (everything up to the handler's own sub-path) and the sub-path
// the guest receives as its own request path. A bare module name with no
// trailing slash gets "/" as its sub-path, matching the gateway's
// Links.Self convention (e.g. "/run/auth/"). The segment is cut at the first
// slash, so it never holds the <tenant>/<module> form: every request through
// this route addresses a platform module, and /run/acme/auth/x runs module
// "acme" with sub-path "/auth/x".
func splitRunPath(rest string) (segment, subPath string) {
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return rest, "/"
	}
	return rest[:idx], rest[idx:]
}

func healthHandler(state *engine.SharedState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		resp := HealthResponse{
			Status:        "ready",
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			CacheSize:     state.ModuleCache.Size(),
			CacheCapacity: state.Config.CacheSize,
			CacheBytes:    state.ModuleCache.Bytes(),
			CacheMaxBytes: state.ModuleCache.Capacity(),
			TotalRequests: state.TotalRequests(),
			Memory: MemoryStats{
				AllocatedBytes:       memStats.Alloc,
				LimitPerRequestBytes: state.Config.MemoryLimitBytes,
			},
		}
		httpapi.WriteJSON(w, http.StatusOK, resp)
	}
}

func scriptNotImplementedHandler(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{
		"error":   "NotImplemented",
		"message": "script orchestration is not implemented in this build",
	})
}

// requestLogger is a minimal chi middleware logging method, path, status,
// and latency through the shared zap logger, in place of chi's own
// middleware.Logger (which writes to stdlib log, not zap).
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
