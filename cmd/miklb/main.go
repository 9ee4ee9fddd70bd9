// Command miklb is the L7 load balancer in its "separate process" mode
// (spec.md §4.8): a standalone reverse proxy fronting a list of mikd (or any
// HTTP) backends, with health checking, graceful reload on SIGHUP, and
// Prometheus metrics of its own.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dufeut/mik/internal/httpapi"
	"github.com/dufeut/mik/internal/lb"
	"github.com/dufeut/mik/internal/obs"
)

const shutdownGrace = 15 * time.Second

func main() {
	listenAddr := flag.String("listen", ":8080", "address to listen on")
	backendList := flag.String("backends", "", "comma-separated backend host:port list")
	strategy := flag.String("strategy", "round-robin", "round-robin | weighted | consistent-hash")
	healthPath := flag.String("health-path", "/health", "HTTP health check path")
	healthKind := flag.String("health-kind", "http", "http | tcp")
	checkInterval := flag.Duration("check-interval", 5*time.Second, "health check interval")
	requestTimeout := flag.Duration("request-timeout", 30*time.Second, "per-request proxy timeout")
	maxConnsPerBackend := flag.Int64("max-conns-per-backend", 0, "0 = unlimited")
	drainTimeout := flag.Duration("drain-timeout", 30*time.Second, "graceful backend drain timeout")
	development := flag.Bool("dev", false, "enable development (console) logging")
	h2c := flag.Bool("h2c", false, "opt this listener into HTTP/2 cleartext (prior-knowledge), off by default")
	flag.Parse()

	logger := obs.Must(*development)
	defer logger.Sync()

	addresses := splitBackends(*backendList)
	if len(addresses) == 0 {
		logger.Error("no backends configured; pass -backends host:port[,host:port...]")
		os.Exit(1)
	}

	backends := make([]*lb.Backend, len(addresses))
	for i, addr := range addresses {
		backends[i] = lb.NewBackend(addr, 1)
	}

	rebuild := selectorFactory(*strategy, addresses)
	initialSelection := rebuild(len(backends))
	pool := lb.NewPool(backends, initialSelection)
	pool.SetMaxConnectionsPerBackend(*maxConnsPerBackend)

	metrics := obs.NewMetrics()

	hcCfg := lb.DefaultHealthCheckConfig()
	hcCfg.Path = *healthPath
	hcCfg.Interval = *checkInterval
	if *healthKind == "tcp" {
		hcCfg.Kind = lb.CheckTCP
	}
	healthChecker := lb.NewHealthChecker(hcCfg, backends, metrics, logger)

	reloadCfg := lb.DefaultReloadConfig()
	reloadCfg.DrainTimeout = *drainTimeout
	reloadManager := lb.NewReloadManager(reloadCfg, backends, rebuild, logger)
	reloadHandle := lb.NewReloadHandle()

	proxy := lb.NewProxyService(pool, *requestTimeout, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", proxy)

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		logger.Error("failed to bind listener", zap.String("addr", *listenAddr), zap.Error(err))
		os.Exit(1)
	}

	httpServer := &http.Server{Handler: httpapi.WrapH2C(mux, *h2c)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go healthChecker.Run(ctx)
	go runReloadLoop(ctx, reloadHandle, reloadManager, healthChecker, pool, logger)
	go watchSIGHUP(ctx, reloadHandle, *backendList, logger)

	logger.Info("load balancer starting",
		zap.String("addr", ln.Addr().String()),
		zap.Strings("backends", addresses),
		zap.String("strategy", *strategy),
		zap.Bool("h2c", *h2c),
	)

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
			os.Exit(1)
		}
	}

	healthChecker.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("load balancer stopped")
}

// runReloadLoop applies each reload signal to the ReloadManager, pushes the
// resulting backend list into the proxy pool and health checker, and polls
// for drained backends to finish evicting them.
func runReloadLoop(ctx context.Context, handle *lb.ReloadHandle, manager *lb.ReloadManager, checker *lb.HealthChecker, pool *lb.Pool, logger *zap.Logger) {
	signals := handle.Subscribe()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			result := manager.ApplyReload(sig)
			logger.Info("backend list reloaded",
				zap.Strings("added", result.Added),
				zap.Strings("draining", result.Draining),
				zap.Strings("unchanged", result.Unchanged),
			)
			backends := manager.Backends()
			pool.Replace(backends)
			checker.SetBackends(backends)
		case <-ticker.C:
			manager.ProcessDrainingBackends()
		}
	}
}

// watchSIGHUP triggers a reload from the original -backends flag value on
// every SIGHUP, the conventional way to ask a long-running Unix daemon to
// reread its configuration without restarting.
func watchSIGHUP(ctx context.Context, handle *lb.ReloadHandle, backendList string, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, reloading backend list")
			handle.TriggerReload(splitBackends(backendList), time.Now())
		}
	}
}

func splitBackends(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// selectorFactory returns the rebuild callback ReloadManager calls whenever
// the pool's backend count changes. For consistent-hash, the ring is seeded
// from initialAddresses at startup only: ReloadManager's rebuild signature
// carries a backend count, not the new address list, so a reload that adds
// or removes backends gets a correctly-sized but unseeded ring until the
// process restarts. round-robin and weighted strategies have no such gap
// since they select purely by index.
func selectorFactory(strategy string, initialAddresses []string) func(n int) lb.Selector {
	switch strategy {
	case "weighted":
		return func(n int) lb.Selector {
			weights := make([]int, n)
			for i := range weights {
				weights[i] = 1
			}
			return lb.NewWeightedRoundRobin(weights)
		}
	case "consistent-hash":
		return func(n int) lb.Selector {
			ring := lb.NewConsistentHash(150)
			for i, addr := range initialAddresses {
				if i >= n {
					break
				}
				ring.AddBackend(addr, i)
			}
			return ring
		}
	default:
		return func(n int) lb.Selector { return lb.NewRoundRobin() }
	}
}
