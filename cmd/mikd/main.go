// Command mikd is the mik runtime daemon: it loads HostConfig, builds the
// wazero-backed SharedState, and serves the gateway/dispatch HTTP router
// until a termination signal arrives or the listener itself errors.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dufeut/mik/internal/config"
	"github.com/dufeut/mik/internal/engine"
	"github.com/dufeut/mik/internal/httpapi"
	"github.com/dufeut/mik/internal/obs"
	"github.com/dufeut/mik/internal/server"
)

const shutdownGrace = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a HostConfig YAML file (defaults applied when empty)")
	development := flag.Bool("dev", false, "enable development (console) logging")
	h2c := flag.Bool("h2c", false, "opt this listener into HTTP/2 cleartext (prior-knowledge), off by default")
	flag.Parse()

	logger := obs.Must(*development)
	defer logger.Sync()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}

	metrics := obs.NewMetrics()

	state, err := engine.New(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to initialize runtime", zap.Error(err))
		os.Exit(1)
	}

	router := server.NewRouter(state, metrics, logger)

	addr := net.JoinHostPort("", strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to bind listener", zap.String("addr", addr), zap.Error(err))
		os.Exit(1)
	}

	httpServer := &http.Server{Handler: httpapi.WrapH2C(router, *h2c)}

	logger.Info("mik runtime starting",
		zap.String("addr", ln.Addr().String()),
		zap.String("modules_dir", cfg.ModulesDir),
		zap.String("user_modules_dir", cfg.UserModulesDir),
		zap.Bool("hot_reload", cfg.HotReload),
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

	state.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := state.Close(ctx); err != nil {
		logger.Warn("runtime close reported an error", zap.Error(err))
	}

	logger.Info("mik runtime stopped")
}

func loadConfig(path string) (*config.HostConfig, error) {
	if path == "" {
		cfg := config.DefaultHostConfig()
		config.ApplyEnvOverrides(cfg)
		if errs := cfg.Validate(); len(errs) > 0 {
			return nil, errs[0]
		}
		return cfg, nil
	}
	return config.Load(path)
}
