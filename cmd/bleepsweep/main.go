// Package main is the entry point for the bleepsweep purge server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bleepstore/bleepsweep/internal/config"
	"github.com/bleepstore/bleepsweep/internal/logging"
	"github.com/bleepstore/bleepsweep/internal/metrics"
	"github.com/bleepstore/bleepsweep/internal/server"
)

func main() {
	configPath := flag.String("config", "bleepsweep.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 9010)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if cfg.Observability.Metrics {
		metrics.Register()
	}

	ctx := context.Background()

	// A store that cannot be opened leaves the server up; purges then
	// report no-admin-creds while /health shows the failure.
	var opts []server.ServerOption
	store, err := cfg.OpenObjectStore(ctx)
	if err != nil {
		slog.Error("Object store unavailable", "backend", cfg.Storage.Backend, "error", err)
	} else {
		opts = append(opts, server.WithObjectStore(store))
	}

	refs, err := cfg.OpenReferenceSource(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize reference source: %v\n", err)
		os.Exit(1)
	}
	if refs != nil {
		defer refs.Close()
		opts = append(opts, server.WithReferenceSource(refs))
	}

	srv, err := server.New(cfg, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("bleepsweep listening", "addr", addr, "buckets", cfg.Sweep.Buckets,
			"storage", cfg.Storage.Backend, "metadata", cfg.Metadata.Engine)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// SIGTERM/SIGINT handler: stop accepting connections and wait for
	// in-flight sweeps with a timeout.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}
