package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cosi-lab/authd/internal/apake"
	"github.com/cosi-lab/authd/internal/config"
	"github.com/cosi-lab/authd/internal/directory"
	"github.com/cosi-lab/authd/internal/logging"
	"github.com/cosi-lab/authd/internal/metrics"
	"github.com/cosi-lab/authd/internal/server"
	"github.com/cosi-lab/authd/internal/session"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	flags := config.ParseFlags()

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading TLS certificate: %v\n", err)
		os.Exit(1)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   cfg.MinTLSVersion(),
	}
	logger.Info("TLS configured",
		slog.String("cert", cfg.Cert),
		slog.String("min_version", cfg.TLSMinVersion))

	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	setupBytes, err := os.ReadFile(cfg.OpaqueServerSetup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading opaque server setup: %v\n", err)
		os.Exit(1)
	}
	setup, err := apake.UnmarshalServerSetup(setupBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing opaque server setup: %v\n", err)
		os.Exit(1)
	}
	adapter, err := apake.NewAdapter(setup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building aPAKE adapter: %v\n", err)
		os.Exit(1)
	}

	store, err := directory.New(cfg.PasswdFile, cfg.GroupFile, cfg.ShadowFile, cfg.OpaqueCookies)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening directory store: %v\n", err)
		os.Exit(1)
	}

	shared := &session.Shared{
		Store:   store,
		APake:   adapter,
		Logger:  logger,
		Metrics: collector,
	}

	srv, err := server.New(server.Config{
		Cfg:       &cfg,
		TLSConfig: tlsConfig,
		Logger:    logger,
		Shared:    shared,
		Metrics:   collector,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating server: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Enabled {
		reg, ok := prometheus.DefaultRegisterer.(*prometheus.Registry)
		if !ok {
			reg = prometheus.NewRegistry()
		}
		metricsServer := metrics.NewHTTPServer(cfg.Metrics.Address, cfg.Metrics.Path, reg)
		go func() {
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics server started", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
	}

	logger.Info("starting authd", "authoritative_name", cfg.AuthoritativeName, "listeners", len(cfg.BindAddrs))

	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("authd stopped")
}
