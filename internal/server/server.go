package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cosi-lab/authd/internal/config"
	"github.com/cosi-lab/authd/internal/logging"
	"github.com/cosi-lab/authd/internal/metrics"
	"github.com/cosi-lab/authd/internal/session"
)

// Server coordinates one Listener per configured bind address, all
// sharing the same daemon state.
type Server struct {
	cfg       *config.Config
	tlsConfig *tls.Config
	logger    *slog.Logger
	shared    *session.Shared
	metrics   metrics.Collector

	global  *ConnectionLimiter
	perIPMu sync.Mutex
	perIP   map[string]*ConnectionLimiter

	mu        sync.Mutex
	listeners []*Listener
}

// Config holds configuration for creating a new Server.
type Config struct {
	Cfg       *config.Config
	TLSConfig *tls.Config
	Logger    *slog.Logger
	Shared    *session.Shared
	Metrics   metrics.Collector
}

// New creates a new Server with the given configuration.
func New(sc Config) (*Server, error) {
	logger := sc.Logger
	if logger == nil {
		logger = logging.NewLogger(sc.Cfg.LogLevel)
	}

	return &Server{
		cfg:       sc.Cfg,
		tlsConfig: sc.TLSConfig,
		logger:    logger,
		shared:    sc.Shared,
		metrics:   sc.Metrics,
		global:    NewConnectionLimiter(sc.Cfg.Limits.MaxConnections),
		perIP:     make(map[string]*ConnectionLimiter),
	}, nil
}

// limiterForIP returns (creating if needed) the per-source-IP limiter
// for remoteIP, so one host cannot monopolize connection slots.
func (s *Server) limiterForIP(remoteIP string) *ConnectionLimiter {
	s.perIPMu.Lock()
	defer s.perIPMu.Unlock()
	lim, ok := s.perIP[remoteIP]
	if !ok {
		lim = NewConnectionLimiter(s.cfg.Limits.MaxConnectionsPerIP)
		s.perIP[remoteIP] = lim
	}
	return lim
}

// Run starts all configured listeners and blocks until the context is
// cancelled. The server's logger rides the context so the accept loops
// and anything they spawn log through the same handler.
func (s *Server) Run(ctx context.Context) error {
	ctx = logging.WithContext(ctx, s.logger)
	s.mu.Lock()
	for _, addr := range s.cfg.BindAddrs {
		l := NewListener(ListenerConfig{
			Address:     addr,
			TLSConfig:   s.tlsConfig,
			IdleTimeout: s.cfg.Timeouts.IdleTimeout(),
			Logger:      s.logger,
			Shared:      s.shared,
			Metrics:     s.metrics,
			Global:      s.global,
			PerIP:       s.limiterForIP,
		})
		s.listeners = append(s.listeners, l)
	}
	listeners := append([]*Listener(nil), s.listeners...)
	s.mu.Unlock()

	s.logger.Info("starting server",
		slog.String("authoritative_name", s.cfg.AuthoritativeName),
		slog.Int("listener_count", len(listeners)),
	)

	var wg sync.WaitGroup
	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		wg.Add(1)
		go func(l *Listener) {
			defer wg.Done()
			if err := l.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("listener %s: %w", l.Address(), err)
			}
		}(l)
	}

	<-ctx.Done()
	s.logger.Info("server shutting down")
	s.Shutdown()
	wg.Wait()
	close(errCh)

	var firstErr error
	for err := range errCh {
		if firstErr == nil {
			firstErr = err
		}
		s.logger.Error("listener error", slog.String("error", err.Error()))
	}
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// Shutdown closes all listeners, causing their accept loops to return.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		_ = l.Close()
	}
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}
