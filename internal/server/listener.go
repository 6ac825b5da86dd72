package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/cosi-lab/authd/internal/logging"
	"github.com/cosi-lab/authd/internal/metrics"
	"github.com/cosi-lab/authd/internal/rpc"
	"github.com/cosi-lab/authd/internal/session"
)

// ListenerConfig configures a single bound address.
type ListenerConfig struct {
	Address     string
	TLSConfig   *tls.Config
	IdleTimeout time.Duration // carried from config; serve sets no read deadline from it
	Logger      *slog.Logger
	Shared      *session.Shared
	Metrics     metrics.Collector
	Global      *ConnectionLimiter
	PerIP       func(remoteIP string) *ConnectionLimiter
}

// Listener accepts connections on one address, enforces the global and
// per-IP connection limiters (over-limit connections are queued, never
// rejected), and serves each one via the RPC dispatcher.
type Listener struct {
	cfg      ListenerConfig
	listener net.Listener
}

// NewListener creates a Listener from cfg. The underlying net.Listener is
// not opened until Start is called.
func NewListener(cfg ListenerConfig) *Listener {
	return &Listener{cfg: cfg}
}

// Address returns the configured bind address.
func (l *Listener) Address() string {
	return l.cfg.Address
}

// Start opens the listening socket and accepts connections until ctx is
// canceled or Close is called.
func (l *Listener) Start(ctx context.Context) error {
	var (
		ln  net.Listener
		err error
	)
	if l.cfg.TLSConfig != nil {
		ln, err = tls.Listen("tcp", l.cfg.Address, l.cfg.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", l.cfg.Address)
	}
	if err != nil {
		return err
	}
	l.listener = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logger := logging.FromContext(ctx)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return context.Canceled
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return context.Canceled
			}
			logger.Error("accept failed", slog.String("error", err.Error()))
			continue
		}
		go l.serve(ctx, conn)
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	if l.listener == nil {
		return nil
	}
	return l.listener.Close()
}

func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remoteIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	var perIP *ConnectionLimiter
	if l.cfg.PerIP != nil {
		perIP = l.cfg.PerIP(remoteIP)
	}

	// Best-effort queuing: block (rather than reject) until a slot
	// opens. The limits are admission control, not refusal.
	l.acquire(ctx, l.cfg.Global)
	defer l.release(l.cfg.Global)
	if perIP != nil {
		l.acquire(ctx, perIP)
		defer l.release(perIP)
	}

	if l.cfg.Metrics != nil {
		l.cfg.Metrics.ConnectionOpened()
		defer l.cfg.Metrics.ConnectionClosed()
	}

	l.cfg.Logger.Info("connection opened", slog.String("remote", conn.RemoteAddr().String()))
	defer l.cfg.Logger.Info("connection closed", slog.String("remote", conn.RemoteAddr().String()))

	sess := session.New(l.cfg.Shared, conn.RemoteAddr())
	defer sess.Close()

	if err := rpc.Serve(conn, sess, l.cfg.Logger); err != nil {
		l.cfg.Logger.Debug("session ended", slog.String("remote", conn.RemoteAddr().String()), slog.String("error", err.Error()))
	}
}

func (l *Listener) acquire(ctx context.Context, lim *ConnectionLimiter) {
	if lim == nil {
		return
	}
	for !lim.TryAcquire() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (l *Listener) release(lim *ConnectionLimiter) {
	if lim != nil {
		lim.Release()
	}
}
