package listener

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Handler is the subset of forwarder.Forwarder the Listener depends on -
// kept as an interface so the accept loop has no compile-time dependency
// on the forwarding implementation.
type Handler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Config tunes the listener's bind address and shutdown grace period.
type Config struct {
	Addr          string
	ShutdownGrace time.Duration
}

func DefaultConfig(addr string) Config {
	return Config{Addr: addr, ShutdownGrace: 10 * time.Second}
}

// Listener binds the configured address and dispatches every inbound
// connection to the Forwarder, supporting persistent HTTP/1.1 connections
// via net/http.Server's own connection-reuse loop, and CONNECT tunnels via
// the Forwarder's http.Hijacker use.
//
// Built on net/http.Server rather than a third-party HTTP framework: raw
// TCP hijacking plus HTTP/1.1 request-line parsing for a forward proxy is
// exactly net/http's own Handler/Hijacker contract, and no framework in
// the example pack offers a more idiomatic primitive for it (see
// DESIGN.md). Grounded structurally on the teacher's Application.Start -
// listener lifecycle with graceful shutdown via http.Server.Shutdown
// bounded by a grace context.
type Listener struct {
	server *http.Server
	cfg    Config
	log    *slog.Logger
}

func New(cfg Config, handler Handler, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	return &Listener{
		server: &http.Server{
			Addr:    cfg.Addr,
			Handler: http.HandlerFunc(handler.ServeHTTP),
		},
		cfg: cfg,
		log: log,
	}
}

// Start begins accepting connections and blocks until the server stops,
// either because Shutdown was called or a fatal accept error occurred.
func (l *Listener) Start() error {
	l.log.Info("listener starting", "addr", l.cfg.Addr)
	err := l.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and gives in-flight requests
// up to cfg.ShutdownGrace to complete before forcibly closing their
// sockets.
func (l *Listener) Shutdown(ctx context.Context) error {
	gracefulCtx, cancel := context.WithTimeout(ctx, l.cfg.ShutdownGrace)
	defer cancel()
	err := l.server.Shutdown(gracefulCtx)
	if err != nil {
		_ = l.server.Close()
	}
	return err
}
