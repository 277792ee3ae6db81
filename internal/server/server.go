// File: internal/server/server.go
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/threatscope/internal/clock"
	"github.com/xkilldash9x/threatscope/internal/config"
	"github.com/xkilldash9x/threatscope/internal/kvstore"
	"github.com/xkilldash9x/threatscope/internal/policy"
)

// Server is the scan backend. Every request is gated by the shared
// SecurityPolicy, so limits and the audit trail are common with the CLI
// when both use the same store.
type Server struct {
	cfg        config.ServerConfig
	policy     *policy.SecurityPolicy
	results    kvstore.Bucket
	clock      clock.Clock
	log        *zap.Logger
	version    string
	storeLabel string
	tlsConfig  *tls.Config
}

// Option configures a Server.
type Option func(*Server)

func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithVersion sets the version reported by GET /.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithStoreLabel names the store backend reported by GET /.
func WithStoreLabel(label string) Option {
	return func(s *Server) { s.storeLabel = label }
}

// WithTLS serves HTTPS with cfg.
func WithTLS(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = cfg }
}

// New builds a Server. Scan results are persisted in store's primary namespace.
func New(cfg config.ServerConfig, p *policy.SecurityPolicy, store kvstore.Store, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		policy:     p,
		results:    kvstore.NewBucket(store, kvstore.Primary),
		clock:      clock.Real{},
		log:        zap.NewNop(),
		version:    "dev",
		storeLabel: "unknown",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("server")
	return s
}

// Handler returns the routed handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.WriteTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.WriteTimeout))
	}
	r.Use(s.securityHeaders)
	r.Use(s.cors)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/scan", s.handleScan)
	r.Get("/scan/{scanID}", s.handleGetScan)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondWithError(w, http.StatusNotFound, "Not Found", 0)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondWithError(w, http.StatusMethodNotAllowed, "Method Not Allowed", 0)
	})
	return r
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
// within the configured shutdown timeout. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		// The Timeout middleware answers slow handlers; leave room to write that reply.
		WriteTimeout: s.cfg.WriteTimeout + time.Second,
		ErrorLog:     zap.NewStdLog(s.log),
	}
	scheme := "http"
	if s.tlsConfig != nil {
		httpServer.TLSConfig = s.tlsConfig
		ln = tls.NewListener(ln, s.tlsConfig)
		scheme = "https"
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("Scan backend starting", zap.String("address", ln.Addr().String()), zap.String("scheme", scheme))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("Shutting down scan backend gracefully...")
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP server shutdown error", zap.Error(err))
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.log.Info("Scan backend stopped.")
	return err
}
