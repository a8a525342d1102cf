// Package server exposes the gateway over HTTP. Every request outside the
// admin API and the metrics endpoint is proxied through the gateway.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/trafficgw/internal/gateway"
	"github.com/vyrodovalexey/trafficgw/internal/observability"
)

// Server timeouts.
const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

// ginModeOnce sets the gin mode once per process.
var ginModeOnce sync.Once

// Server is the HTTP front door of the gateway.
type Server struct {
	gw      *gateway.Gateway
	engine  *gin.Engine
	logger  observability.Logger
	metrics *observability.Metrics

	address     string
	metricsPath string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics serves the Prometheus registry of metrics at path.
func WithMetrics(metrics *observability.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = metrics
		s.metricsPath = path
	}
}

// WithAddress sets the listen address.
func WithAddress(address string) Option {
	return func(s *Server) {
		s.address = address
	}
}

// New creates a server for gw.
func New(gw *gateway.Gateway, opts ...Option) *Server {
	s := &Server{
		gw:      gw,
		logger:  observability.NopLogger(),
		address: ":8080",
	}

	for _, opt := range opts {
		opt(s)
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})
	s.engine = gin.New()
	s.engine.HandleMethodNotAllowed = false
	s.engine.Use(Recovery(s.logger), RequestID(), Tracing(), Logging(s.logger))

	s.registerAdminRoutes(s.engine.Group(AdminPrefix))
	if s.metrics != nil && s.metricsPath != "" {
		s.engine.GET(s.metricsPath, gin.WrapH(s.metrics.Handler()))
	}
	s.engine.NoRoute(s.proxy)

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start starts listening. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("server is already running")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("server started",
		observability.String("address", ln.Addr().String()),
	)

	go s.serve(srv, ln)

	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener) {
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		s.logger.Error("server error", observability.Error(err))
	}
	s.running.Store(false)
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down gracefully, closing it when ctx expires first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil || !s.running.Load() {
		return nil
	}

	s.logger.Info("stopping server")

	if err := srv.Shutdown(ctx); err != nil {
		if closeErr := srv.Close(); closeErr != nil {
			return fmt.Errorf("failed to close server: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	s.running.Store(false)
	s.logger.Info("server stopped")

	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}
