package metric

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
)

// Server serves the Prometheus metrics and the health endpoint
type Server struct {
	port     int
	path     string
	server   *http.Server
	registry *MetricsRegistry
	health   http.Handler
	extra    map[string]http.Handler
	mu       sync.Mutex // protects server field
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithHealthHandler replaces the default "OK" health handler
func WithHealthHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.health = h
	}
}

// WithHandler mounts an additional handler, such as the WebSocket push
// endpoint, on the same listener.
func WithHandler(pattern string, h http.Handler) ServerOption {
	return func(s *Server) {
		s.extra[pattern] = h
	}
}

// NewServer creates a new metrics server with the provided registry
func NewServer(port int, path string, registry *MetricsRegistry, opts ...ServerOption) *Server {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = 9090
	}

	s := &Server{
		port:     port,
		path:     path,
		registry: registry,
		extra:    make(map[string]http.Handler),
		health: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the HTTP handler served by the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	mux.Handle("/health", s.health)
	for pattern, h := range s.extra {
		mux.Handle(pattern, h)
	}
	return mux
}

// Start starts the metrics HTTP server and blocks until it is stopped
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"Server", "Start", "cannot start server that is already running")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(
			fmt.Errorf("nil registry"),
			"Server", "Start", "metrics registry not provided")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}
	s.server = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("failed to start server on port %d", s.port))
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		err := s.server.Shutdown(ctx)
		s.server = nil // reset server field to allow restart
		if err != nil {
			return errors.WrapTransient(err, "Server", "Stop", "shutdown HTTP server")
		}
	}
	return nil
}

// Address returns the metrics URL
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, s.path)
}
