package admin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/appcontext"
	"github.com/GoCodeAlone/appcontext/internal/logging"
	"github.com/GoCodeAlone/appcontext/registry"
)

// Phase starts the admin server after regular components and before the
// scheduler
const Phase = math.MaxInt32 / 4

// Definition property keys
const (
	PropertyAddress         = "address"
	PropertyShutdownTimeout = "shutdownTimeout"
)

// Defaults applied by Definition
const (
	DefaultAddress         = "${admin.address:127.0.0.1:8081}"
	DefaultShutdownTimeout = "${admin.shutdownTimeout:10s}"
)

// Server errors
var (
	ErrServerNotStarted = errors.New("admin server not started")
	ErrNoHandler        = errors.New("no handler configured for admin server")
)

// Logger is the structured key/value logger used by the server
type Logger = logging.Logger

// Server serves a handler as a lifecycle component
type Server struct {
	address         string
	handler         http.Handler
	logger          Logger
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithServerLogger sets the logger
func WithServerLogger(logger Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeouts sets the read, write and idle timeouts of the HTTP server
func WithTimeouts(read, write, idle time.Duration) ServerOption {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
		s.idleTimeout = idle
	}
}

// WithShutdownTimeout bounds graceful shutdown
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// NewServer creates a stopped server for handler listening on address
func NewServer(address string, handler http.Handler, opts ...ServerOption) *Server {
	s := &Server{
		address:         address,
		handler:         handler,
		logger:          logging.Nop{},
		readTimeout:     15 * time.Second,
		writeTimeout:    15 * time.Second,
		idleTimeout:     60 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Definition returns a component definition building a Server for the
// context that refreshes it. The address and shutdown timeout come from
// properties, which accept placeholders.
func Definition(name string, opts ...ServerOption) *registry.Definition {
	def := registry.NewDefinition(name, func(r registry.Resolver) (*Server, error) {
		target, err := r.ResolveByType(registry.TypeOf[*appcontext.Context]())
		if err != nil {
			return nil, err
		}
		ctx := target.(*appcontext.Context)
		serverOpts := []ServerOption{WithServerLogger(ctx.Logger())}
		if raw, ok := r.Property(PropertyShutdownTimeout); ok {
			timeout, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid %s %q: %w", name, PropertyShutdownTimeout, raw, err)
			}
			serverOpts = append(serverOpts, WithShutdownTimeout(timeout))
		}
		address, _ := r.Property(PropertyAddress)
		router := NewRouter(ctx, WithRouterLogger(ctx.Logger()))
		return NewServer(address, router, append(serverOpts, opts...)...), nil
	})
	return def.
		WithProperty(PropertyAddress, DefaultAddress).
		WithProperty(PropertyShutdownTimeout, DefaultShutdownTimeout)
}

// Start binds the listener and serves in the background
func (s *Server) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}
	if s.handler == nil {
		return ErrNoHandler
	}

	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("admin server listen on %s: %w", s.address, err)
	}
	server := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	s.server = server
	s.listener = ln

	go func() {
		s.logger.Info("Starting admin server", "address", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return ErrServerNotStarted
	}

	s.logger.Info("Stopping admin server", "timeout", s.shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down admin server: %w", err)
	}
	return nil
}

// IsRunning reports whether the server is serving
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server != nil
}

// Addr returns the bound address while running, or the configured one
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

func (s *Server) Phase() int {
	return Phase
}
