// Package server hosts the goflash HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/goflash/internal/errors"
	"github.com/3leaps/goflash/internal/server/handlers"
	"github.com/3leaps/goflash/internal/server/middleware"
	"github.com/3leaps/goflash/pkg/compiler"
	"github.com/3leaps/goflash/pkg/jobregistry"
)

// Server wraps the router and the underlying http.Server.
type Server struct {
	host   string
	port   int
	router chi.Router
	opts   options
	http   *http.Server
}

type options struct {
	logger       *zap.Logger
	registry     *compiler.Registry
	boards       handlers.BoardLister
	jobs         *jobregistry.Store
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// Option configures a Server.
type Option func(*options)

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCompiler mounts the compile, upload, flash, port and boards routes.
func WithCompiler(registry *compiler.Registry, boards handlers.BoardLister) Option {
	return func(o *options) {
		o.registry = registry
		o.boards = boards
	}
}

// WithJobs mounts the job registry routes.
func WithJobs(store *jobregistry.Store) Option {
	return func(o *options) { o.jobs = store }
}

// WithTimeouts sets the http.Server timeouts. Zero values keep the defaults.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(o *options) {
		if read > 0 {
			o.readTimeout = read
		}
		if write > 0 {
			o.writeTimeout = write
		}
		if idle > 0 {
			o.idleTimeout = idle
		}
	}
}

// New builds a server listening on host:port. Nothing is bound until Start.
func New(host string, port int, opts ...Option) *Server {
	o := options{
		logger:       zap.NewNop(),
		readTimeout:  30 * time.Second,
		writeTimeout: 300 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	s := &Server{host: host, port: port, opts: o}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       o.readTimeout,
		WriteTimeout:      o.writeTimeout,
		IdleTimeout:       o.idleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(s.opts.logger))
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.NewNotFound(fmt.Sprintf("No route for %s %s", r.Method, r.URL.Path)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.NewMethodNotAllowed(fmt.Sprintf("Method %s not allowed on %s", r.Method, r.URL.Path)))
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	r.Route("/v1", func(r chi.Router) {
		if s.opts.registry != nil {
			handlers.NewCompilerHandler(s.opts.registry, s.opts.boards, s.opts.logger).Routes(r)
		}
		handlers.NewJobsHandler(s.opts.jobs).Routes(r)
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.opts.logger.Info("HTTP server listening", zap.String("addr", s.Addr()))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
