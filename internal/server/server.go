// Package server wires the HTTP router, middleware and handlers.
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
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/vidgrab/internal/errors"
	"github.com/3leaps/vidgrab/internal/observability"
	"github.com/3leaps/vidgrab/internal/server/handlers"
	"github.com/3leaps/vidgrab/internal/server/middleware"
)

// Server is the HTTP front end of the service.
type Server struct {
	host   string
	port   int
	router chi.Router
	logger *zap.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	jobs        *handlers.JobHandlers
	auth        *handlers.AuthHandlers
	limiter     *middleware.RateLimiter
	corsOrigins []string

	httpServer *http.Server
	listener   net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithJobs mounts /download, /progress/{id} and /get_video/{id}.
func WithJobs(h *handlers.JobHandlers) Option {
	return func(s *Server) { s.jobs = h }
}

// WithAuth mounts /, /authorize, /oauth2callback and /auth/status.
func WithAuth(h *handlers.AuthHandlers) Option {
	return func(s *Server) { s.auth = h }
}

// WithRateLimit limits POST /download per client IP. perSecond <= 0 disables
// limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 {
			s.limiter = middleware.NewRateLimiter(perSecond, burst)
		}
	}
}

// WithCORS enables CORS for the given origins.
func WithCORS(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithTimeouts sets the http.Server timeouts. Zero values keep the defaults.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// WithLogger sets the request logger. Defaults to observability.ServerLogger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a server bound to host:port. Routes are registered immediately.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		logger:       observability.ServerLogger,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery)
	r.Use(chimw.CleanPath)
	if len(s.corsOrigins) > 0 {
		r.Use(middleware.CORS(s.corsOrigins))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.NewNotFound("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, &apperrors.AppError{
			Status:  http.StatusMethodNotAllowed,
			Code:    apperrors.CodeMethodNotAllowed,
			Message: "method not allowed",
			Err:     apperrors.ErrMethodNotAllowed,
		})
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.jobs != nil {
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}
			r.Post("/download", s.jobs.Download)
		})
		r.Get("/progress/{id}", s.jobs.Progress)
		r.Get("/get_video/{id}", s.jobs.GetVideo)
	}

	if s.auth != nil {
		r.Get("/", s.auth.Index)
		r.Get("/authorize", s.auth.Authorize)
		r.Get("/oauth2callback", s.auth.Callback)
		r.Get("/auth/status", s.auth.Status)
	}

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port. After Listen with port 0 it returns the
// bound port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	s.listener = ln
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcp.Port
	}
	return nil
}

// Serve runs the HTTP server until Shutdown and returns nil after a graceful
// shutdown. Call Listen first when the bound port is needed.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.logger.Info("HTTP server listening", zap.String("addr", s.listener.Addr().String()))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
