// Package gateway provides the HTTP gateway server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"chatroute/internal/config"
	"chatroute/internal/gateway/handlers"
	"chatroute/internal/gateway/middleware"
	"chatroute/internal/routestate"
	"chatroute/pkg/logger"
)

// Deps are the collaborators the HTTP handlers need.
type Deps struct {
	Config   handlers.ConfigSource
	Routes   routestate.Store
	Runner   handlers.Runner
	Commands handlers.CommandDispatcher
	Defaults handlers.Defaults
	// Version is reported by the health endpoint; empty uses the config version.
	Version string
}

// Server represents the HTTP gateway server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	deps       Deps
	onShutdown []func()
}

// NewServer creates a new gateway server with its routes registered.
func NewServer(cfg *config.Config, deps Deps) *Server {
	router := mux.NewRouter()

	// Recovery -> RequestID -> Logging
	handler := middleware.Recovery(
		middleware.RequestID(
			middleware.Logging(router),
		),
	)

	readTimeout := cfg.Gateway.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	idleTimeout := cfg.Gateway.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 120 * time.Second
	}

	s := &Server{
		httpServer: &http.Server{
			Handler:     handler,
			ReadTimeout: readTimeout,
			// streamed chat responses are bounded by the request context
			WriteTimeout: 0,
			IdleTimeout:  idleTimeout,
		},
		router: router,
		config: cfg,
		deps:   deps,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the server routes.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.Handle("/chat", &handlers.ChatHandler{
		Config:   s.deps.Config,
		Routes:   s.deps.Routes,
		Runner:   s.deps.Runner,
		Commands: s.deps.Commands,
		Defaults: s.deps.Defaults,
	}).Methods(http.MethodPost)

	version := s.deps.Version
	if version == "" {
		version = s.config.Version
	}
	api.HandleFunc("/health", handlers.HealthHandler(version, s.deps.Config)).Methods(http.MethodGet)
	api.HandleFunc("/routes/{conversationId}", handlers.RoutesHandler(s.deps.Config, s.deps.Routes)).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.SendError(w, http.StatusNotFound, handlers.ErrCodeNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Gateway.Host, fmt.Sprint(s.config.Gateway.Port))
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	handlers.InitStartTime()
	s.httpServer.Addr = s.Addr()

	logger.Info().
		Str("addr", s.httpServer.Addr).
		Msg("Starting gateway server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// OnShutdown registers fn to run after the listener has stopped.
func (s *Server) OnShutdown(fn func()) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("Shutting down gateway server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	for _, fn := range s.onShutdown {
		fn()
	}
	if err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Router returns the underlying router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}
