// Package web serves the status and control API of the greeter.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-greeter/internal/config"
	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/facematch"
	"github.com/kozaktomas/face-greeter/internal/logging"
	"github.com/kozaktomas/face-greeter/internal/web/handlers"
	"github.com/kozaktomas/face-greeter/internal/web/middleware"
)

const shutdownTimeout = 10 * time.Second

// Deps are the components the API reads from and drives. Only Store is required.
type Deps struct {
	Store       *facematch.Store
	Processor   handlers.StatsProvider
	Announcer   handlers.Announcer
	Persons     database.PersonReader
	Images      database.ImageReader
	Trainer     handlers.TrainerFactory
	TrainSource string
}

// Server represents the web server
type Server struct {
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	jobManager *handlers.JobManager
	logger     *zap.Logger
}

// NewServer creates a new web server
func NewServer(cfg config.WebConfig, deps Deps, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger).Named("web")
	r := chi.NewRouter()

	s := &Server{
		deps:       deps,
		router:     r,
		jobManager: handlers.NewJobManager(),
		logger:     logger,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No write timeout: training progress is streamed over SSE.
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and cancels running training jobs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")

	for _, job := range s.jobManager.ListJobs() {
		if st := job.GetStatus(); st == handlers.JobStatusPending || st == handlers.JobStatusRunning {
			job.Cancel()
		}
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
