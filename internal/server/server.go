// Package server is the composition root: it builds the storage,
// execution and fix pipeline from a config.Config and mounts the handlers
// on a chi router.
//
//	sqlite.DB ──────────────────────────────────────→ WorkspaceService
//	session.Store → executor.Client → chunk.Bisector ┐
//	fixer.Fixer ─────────────────────────────────────┴→ service.Playground
//
// cmd/server builds the execution backend and completion provider first
// and hands them in, so tests can substitute fakes for both.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/autofix-playground/internal/auth"
	"github.com/sakif/autofix-playground/internal/chunk"
	"github.com/sakif/autofix-playground/internal/config"
	"github.com/sakif/autofix-playground/internal/executor"
	"github.com/sakif/autofix-playground/internal/fixer"
	"github.com/sakif/autofix-playground/internal/handler"
	"github.com/sakif/autofix-playground/internal/middleware"
	sqliteRepo "github.com/sakif/autofix-playground/internal/repository/sqlite"
	"github.com/sakif/autofix-playground/internal/service"
	"github.com/sakif/autofix-playground/internal/session"
)

// Server owns the database, the session store and the per-workspace
// orchestrators. Close releases them in reverse order of creation.
type Server struct {
	router     *chi.Mux
	config     *config.Config
	logger     *slog.Logger
	db         *sqliteRepo.DB
	sessions   *session.Store
	playground *service.Playground
}

// New creates a new Server.
//
// backend runs programs (piston or docker); completer answers prompts
// (OpenAI-compatible or Gemini). Both are built by the caller so main can
// decide what to do when one is unavailable.
func New(cfg *config.Config, backend executor.Executor, completer fixer.Completer, logger *slog.Logger) (*Server, error) {
	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// === AUTH ===
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	// === EXECUTION PIPELINE ===
	sessions := session.NewStore(session.Config{
		TTL:          cfg.Session.TTL,
		MaxSessions:  cfg.Session.MaxSessions,
		ReapInterval: cfg.Session.ReapInterval,
	}, logger.With(slog.String("component", "sessions")))
	sessions.Start()

	client := executor.NewClient(backend, sessions, executor.ClientConfig{
		Versions:       cfg.Executor.Versions,
		LegacySentinel: cfg.Executor.LegacySentinel,
	}, logger.With(slog.String("component", "executor")))

	bisector := chunk.NewBisector(client, chunk.Config{
		MaxChunks:   cfg.Bisect.MaxChunks,
		Concurrency: cfg.Bisect.Concurrency,
		Budget:      cfg.Bisect.Budget,
	}, logger.With(slog.String("component", "bisect")))

	fx := fixer.New(completer, fixer.Config{Temperature: cfg.Fixer.Temperature},
		logger.With(slog.String("component", "fixer")))

	playground := service.NewPlayground(db, db, client, bisector, fx, service.OrchestratorConfig{
		MaxFixAttempts: cfg.Orchestrator.MaxFixAttempts,
		Backoff:        cfg.Orchestrator.Backoff,
		RunTimeout:     cfg.Orchestrator.RunTimeout,
	}, logger.With(slog.String("component", "playground")))

	s := &Server{
		router:     chi.NewRouter(),
		config:     cfg,
		logger:     logger,
		db:         db,
		sessions:   sessions,
		playground: playground,
	}

	workspaces := service.NewWorkspaceService(db, db, tokens, auth.NewSecretService(), logger)
	s.setupRoutes(tokens, workspaces, client)
	return s, nil
}

// Handler returns the router, for tests and for embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                          → liveness
// GET    /api/languages                    → supported languages
// POST   /api/execute                      → raw run / continue, no workspace
// POST   /api/workspaces                   → create workspace, returns first token
// POST   /api/workspaces/{id}/token        → trade secret for a new token
//
// Token required (auth.RequireWorkspace):
// GET    /api/workspaces/{id}              → workspace
// PUT    /api/workspaces/{id}              → update name / language / code
// DELETE /api/workspaces/{id}              → delete workspace and history
// GET    /api/workspaces/{id}/snapshot     → orchestrator state
// POST   /api/workspaces/{id}/run          → analyze, fix, run
// POST   /api/workspaces/{id}/input        → continue a suspended run
// POST   /api/workspaces/{id}/compose      → generate code, then run
// POST   /api/workspaces/{id}/ask          → ask the assistant
// GET    /api/workspaces/{id}/runs         → run history
// GET    /api/workspaces/{id}/events       → websocket event stream
//
// RequestID runs before Logger so every log line carries the request ID.
func (s *Server) setupRoutes(tokens *auth.TokenService, workspaces *service.WorkspaceService, client *executor.Client) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	executeHandler := handler.NewExecuteHandler(client, s.logger)
	workspaceHandler := handler.NewWorkspaceHandler(workspaces, s.playground, s.logger)
	playgroundHandler := handler.NewPlaygroundHandler(s.playground, s.config.AllowedOrigins, s.logger)

	s.router.Get("/healthz", handler.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/languages", executeHandler.HandleLanguages)
		r.Post("/execute", executeHandler.HandleExecute)

		r.Post("/workspaces", workspaceHandler.HandleCreate)
		r.Post("/workspaces/{id}/token", workspaceHandler.HandleToken)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireWorkspace(tokens, "id"))

			r.Get("/workspaces/{id}", workspaceHandler.HandleGet)
			r.Put("/workspaces/{id}", workspaceHandler.HandleUpdate)
			r.Delete("/workspaces/{id}", workspaceHandler.HandleDelete)
			r.Get("/workspaces/{id}/runs", workspaceHandler.HandleRuns)

			r.Get("/workspaces/{id}/snapshot", playgroundHandler.HandleSnapshot)
			r.Post("/workspaces/{id}/run", playgroundHandler.HandleRun)
			r.Post("/workspaces/{id}/input", playgroundHandler.HandleInput)
			r.Post("/workspaces/{id}/compose", playgroundHandler.HandleCompose)
			r.Post("/workspaces/{id}/ask", playgroundHandler.HandleAsk)
			r.Get("/workspaces/{id}/events", playgroundHandler.HandleEvents)
		})
	})
}

// Close stops the orchestrators and the session janitor, then closes the
// database.
func (s *Server) Close() error {
	s.playground.Close()
	s.sessions.Close()
	return s.db.Close()
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests for
// up to 30s and calls Close. WriteTimeout is long since one run can wait on
// several completions and executions before it responds.
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing server resources", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("backend", s.config.Executor.Backend),
			slog.String("provider", s.config.Fixer.Provider),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
