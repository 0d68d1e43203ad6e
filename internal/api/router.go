package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"coworkerbot/internal/core"
	"coworkerbot/internal/interact"
	"coworkerbot/internal/store"
	"coworkerbot/internal/taskmaster"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the components the HTTP surface reads from and controls.
type Deps struct {
	Scheduler *core.Scheduler
	Store     *store.Store
	Master    *taskmaster.Loader
	// Prompts is nil when confirmations are answered on the console.
	Prompts *interact.Prompts
	// MCP is mounted at /mcp when set.
	MCP http.Handler
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	scheduler  *core.Scheduler
	store      *store.Store
	master     *taskmaster.Loader
	prompts    *interact.Prompts
	mcp        http.Handler
	logger     *slog.Logger
	location   *time.Location
	authToken  string
}

// NewServer constructs the HTTP API server.
func NewServer(addr string, authToken string, deps Deps, logger *slog.Logger, location *time.Location) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	if location == nil {
		location = time.Local
	}
	s := &Server{
		router:    router,
		scheduler: deps.Scheduler,
		store:     deps.Store,
		master:    deps.Master,
		prompts:   deps.Prompts,
		mcp:       deps.MCP,
		logger:    logger,
		location:  location,
		authToken: authToken,
	}
	s.registerRoutes()

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	s.httpServer = httpServer
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.mcp != nil {
		var mcpHandler = s.mcp
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{taskID}", s.handleGetTask)
		r.Get("/tasks/{taskID}/history", s.handleTaskHistory)
		r.Get("/groups", s.handleListGroups)
		r.Get("/validation", s.handleValidation)
		r.Get("/schedule/preview", s.handleSchedulePreview)

		r.Route("/batches", func(r chi.Router) {
			r.Get("/", s.handleListBatches)
			r.Post("/", s.handleStartBatch)
			r.Get("/{batchID}", s.handleGetBatch)
			r.Get("/{batchID}/tasks", s.handleListBatchTasks)
		})

		r.Get("/status", s.handleStatus)
		r.Route("/control", func(r chi.Router) {
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/cancel", s.handleCancel)
		})

		r.Get("/prompts", s.handleListPrompts)
		r.Post("/prompts/{promptID}/ack", s.handleAckPrompt)
	})
}
