// Package server exposes the workflow over HTTP: a JSON ask endpoint, an
// SSE streaming variant, run lookup, and CSV export downloads.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/metrics"
	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/store"
	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/workflow"
)

// Runner is the slice of the engine the server drives.
type Runner interface {
	RunWithProgress(ctx context.Context, question string, history []workflow.ConversationMessage, onProgress workflow.ProgressCallback) (*workflow.RunResult, error)
}

// DefaultHistoryLimit bounds how many prior turns are fed into a run.
const DefaultHistoryLimit = 20

// Config wires the server's collaborators.
type Config struct {
	Logger       *slog.Logger
	Engine       Runner
	Store        store.Store
	ExportDir    string
	HistoryLimit int
}

// Server is the HTTP front end. It is the run driver: it loads session
// history, drives the engine, and persists the outcome.
type Server struct {
	cfg    Config
	router chi.Router
}

// New validates configuration and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}

	s := &Server{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/ask", s.handleAsk)
		r.Post("/ask/stream", s.handleAskStream)
		r.Get("/runs/{id}", s.handleGetRun)
		if cfg.ExportDir != "" {
			r.Get("/exports/{name}", s.handleDownloadExport)
		}
	})

	s.router = r
	return s, nil
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// runWorkflow is the run driver: session history in, engine traversal,
// persisted outcome back. Store failures are logged, never fatal to the
// request, except run creation.
func (s *Server) runWorkflow(ctx context.Context, sessionID, question string, onProgress workflow.ProgressCallback) (*workflow.RunResult, *store.Run, error) {
	var history []workflow.ConversationMessage
	if sessionID != "" {
		var err error
		history, err = s.cfg.Store.History(ctx, sessionID, s.cfg.HistoryLimit)
		if err != nil {
			s.cfg.Logger.Warn("server: failed to load history", "session", sessionID, "error", err)
		}
	}

	run, err := s.cfg.Store.CreateRun(ctx, sessionID, question)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create run: %w", err)
	}
	if sessionID != "" {
		if err := s.cfg.Store.AppendMessage(ctx, sessionID, "user", question); err != nil {
			s.cfg.Logger.Warn("server: failed to append user message", "error", err)
		}
	}

	start := time.Now()
	result, err := s.cfg.Engine.RunWithProgress(ctx, question, history, onProgress)
	if err != nil {
		if ferr := s.cfg.Store.FailRun(ctx, run.ID, err.Error()); ferr != nil {
			s.cfg.Logger.Warn("server: failed to record run failure", "error", ferr)
		}
		metrics.RecordRun(store.StatusFailed, time.Since(start), 0)
		return nil, run, err
	}

	if cerr := s.cfg.Store.CompleteRun(ctx, run.ID, result); cerr != nil {
		s.cfg.Logger.Warn("server: failed to record run completion", "error", cerr)
	}
	if sessionID != "" {
		if aerr := s.cfg.Store.AppendMessage(ctx, sessionID, "assistant", result.Answer); aerr != nil {
			s.cfg.Logger.Warn("server: failed to append assistant message", "error", aerr)
		}
	}
	metrics.RecordRun(store.StatusCompleted, time.Since(start), result.RetryCount)
	return result, run, nil
}
