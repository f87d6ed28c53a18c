// Package server exposes evaluations over HTTP: a synchronous endpoint, a
// submit/poll pair backed by the streaming pipeline, and a stats surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/evalx/searcheval/internal/adaptive"
	"github.com/evalx/searcheval/internal/auth"
	"github.com/evalx/searcheval/internal/cache"
	"github.com/evalx/searcheval/internal/cascade"
	"github.com/evalx/searcheval/internal/guardrails"
	"github.com/evalx/searcheval/internal/netx"
	"github.com/evalx/searcheval/internal/orchestrator"
	"github.com/evalx/searcheval/internal/pipeline"
)

// Config holds configuration for the HTTP server
type Config struct {
	Port           int
	Logger         *slog.Logger
	AllowedOrigins []string
	AuthMiddleware *auth.Middleware

	// ResultTimeout bounds how long GET /v1/queries/{id} waits by default.
	ResultTimeout time.Duration
}

// Server wraps the HTTP server and the components it fronts.
type Server struct {
	server *http.Server
	router *chi.Mux
	logger *slog.Logger

	orch       *orchestrator.Orchestrator
	pipe       *pipeline.Pipeline
	cacheMgr   *cache.Manager
	judges     *cascade.Cascade
	guard      *guardrails.Manager
	controller *adaptive.Controller

	resultTimeout time.Duration
}

// New creates the HTTP server and mounts all routes.
func New(cfg Config, orch *orchestrator.Orchestrator, pipe *pipeline.Pipeline, cacheMgr *cache.Manager, judges *cascade.Cascade, guard *guardrails.Manager, controller *adaptive.Controller) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = 30 * time.Second
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	if cfg.AuthMiddleware != nil {
		router.Use(cfg.AuthMiddleware.Handler)
	}

	s := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
		router:        router,
		logger:        logger,
		orch:          orch,
		pipe:          pipe,
		cacheMgr:      cacheMgr,
		judges:        judges,
		guard:         guard,
		controller:    controller,
		resultTimeout: cfg.ResultTimeout,
	}

	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", readinessCheckHandler())

	router.Route("/v1", func(r chi.Router) {
		r.Post("/evaluations", s.handleEvaluate)
		r.Post("/queries", s.handleSubmit)
		r.Get("/queries/{id}", s.handlePoll)
		r.Get("/stats", s.handleStats)
	})

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying chi router for additional route registration
func (s *Server) Router() *chi.Mux {
	return s.router
}

// handleEvaluate runs one evaluation synchronously.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	req.ClientID = clientID(r)

	report, err := s.orch.RunEvaluation(r.Context(), req)
	if err != nil {
		s.writeEvaluationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type submitRequest struct {
	Query      string   `json:"query"`
	Providers  []string `json:"providers"`
	MaxResults int      `json:"max_results,omitempty"`
}

// handleSubmit enqueues a query on the streaming pipeline.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	violations := s.guard.ValidateInput(req.Query, req.Providers, req.MaxResults, nil)
	if err := s.guard.Handle(violations); err != nil {
		writeError(w, http.StatusBadRequest, "blocked", err.Error())
		return
	}
	if !s.guard.Allow(clientID(r)) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "request quota exceeded")
		return
	}

	id, err := s.pipe.Submit(req.Query, req.Providers, req.MaxResults)
	if err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "overloaded", "pipeline queue full")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"query_id": id})
}

// handlePoll waits for a streamed result.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	timeout := s.resultTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 && d < timeout {
			timeout = d
		}
	}

	result, err := s.pipe.GetResult(r.Context(), id, timeout)
	if err != nil {
		if errors.Is(err, pipeline.ErrResultTimeout) {
			writeError(w, http.StatusGatewayTimeout, "timeout", "result not ready")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStats aggregates counters from every subsystem.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"cascade":     s.judges.Stats(),
		"guardrails":  s.guard.Stats(),
		"pipeline":    s.pipe.Stats(),
		"budget_tier": s.controller.BudgetTierNow().String(),
		"history_len": s.controller.History().Len(),
	}
	if s.cacheMgr != nil {
		stats["cache"] = s.cacheMgr.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeEvaluationError maps domain errors to HTTP status codes.
func (s *Server) writeEvaluationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, guardrails.ErrBlocked):
		writeError(w, http.StatusBadRequest, "blocked", err.Error())
	case errors.Is(err, guardrails.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.Is(err, netx.ErrBreakerOpen):
		writeError(w, http.StatusServiceUnavailable, "breaker_open", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func clientID(r *http.Request) string {
	if info, ok := auth.ClientFromContext(r.Context()); ok {
		return info.ID
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, reason string) {
	writeJSON(w, status, map[string]string{
		"error":  code,
		"reason": reason,
	})
}
