// Package api exposes the trigger contract over HTTP: start a cycle, read
// the last cycle's summary, and a health probe for the scheduler.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/pkg/httputil"
	"github.com/ignite/coldsync/internal/pkg/logger"
	"github.com/ignite/coldsync/internal/state"
	"github.com/ignite/coldsync/internal/sync"
)

// CycleRunner starts reconciliation cycles.
type CycleRunner interface {
	RunCycle(ctx context.Context, opts sync.Options) (*domain.CycleSummary, error)
}

// Server holds the API's dependencies.
type Server struct {
	runner    CycleRunner
	summaries state.SummaryStore
}

// NewServer creates the API server.
func NewServer(runner CycleRunner, summaries state.SummaryStore) *Server {
	return &Server{runner: runner, summaries: summaries}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Get("/last", s.handleLast)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// runRequest carries optional per-run overrides.
type runRequest struct {
	DryRun      bool `json:"dry_run"`
	TargetLeads int  `json:"target_leads"`
	BatchSize   int  `json:"batch_size"`
}

// handleRun starts a cycle synchronously and returns its summary. A
// concurrent trigger gets a 409 instead of a queued duplicate.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength > 0 {
		if !httputil.Decode(w, r, &req) {
			return
		}
	}
	if req.TargetLeads < 0 || req.BatchSize < 0 {
		httputil.BadRequest(w, "target_leads and batch_size must be non-negative")
		return
	}

	start := time.Now()
	summary, err := s.runner.RunCycle(r.Context(), sync.Options{
		DryRun:      req.DryRun,
		TargetLeads: req.TargetLeads,
		BatchSize:   req.BatchSize,
	})
	if errors.Is(err, sync.ErrCycleRunning) {
		httputil.Conflict(w, "a sync cycle is already running")
		return
	}
	if err != nil && summary == nil {
		httputil.InternalError(w, err)
		return
	}
	if err != nil {
		// The cycle ran but aborted partway; return what happened along
		// with the reason.
		logger.Error("api: cycle finished with error", "error", err, "took", time.Since(start).String())
		httputil.JSON(w, http.StatusInternalServerError, map[string]any{
			"error":   err.Error(),
			"summary": summary,
		})
		return
	}

	httputil.OK(w, summary)
}

func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	summary, err := s.summaries.Last(r.Context())
	if errors.Is(err, state.ErrNotFound) {
		httputil.Error(w, http.StatusNotFound, "no cycles recorded yet")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, summary)
}
