// Package httpapi exposes the Query, Index, and Admin APIs (spec §6) over
// HTTP, routed with chi the way the retrieval pack's chat-service example
// routes its own conversation API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ragpp/ragpp/internal/apperr"
	"github.com/ragpp/ragpp/internal/factstore"
	"github.com/ragpp/ragpp/internal/pipeline"
	"github.com/ragpp/ragpp/internal/profiling"
	"github.com/ragpp/ragpp/pkg/version"
)

// Server exposes the core's HTTP surface: POST /query, POST /index,
// POST /admin/kill, POST /admin/release, POST /admin/clear-cache,
// GET /admin/stats, GET /facts, GET /facts/stats.
type Server struct {
	router http.Handler
	app    *pipeline.App
	log    *slog.Logger
}

// New constructs a Server backed by app.
func New(app *pipeline.App, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{router: r, app: app, log: log}

	r.Get("/healthz", s.handleHealth)
	r.Post("/query", s.handleQuery)
	r.Post("/index", s.handleIndex)
	r.Post("/admin/kill", s.handleAdminKill)
	r.Post("/admin/release", s.handleAdminRelease)
	r.Post("/admin/clear-cache", s.handleAdminClearCache)
	r.Get("/admin/stats", s.handleAdminStats)
	r.Get("/facts", s.handleListFacts)
	r.Get("/facts/stats", s.handleFactsStats)
	r.Get("/debug/profile/heap", s.handleDebugProfile(profiling.WriteHeap))
	r.Get("/debug/profile/allocs", s.handleDebugProfile(profiling.WriteAllocs))
	r.Get("/debug/profile/goroutine", s.handleDebugProfile(profiling.WriteGoroutine))
	r.Get("/debug/profile/block", s.handleDebugProfile(profiling.WriteBlock))

	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Status string            `json:"status"`
		Build  version.BuildInfo `json:"build"`
	}{Status: "ok", Build: version.GetInfo()})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req pipeline.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeAppErr(w, apperr.InvalidInput("malformed query request body", err))
		return
	}

	resp, err := s.app.Answer(r.Context(), req)
	if err != nil {
		s.logStageErr("query", err)
		s.writeAppErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req pipeline.IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeAppErr(w, apperr.InvalidInput("malformed index request body", err))
		return
	}

	resp, err := s.app.IndexDocument(r.Context(), req)
	if err != nil {
		s.logStageErr("index", err)
		s.writeAppErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminKill(w http.ResponseWriter, _ *http.Request) {
	s.app.TriggerKill()
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminRelease(w http.ResponseWriter, _ *http.Request) {
	s.app.ReleaseKill()
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminClearCache(w http.ResponseWriter, _ *http.Request) {
	s.app.ClearCache()
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.app.GetStats())
}

// factView is the wire shape of a cached fact: it omits QuestionEmbedding,
// which is an internal implementation detail irrelevant to an operator
// inspecting the cache and expensive to serialize at scale.
type factView struct {
	Question    string               `json:"question"`
	Answer      string               `json:"answer"`
	Citations   []factstore.Citation `json:"citations"`
	Confidence  float32              `json:"confidence"`
	CreatedAt   time.Time            `json:"created_at"`
	LastAccess  time.Time            `json:"last_access"`
	AccessCount int64                `json:"access_count"`
}

func newFactView(f *factstore.Fact) factView {
	return factView{
		Question:    f.QuestionText,
		Answer:      f.Answer,
		Citations:   f.Citations,
		Confidence:  f.Confidence,
		CreatedAt:   f.CreatedAt,
		LastAccess:  f.LastAccess,
		AccessCount: f.AccessCount,
	}
}

// handleListFacts serves GET /facts?limit=N (spec §6.3, C3 list(limit)).
func (s *Server) handleListFacts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			appErr := apperr.InvalidInput("limit must be a non-negative integer", err)
			s.logStageErr("facts", appErr)
			s.writeAppErr(w, appErr)
			return
		}
		limit = n
	}

	facts := s.app.ListFacts(limit)
	views := make([]factView, len(facts))
	for i, f := range facts {
		views[i] = newFactView(f)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"facts": views})
}

// handleFactsStats serves GET /facts/stats.
func (s *Server) handleFactsStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.app.GetStats().Cache)
}

// handleDebugProfile adapts a profiling.Write* function into a handler
// that streams the pprof-format profile as the response body.
func (s *Server) handleDebugProfile(write func(io.Writer) error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		if err := write(w); err != nil {
			s.log.Error("profile write failed", "error", err)
		}
	}
}

func (s *Server) logStageErr(op string, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		s.log.Warn("request failed", "op", op, "code", appErr.Code, "kind", appErr.Kind)
		return
	}
	s.log.Error("request failed", "op", op, "error", err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("failed to write JSON response", "error", err)
	}
}

func (s *Server) writeAppErr(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		s.writeJSON(w, apperr.HTTPStatus(appErr.Kind), map[string]any{
			"error": appErr.Message,
			"code":  appErr.Code,
		})
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}
