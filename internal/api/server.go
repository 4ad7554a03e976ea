// Package api exposes the HTTP interface for the mention pipeline: health
// probes, Prometheus metrics, manual scan triggers, and read access to
// mentions and run logs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mentionwatch/mentionwatch/internal/config"
	"github.com/mentionwatch/mentionwatch/internal/metrics"
	"github.com/mentionwatch/mentionwatch/internal/monitor"
	"github.com/mentionwatch/mentionwatch/internal/orchestrator"
)

const (
	defaultMentionsLimit = 50
	maxMentionsLimit     = 500
	defaultRunsLimit     = 50
	maxRunsLimit         = 500
	scanTimeout          = 120 * time.Second
)

// Server wires HTTP handlers to the orchestrator and gateway.
type Server struct {
	router  chi.Router
	gateway monitor.Gateway
	orch    *orchestrator.Orchestrator
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	gateway monitor.Gateway,
	orch *orchestrator.Orchestrator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		gateway: gateway,
		orch:    orch,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/keywords", s.listKeywords)
		r.Route("/keywords/{term}", func(r chi.Router) {
			r.Post("/scan", s.triggerScan)
			r.Get("/mentions", s.listMentions)
		})
		r.Get("/runs", s.listRuns)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if _, err := s.gateway.ListActiveKeywords(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := s.gateway.ListActiveKeywords(r.Context())
	if err != nil {
		s.logger.Error("list keywords failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list keywords")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keywords": keywords})
}

// triggerScan handles POST /v1/keywords/{term}/scan?count=. It runs one
// synchronous scan across every enabled source and returns the run log entry.
func (s *Server) triggerScan(w http.ResponseWriter, r *http.Request) {
	term := chi.URLParam(r, "term")
	if strings.TrimSpace(term) == "" {
		writeError(w, http.StatusBadRequest, "keyword term required")
		return
	}
	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), scanTimeout)
	defer cancel()

	entry, err := s.orch.ScanTerm(ctx, term, count)
	if err != nil {
		switch {
		case errors.Is(err, monitor.ErrMisconfiguredCredential):
			writeError(w, http.StatusBadGateway, err.Error())
		case strings.Contains(err.Error(), "not tracked"):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			s.logger.Error("manual scan failed", zap.String("term", term), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "scan failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": entry})
}

// listMentions handles GET /v1/keywords/{term}/mentions?limit=&before=. The
// before parameter is an RFC 3339 timestamp cursor; results are newest first.
func (s *Server) listMentions(w http.ResponseWriter, r *http.Request) {
	term := chi.URLParam(r, "term")
	kw, ok, err := s.findKeyword(r.Context(), term)
	if err != nil {
		s.logger.Error("keyword lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load keyword")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "keyword not tracked")
		return
	}

	limit, err := parseLimit(r, defaultMentionsLimit, maxMentionsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var cursor time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		cursor, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be RFC 3339")
			return
		}
	}

	records, err := s.gateway.QueryByKeyword(r.Context(), kw.ID, limit, cursor)
	if err != nil {
		s.logger.Error("query mentions failed", zap.String("term", term), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load mentions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keyword":  kw.Term,
		"mentions": records,
		"snapshot": kw.Snapshot,
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultRunsLimit, maxRunsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := s.gateway.ListRunLogs(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": logs})
}

func (s *Server) findKeyword(ctx context.Context, term string) (monitor.Keyword, bool, error) {
	keywords, err := s.gateway.ListActiveKeywords(ctx)
	if err != nil {
		return monitor.Keyword{}, false, err
	}
	for _, kw := range keywords {
		if strings.EqualFold(kw.Term, term) {
			return kw, true, nil
		}
	}
	return monitor.Keyword{}, false, nil
}

func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
