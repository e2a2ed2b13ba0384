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

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/metrics"
	"github.com/JakeFAU/site-audit/internal/pipeline"
	"github.com/JakeFAU/site-audit/internal/service"
)

// DefaultRequestTimeout bounds every handler.
const DefaultRequestTimeout = 60 * time.Second

// AuditService is the submission and lookup surface. service.Service
// satisfies it.
type AuditService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (audit.Record, error)
	Get(ctx context.Context, id string) (audit.Record, error)
	List(ctx context.Context, targetURL string, limit int) ([]audit.Record, error)
}

// Previewer runs a synchronous provider fan-out. pipeline.Processor
// satisfies it.
type Previewer interface {
	Preview(ctx context.Context, targetURL, domain, keyword string) pipeline.PreviewResult
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Config controls the HTTP surface.
type Config struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	// Providers maps a provider name to whether its credential is set.
	Providers       map[string]bool
	FallbackEnabled bool
}

// Server wires HTTP handlers to the audit service.
type Server struct {
	router    chi.Router
	audits    AuditService
	previewer Previewer
	checks    []ReadinessCheck
	cfg       Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	audits AuditService,
	previewer Previewer,
	cfg Config,
	logger *zap.Logger,
	checks ...ReadinessCheck,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	s := &Server{
		audits:    audits,
		previewer: previewer,
		checks:    checks,
		cfg:       cfg,
		logger:    logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/audits", func(r chi.Router) {
			r.Post("/", s.submitAudit)
			r.Get("/", s.listAudits)
			r.Get("/{audit_id}", s.getAudit)
		})
		r.Route("/providers", func(r chi.Router) {
			r.Get("/preview", s.previewProviders)
			r.Get("/health", s.providerHealth)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.checks {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitResponse struct {
	AuditID string       `json:"audit_id"`
	Status  audit.Status `json:"status"`
}

func (s *Server) submitAudit(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rec, err := s.audits.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, audit.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusRequestTimeout, err.Error())
		default:
			s.logger.Error("submit audit failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to queue audit")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{AuditID: rec.ID, Status: rec.Status})
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "audit_id")
	rec, err := s.audits.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audit not found")
			return
		}
		s.logger.Error("get audit failed", zap.String("audit_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load audit")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type listResponse struct {
	TargetURL string         `json:"target_url"`
	Audits    []audit.Record `json:"audits"`
}

func (s *Server) listAudits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	target := q.Get("target_url")
	recs, err := s.audits.List(r.Context(), target, limit)
	if err != nil {
		if errors.Is(err, audit.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("list audits failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list audits")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{TargetURL: strings.TrimSpace(target), Audits: recs})
}

func (s *Server) previewProviders(w http.ResponseWriter, r *http.Request) {
	if s.previewer == nil {
		writeError(w, http.StatusNotImplemented, "preview not available")
		return
	}
	q := r.URL.Query()
	target := strings.TrimSpace(q.Get("url"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	res := s.previewer.Preview(r.Context(), target, q.Get("domain"), q.Get("keyword"))
	writeJSON(w, http.StatusOK, res)
}

type providerStatus struct {
	Configured bool `json:"configured"`
}

type providerHealthResponse struct {
	Providers       map[string]providerStatus `json:"providers"`
	FallbackEnabled bool                      `json:"fallback_enabled"`
}

func (s *Server) providerHealth(w http.ResponseWriter, _ *http.Request) {
	resp := providerHealthResponse{
		Providers:       make(map[string]providerStatus, len(s.cfg.Providers)),
		FallbackEnabled: s.cfg.FallbackEnabled,
	}
	for name, ok := range s.cfg.Providers {
		resp.Providers[name] = providerStatus{Configured: ok}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
