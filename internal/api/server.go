package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"enrichment-pipeline/internal/config"
	"enrichment-pipeline/internal/enrichment"
	"enrichment-pipeline/internal/media"
	"enrichment-pipeline/internal/models"
	"enrichment-pipeline/internal/store"
	"enrichment-pipeline/internal/telemetry"
	"enrichment-pipeline/internal/worker"
)

// Producer enqueues enrichment jobs.
type Producer interface {
	Enqueue(ctx context.Context, d enrichment.JobDescriptor) (string, error)
	EnqueueBatch(ctx context.Context, organizationID string, jobs []enrichment.JobDescriptor) enrichment.BatchResult
}

// JobReader reads job logs for status display.
type JobReader interface {
	GetJobLog(ctx context.Context, id, organizationID string) (models.JobLog, error)
}

// EnrichmentRunner runs one worker pass.
type EnrichmentRunner interface {
	RunOnce(ctx context.Context) (worker.Summary, error)
}

// MediaRunner runs one media ingestion pass.
type MediaRunner interface {
	RunOnce(ctx context.Context) media.Result
}

// URLCache serves signed URLs for durable media keys.
type URLCache interface {
	Get(ctx context.Context, path, bucket string) (string, bool)
	Clear()
}

// Limiter throttles enqueue requests per organization.
type Limiter interface {
	Allow(ctx context.Context, organizationID string) (bool, float64, error)
}

// Deps are the collaborators behind the HTTP surface. Limiter may be nil.
type Deps struct {
	Producer Producer
	Jobs     JobReader
	Worker   EnrichmentRunner
	Media    MediaRunner
	URLs     URLCache
	Limiter  Limiter
}

// Server wires HTTP handlers for the enrichment and media entrypoints.
type Server struct {
	cfg  config.Config
	deps Deps
	log  *zap.Logger
}

// New constructs the API server.
func New(cfg config.Config, deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cfg: cfg, deps: deps, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/enrichment", func(r chi.Router) {
		r.Post("/jobs", s.handleEnqueue)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/process", s.handleProcess)
	})
	r.Route("/media", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Get("/signed-url", s.handleSignedURL)
		r.Post("/signed-url/clear", s.handleClearURLs)
	})
	return r
}

type enqueueRequest struct {
	enrichment.JobDescriptor
	Jobs []enrichment.JobDescriptor `json:"jobs"`
}

type enqueueResponse struct {
	Success   bool                   `json:"success"`
	JobLogID  string                 `json:"jobLogId,omitempty"`
	JobLogIDs []string               `json:"jobLogIds,omitempty"`
	Queued    *int                   `json:"queued,omitempty"`
	Total     *int                   `json:"total,omitempty"`
	Errors    []enrichment.ItemError `json:"errors,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, enqueueResponse{Error: "invalid json"})
		return
	}
	org := req.OrganizationID
	if org == "" {
		org = tenantFromRequest(r)
	}
	if org == "" {
		writeJSON(w, http.StatusBadRequest, enqueueResponse{Error: "organizationId is required"})
		return
	}

	if s.deps.Limiter != nil {
		allowed, _, err := s.deps.Limiter.Allow(r.Context(), org)
		if err != nil {
			s.log.Error("rate limiter", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, enqueueResponse{Error: "rate limit error"})
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeJSON(w, http.StatusTooManyRequests, enqueueResponse{Error: "rate limited"})
			return
		}
	}

	if req.Jobs != nil {
		res := s.deps.Producer.EnqueueBatch(r.Context(), org, req.Jobs)
		writeJSON(w, http.StatusAccepted, enqueueResponse{
			Success:   res.Queued > 0 || res.Total == 0,
			JobLogIDs: res.JobLogIDs,
			Queued:    &res.Queued,
			Total:     &res.Total,
			Errors:    res.Errors,
		})
		return
	}

	d := req.JobDescriptor
	d.OrganizationID = org
	id, err := s.deps.Producer.Enqueue(r.Context(), d)
	if err != nil {
		code := http.StatusInternalServerError
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) || errors.Is(err, enrichment.ErrNameRequired) {
			code = http.StatusBadRequest
		} else {
			s.log.Error("enqueue enrichment job", zap.String("organization_id", org), zap.Error(err))
		}
		writeJSON(w, code, enqueueResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{Success: true, JobLogID: id})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	org := tenantFromRequest(r)
	if org == "" {
		http.Error(w, "X-Tenant-ID is required", http.StatusBadRequest)
		return
	}
	job, err := s.deps.Jobs.GetJobLog(r.Context(), chi.URLParam(r, "id"), org)
	if errors.Is(err, store.ErrJobNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("get job log", zap.Error(err))
		http.Error(w, "failed to read job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Worker.RunOnce(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Media.RunOnce(r.Context()))
}

func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	bucket := r.URL.Query().Get("bucket")
	if bucket == "" {
		bucket = s.cfg.S3Bucket
	}
	url, ok := s.deps.URLs.Get(r.Context(), path, bucket)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]*string{"url": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleClearURLs(w http.ResponseWriter, _ *http.Request) {
	s.deps.URLs.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func tenantFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
