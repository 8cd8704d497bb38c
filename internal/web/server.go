package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mehular0ra/forge/internal/apperr"
	"github.com/mehular0ra/forge/internal/pipeline"
	fmw "github.com/mehular0ra/forge/internal/web/middleware"
	"github.com/mehular0ra/forge/model"
)

// JobService is the scaffolding-job surface the server exposes.
type JobService interface {
	StartJob(ctx context.Context, userID, appName string) (string, error)
	GetStatus(ctx context.Context, jobID, requestingUserID string) (*model.Job, error)
	AcknowledgeSetup(ctx context.Context, jobID, requestingUserID string) (*model.Job, error)
}

// ProjectService is the prompt-to-preview surface.
type ProjectService interface {
	Generate(ctx context.Context, userID, prompt string) (*pipeline.Generation, error)
	GetProject(ctx context.Context, userID, projectID string) (*pipeline.Generation, error)
}

type Server struct {
	router   chi.Router
	jobs     JobService
	projects ProjectService
}

func NewServer(jobs JobService, projects ProjectService) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		jobs:     jobs,
		projects: projects,
	}

	s.routes()
	return s
}

// Expose the router for main.go
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// LLM-backed generation dominates the per-request budget.
	r.Use(middleware.Timeout(180 * time.Second))

	limiter := fmw.NewLimiter(64, 8)

	r.Post("/job", s.handleStartJob)
	r.Get("/job/{id}", s.handleJobStatus)
	r.Post("/job/{id}/setup-complete", s.handleSetupComplete)
	r.With(limiter.Limit).Post("/generate", s.handleGenerate)
	r.Get("/project/{id}", s.handleGetProject)
}

// userID pulls the caller identity from the X-User-ID header. Authentication
// itself happens upstream of this service.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperr.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, apperr.ErrAccessDenied):
		http.Error(w, "access denied", http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type startJobRequest struct {
	AppName string `json:"appName"`
}

type startJobResponse struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	jobID, err := s.jobs.StartJob(r.Context(), userID(r), req.AppName)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, startJobResponse{JobID: jobID})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetStatus(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSetupComplete(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.AcknowledgeSetup(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	gen, err := s.projects.Generate(r.Context(), userID(r), req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, gen)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	gen, err := s.projects.GetProject(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, gen)
}
