// Package api exposes the job orchestrator over HTTP: job submission
// and inspection, artifact listing and download, log snapshots and a
// WebSocket stream of live log lines.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/subsentry/subsentry/pkg/archive"
	"github.com/subsentry/subsentry/pkg/iohelper"
	"github.com/subsentry/subsentry/pkg/jobs"
	"github.com/subsentry/subsentry/pkg/jsonutil"
	"github.com/subsentry/subsentry/pkg/metrics"
)

// Server wires HTTP routes to the job manager.
type Server struct {
	manager *jobs.Manager
	logger  *slog.Logger
	metrics *metrics.Collector
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a structured logger for request-level events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics exposes the collector's registry on GET /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// NewServer builds the HTTP surface over manager.
func NewServer(manager *jobs.Manager, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/", s.handleListJobs)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Get("/logs", s.handleJobLogs)
			r.Get("/artifacts", s.handleListArtifacts)
			r.Get("/artifacts/{name}", s.handleDownloadArtifact)
			r.Get("/archive", s.handleArchive)
		})
	})
	r.Get("/ws/jobs/{jobID}/logs", s.handleLogSocket)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsonutil.Encode(w, v); err != nil {
		s.logger.Error("write response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// submitResponse is the minimal acknowledgement returned on submission.
type submitResponse struct {
	JobID     string      `json:"job_id"`
	Status    jobs.Status `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// jobResponse is the wire form of one job snapshot.
type jobResponse struct {
	JobID      string            `json:"job_id"`
	Status     jobs.Status       `json:"status"`
	Message    string            `json:"message,omitempty"`
	Targets    []string          `json:"targets"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Results    []jobs.ToolResult `json:"results"`
	DataDir    string            `json:"data_dir"`
	Artifacts  []string          `json:"artifacts"`
	MergedFile string            `json:"merged_file,omitempty"`
	ProbeFile  string            `json:"probe_file,omitempty"`
}

func (s *Server) toJobResponse(snap jobs.Snapshot) jobResponse {
	// Artifact listing is best-effort; an unreadable workspace yields an
	// empty list rather than failing the whole detail response.
	artifacts, err := s.manager.Artifacts(snap.ID)
	if err != nil {
		artifacts = []string{}
	}
	return jobResponse{
		JobID:      snap.ID,
		Status:     snap.Status,
		Message:    snap.Message,
		Targets:    snap.Targets,
		CreatedAt:  snap.CreatedAt,
		UpdatedAt:  snap.UpdatedAt,
		Results:    snap.Results,
		DataDir:    snap.DataDir,
		Artifacts:  artifacts,
		MergedFile: snap.MergedFile,
		ProbeFile:  snap.ProbeFile,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateJob accepts a submission and returns 202 with the initial
// snapshot; execution proceeds in the background.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	body, err := iohelper.ReadBodyDefault(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}

	var req jobs.Request
	if err := jsonutil.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := s.manager.Create(req)
	if err != nil {
		if errors.Is(err, jobs.ErrNoTargets) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snap := job.Snapshot()
	s.writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:     snap.ID,
		Status:    snap.Status,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	all := s.manager.List()
	out := make([]jobResponse, 0, len(all))
	for _, job := range all {
		out = append(out, s.toJobResponse(job.Snapshot()))
	}
	s.writeJSON(w, http.StatusOK, map[string][]jobResponse{"jobs": out})
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	job, err := s.manager.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.toJobResponse(job.Snapshot()))
}

// handleJobLogs returns the full on-disk transcript, not just the ring
// buffer, so completed jobs remain inspectable.
func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"lines": job.Hub.Snapshot()})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	names, err := s.manager.Artifacts(job.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"files": names})
}

func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	path, err := s.manager.Artifact(job.ID, chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, path)
}

// handleArchive builds a tar.gz of the job workspace and serves it. The
// archive is rebuilt on every request so it always reflects the current
// workspace contents.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	path, err := archive.Build(job.DataDir, job.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "build archive: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.ID+`.tar.gz"`)
	http.ServeFile(w, r, path)
}
