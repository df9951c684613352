// Package server exposes the HTTP API: job submission and queries, artifact
// retrieval, cache statistics, health, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"soundstage/internal/artifacts"
	"soundstage/internal/config"
	"soundstage/internal/jobs"
	"soundstage/internal/logging"
	"soundstage/internal/metrics"
	"soundstage/internal/pipeline"
	"soundstage/internal/services"
	"soundstage/internal/stagecache"
)

// Server owns the router and HTTP listener.
type Server struct {
	cfg     *config.Config
	orc     *pipeline.Orchestrator
	store   *jobs.Store
	blobs   *artifacts.Store
	cache   *stagecache.Cache
	manager *pipeline.Manager
	logger  *slog.Logger
	httpSrv *http.Server
}

// New wires the API server. manager may be nil in tests; Notify is skipped.
func New(
	cfg *config.Config,
	orc *pipeline.Orchestrator,
	store *jobs.Store,
	blobs *artifacts.Store,
	cache *stagecache.Cache,
	manager *pipeline.Manager,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:     cfg,
		orc:     orc,
		store:   store,
		blobs:   blobs,
		cache:   cache,
		manager: manager,
		logger:  logging.NewComponentLogger(logger, "server"),
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Paths.APIBind,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/jobs", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/cancel", s.handleCancelJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/artifacts/{name}", s.handleGetArtifact).Methods(http.MethodGet)

	r.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	return r
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("api listening", logging.String("bind", s.cfg.Paths.APIBind))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		ctx := services.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stages := s.orc.Health(r.Context())
	ok := true
	for _, health := range stages {
		if !health.Ready {
			ok = false
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok, "stages": stages})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	// One extra byte past the cap lets the pipeline distinguish "at the
	// limit" from "over it".
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes()+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable upload")
		return
	}

	job, err := s.orc.Submit(r.Context(), pipeline.Submission{
		FileName: header.Filename,
		Content:  content,
		Language: r.FormValue("language"),
	})
	switch {
	case errors.Is(err, pipeline.ErrEmptyUpload):
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	case errors.Is(err, pipeline.ErrUploadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds max_upload_mb")
		return
	case err != nil:
		s.logger.Error("submit failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}

	if s.manager != nil {
		s.manager.Notify()
	}
	writeJSON(w, http.StatusAccepted, s.jobView(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []jobs.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := jobs.ParseStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
		statuses = append(statuses, status)
	}
	list, err := s.store.List(r.Context(), statuses...)
	if err != nil {
		s.logger.Error("list jobs failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	views := make([]jobView, 0, len(list))
	for _, job := range list {
		views = append(views, s.jobView(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.jobView(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	flagged, err := s.store.RequestCancel(r.Context(), job.ID)
	if err != nil {
		s.logger.Error("cancel failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	if !flagged {
		writeError(w, http.StatusConflict, "job already finished")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": job.ID, "cancel_requested": true})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]
	ref, err := artifacts.JobRef(job.ID, name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artifact name")
		return
	}
	if !s.blobs.Exists(ref) {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	http.ServeFile(w, r, s.blobs.AbsPath(ref))
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats()
	if err != nil {
		s.logger.Error("cache stats failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	id := mux.Vars(r)["id"]
	job, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("get job failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return nil, false
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
