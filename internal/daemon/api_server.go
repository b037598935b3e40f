package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"lyrebird/internal/api"
	"lyrebird/internal/config"
	"lyrebird/internal/logging"
	"lyrebird/internal/metrics"
	"lyrebird/internal/registry"
	"lyrebird/internal/services"
	"lyrebird/internal/textutil"
)

const (
	defaultMaxUploadMB = 100
	defaultEventLimit  = 100

	// eventWaitTimeout bounds a long-poll so the response is always written
	// well before any proxy or client deadline; callers resume with the
	// returned cursor.
	eventWaitTimeout = 25 * time.Second
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	jobSvc *api.JobService

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
		jobSvc: api.NewJobService(d.store, d.art),
	}

	router := chi.NewRouter()
	if cfg.API.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	router.Get("/healthz", srv.handleHealthz)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	router.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(cfg.API.Token))
		r.Get("/status", srv.handleStatus)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", srv.handleSubmit)
			r.Get("/", srv.handleJobList)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", srv.handleJobDescribe)
				r.Delete("/", srv.handleJobRemove)
				r.Get("/events", srv.handleJobEvents)
				r.Post("/stages/{stage}", srv.handleRunStage)
				r.Get("/artifacts/{stage}", srv.handleArtifact)
			})
		})
	})

	// Uploads and artifact downloads can run long, so only the header read
	// and idle keep-alives carry deadlines.
	srv.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound listen address, empty before start.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Running:        status.Running,
		PID:            status.PID,
		RegistryDBPath: status.RegistryDBPath,
		LockFilePath:   status.LockFilePath,
		Workflow:       api.FromStatusSummary(status.Workflow),
		Accelerator:    status.Accelerator,
		Dependencies:   api.FromDependencyStatuses(status.Dependencies),
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	maxUploadMB := s.daemon.cfg.API.MaxUploadMB
	if maxUploadMB <= 0 {
		maxUploadMB = defaultMaxUploadMB
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxUploadMB)<<20)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d MiB", maxUploadMB))
			return
		}
		s.writeError(w, http.StatusBadRequest, "malformed multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, `multipart field "file" is required`)
		return
	}
	defer file.Close()

	name := textutil.SanitizeFileName(header.Filename)
	if name == "" {
		name = "upload"
	}
	if ext := filepath.Ext(name); !api.AllowedExtension(ext) {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported file extension %q, accepted: %s", ext, strings.Join(api.AllowedExtensions(), ", ")))
		return
	}

	stagedPath, cleanup, err := s.stageUpload(name, file)
	if err != nil {
		s.log().Error("failed to stage upload", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "cannot store upload")
		return
	}
	defer cleanup()

	job, isNew, err := s.daemon.Submit(r.Context(), SubmitOptions{
		SourcePath:           stagedPath,
		Title:                r.FormValue("title"),
		SeparationVariant:    r.FormValue("separation_variant"),
		TranscriptionVariant: r.FormValue("transcription_variant"),
		Language:             r.FormValue("language"),
		IngestUpload:         true,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SubmitResult{JobID: job.ID, IsNew: isNew})
}

// stageUpload writes the multipart payload under the upload directory with
// its client-supplied name so submission can probe and ingest it. The
// returned cleanup removes whatever the ingest move left behind.
func (s *apiServer) stageUpload(name string, src io.Reader) (string, func(), error) {
	uploadDir := s.daemon.cfg.Paths.UploadDir
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("ensure upload dir: %w", err)
	}
	staging, err := os.MkdirTemp(uploadDir, "incoming-")
	if err != nil {
		return "", nil, fmt.Errorf("create staging dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(staging) }

	stagedPath := filepath.Join(staging, name)
	dst, err := os.Create(stagedPath)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("create staged file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		cleanup()
		return "", nil, fmt.Errorf("write staged file: %w", err)
	}
	if err := dst.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close staged file: %w", err)
	}
	return stagedPath, cleanup, nil
}

func (s *apiServer) handleJobList(w http.ResponseWriter, r *http.Request) {
	var statuses []registry.JobStatus
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		status, ok := registry.ParseJobStatus(trimmed)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", trimmed))
			return
		}
		statuses = append(statuses, status)
	}

	jobs, err := s.jobSvc.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.SortJobsNewestFirst(jobs)})
}

func (s *apiServer) handleJobDescribe(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobSvc.Describe(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: *job})
}

func (s *apiServer) handleJobRemove(w http.ResponseWriter, r *http.Request) {
	result, err := s.daemon.RemoveJobs(r.Context(), []string{chi.URLParam(r, "jobID")})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result.RemovedCount == 0 {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.daemon.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultEventLimit
	}
	wait := query.Get("wait") == "1" || strings.EqualFold(query.Get("wait"), "true")

	ctx := r.Context()
	if wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eventWaitTimeout)
		defer cancel()
	}

	evts, next, err := s.daemon.FetchEvents(ctx, jobID, since, limit, wait)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.EventPage{Events: evts, Next: next})
}

func (s *apiServer) handleRunStage(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	stageName := chi.URLParam(r, "stage")
	if err := s.daemon.StartStage(jobID, stageName); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId": jobID,
		"stage": stageName,
		"state": "started",
	})
}

func (s *apiServer) handleArtifact(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	stageName := chi.URLParam(r, "stage")
	record, err := s.jobSvc.FindArtifact(r.Context(), jobID, stageName, r.URL.Query().Get("name"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if _, err := os.Stat(record.Path); err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("artifact %s is missing on disk", record.Name))
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Name))
	http.ServeFile(w, r, record.Path)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the error taxonomy onto HTTP statuses and includes
// the kind so clients can branch without parsing messages.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusForError(err), map[string]string{
		"error":     services.Message(err),
		"errorKind": services.Kind(err),
	})
}

func statusForError(err error) int {
	switch services.Kind(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "invalid_transition", "prerequisite":
		return http.StatusConflict
	case "resource_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
