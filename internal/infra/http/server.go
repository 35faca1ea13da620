package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/infra/metrics"
	"doc-ingest/internal/usecase"
)

// JobAdmin is the queue surface exposed to operators.
type JobAdmin interface {
	EnqueueJob(ctx context.Context, req usecase.EnqueueRequest) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	CancelJob(ctx context.Context, jobID string) error
}

type PipelineReader interface {
	Status(ctx context.Context, documentID string) (*model.PipelineStatus, error)
}

// Server is the operator admin endpoint: health, metrics and job/pipeline inspection.
type Server struct {
	port      int
	jobs      JobAdmin
	pipelines PipelineReader
	log       *zerolog.Logger
	server    *http.Server
}

func NewServer(port int, jobs JobAdmin, pipelines PipelineReader, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "AdminServer").Logger()
	s := &Server{port: port, jobs: jobs, pipelines: pipelines, log: &l}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes builds the router. Tests drive it directly through httptest.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleEnqueue)
		r.Get("/{id}", s.handleGetJob)
		r.Post("/{id}/cancel", s.handleCancel)
	})
	r.Get("/pipelines/{documentID}", s.handlePipeline)
	return r
}

func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("admin server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown may run before or concurrently with Start; a later Start returns nil.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.IncAdminRequest(route, status)
	})
}

type enqueueBody struct {
	SubjectID  string          `json:"subject_id"`
	Type       string          `json:"type"`
	Priority   int             `json:"priority"`
	Config     json.RawMessage `json:"config,omitempty"`
	TotalItems int             `json:"total_items"`
}

type jobView struct {
	ID             string          `json:"id"`
	Type           model.JobType   `json:"type"`
	Status         model.JobStatus `json:"status"`
	SubjectID      string          `json:"subject_id"`
	Priority       int             `json:"priority"`
	Progress       int             `json:"progress"`
	TotalItems     int             `json:"total_items"`
	ProcessedItems int             `json:"processed_items"`
	RetryCount     int             `json:"retry_count"`
	ErrorLog       *string         `json:"error_log,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	WorkerID       *string         `json:"worker_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

func toJobView(j *model.Job) jobView {
	return jobView{
		ID:             j.ID,
		Type:           j.Type,
		Status:         j.Status,
		SubjectID:      j.SubjectID,
		Priority:       j.Priority,
		Progress:       j.Progress,
		TotalItems:     j.TotalItems,
		ProcessedItems: j.ProcessedItems,
		RetryCount:     j.RetryCount,
		ErrorLog:       j.ErrorLog,
		Result:         j.Result,
		WorkerID:       j.WorkerID,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}

type pipelineView struct {
	DocumentID  string                    `json:"document_id"`
	JobID       string                    `json:"job_id"`
	Stage       model.Stage               `json:"stage"`
	Progress    int                       `json:"progress"`
	StageTimes  map[model.Stage]time.Time `json:"stage_times"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	ErrorCount  int                       `json:"error_count"`
	LastError   string                    `json:"last_error,omitempty"`
	Failure     *model.StageFailure       `json:"failure,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body enqueueBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	job, err := s.jobs.EnqueueJob(r.Context(), usecase.EnqueueRequest{
		SubjectID:  body.SubjectID,
		Type:       model.JobType(body.Type),
		Priority:   body.Priority,
		Config:     body.Config,
		TotalItems: body.TotalItems,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobView(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.CancelJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	st, err := s.pipelines.Status(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pipelineView{
		DocumentID:  st.DocumentID,
		JobID:       st.JobID,
		Stage:       st.CurrentStage,
		Progress:    st.ProgressPercentage,
		StageTimes:  st.StageTimes,
		StartedAt:   st.StartedAt,
		CompletedAt: st.CompletedAt,
		ErrorCount:  st.ErrorCount,
		LastError:   st.LastError,
		Failure:     st.Failure,
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("admin request failed")
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrUnknownJobType),
		errors.Is(err, domain.ErrInvalidJobConfig),
		errors.Is(err, domain.ErrSubjectNotFound):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
