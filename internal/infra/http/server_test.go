package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	adminhttp "doc-ingest/internal/infra/http"
	"doc-ingest/internal/usecase"
)

type fakeJobs struct {
	jobs      map[string]*model.Job
	lastReq   usecase.EnqueueRequest
	cancelled []string
}

func (f *fakeJobs) EnqueueJob(ctx context.Context, req usecase.EnqueueRequest) (*model.Job, error) {
	f.lastReq = req
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownJobType, req.Type)
	}
	j := &model.Job{ID: "job-new", Type: req.Type, Status: model.JobStatusPending, SubjectID: req.SubjectID, CreatedAt: time.Now()}
	f.jobs[j.ID] = j
	return j, nil
}

func (f *fakeJobs) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobs) CancelJob(ctx context.Context, id string) error {
	j, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !model.CanTransition(j.Status, model.JobStatusCancelled) {
		return domain.ErrIllegalTransition
	}
	j.Status = model.JobStatusCancelled
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakePipelines map[string]*model.PipelineStatus

func (f fakePipelines) Status(ctx context.Context, documentID string) (*model.PipelineStatus, error) {
	st, ok := f[documentID]
	if !ok {
		return nil, fmt.Errorf("pipeline %s: %w", documentID, domain.ErrNotFound)
	}
	return st, nil
}

func newTestServer() (http.Handler, *fakeJobs) {
	jobs := &fakeJobs{jobs: map[string]*model.Job{
		"job-1": {ID: "job-1", Type: model.JobTypeEmbedDocument, Status: model.JobStatusRunning, Progress: 40, TotalItems: 10, ProcessedItems: 4},
		"job-2": {ID: "job-2", Type: model.JobTypeEmbedDocument, Status: model.JobStatusDone, Progress: 100},
	}}
	pipes := fakePipelines{"doc-1": {
		DocumentID:         "doc-1",
		JobID:              "job-1",
		CurrentStage:       model.StageEmbedding,
		ProgressPercentage: 50,
		StageTimes:         map[model.Stage]time.Time{model.StageEmbedding: time.Now()},
	}}
	l := zerolog.Nop()
	return adminhttp.NewServer(0, jobs, pipes, &l).Routes(), jobs
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer()
	rec := do(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestGetJob(t *testing.T) {
	h, _ := newTestServer()

	t.Run("found", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/jobs/job-1", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "job-1", body["id"])
		assert.Equal(t, "RUNNING", body["status"])
		assert.EqualValues(t, 40, body["progress"])
	})

	t.Run("missing", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/jobs/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestEnqueue(t *testing.T) {
	h, jobs := newTestServer()

	rec := do(h, http.MethodPost, "/jobs", `{"subject_id":"doc-1","type":"EMBED_DOCUMENT","priority":5,"config":{"chunk_tokens":256}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "doc-1", jobs.lastReq.SubjectID)
	assert.Equal(t, 5, jobs.lastReq.Priority)
	assert.JSONEq(t, `{"chunk_tokens":256}`, string(jobs.lastReq.Config))

	rec = do(h, http.MethodPost, "/jobs", `{"subject_id":"doc-1","type":"TRANSLATE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/jobs", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancel(t *testing.T) {
	h, jobs := newTestServer()

	rec := do(h, http.MethodPost, "/jobs/job-1/cancel", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"job-1"}, jobs.cancelled)

	rec = do(h, http.MethodPost, "/jobs/job-2/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPipelineStatus(t *testing.T) {
	h, _ := newTestServer()

	rec := do(h, http.MethodGet, "/pipelines/doc-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "EMBEDDING", body["stage"])
	assert.EqualValues(t, 50, body["progress"])

	rec = do(h, http.MethodGet, "/pipelines/doc-x", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer()
	rec := do(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShutdownStopsStart(t *testing.T) {
	l := zerolog.Nop()
	srv := adminhttp.NewServer(0, &fakeJobs{jobs: map[string]*model.Job{}}, fakePipelines{}, &l)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()
	require.NoError(t, srv.Shutdown(context.Background()))

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
