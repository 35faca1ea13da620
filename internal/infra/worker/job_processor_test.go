//go:build !integration

package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/usecase"
)

type failCall struct {
	jobID  string
	reason string
	retry  bool
}

type fakeQueue struct {
	mu      sync.Mutex
	pending []*model.Job
	done    map[string]any
	failed  []failCall
	beats   int
	doneErr error
}

func (q *fakeQueue) DequeueJob(ctx context.Context, workerID string) (*model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	return j, nil
}

func (q *fakeQueue) push(j *model.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, j)
}

func (q *fakeQueue) UpdateProgress(ctx context.Context, jobID, workerID string, processed int) error {
	return nil
}
func (q *fakeQueue) SetTotalItems(ctx context.Context, jobID, workerID string, total int) error {
	return nil
}
func (q *fakeQueue) Heartbeat(ctx context.Context, jobID, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.beats++
	return nil
}
func (q *fakeQueue) MarkJobDone(ctx context.Context, jobID, workerID string, result any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.doneErr != nil {
		return q.doneErr
	}
	if q.done == nil {
		q.done = map[string]any{}
	}
	q.done[jobID] = result
	return nil
}
func (q *fakeQueue) MarkJobFailed(ctx context.Context, jobID, workerID, errorLog string, retry bool) (*model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, failCall{jobID, errorLog, retry})
	return &model.Job{ID: jobID}, nil
}
func (q *fakeQueue) JobStatus(ctx context.Context, jobID string) (model.JobStatus, error) {
	return model.JobStatusRunning, nil
}
func (q *fakeQueue) RequeueStale(ctx context.Context, lease time.Duration) (int, error) {
	return 0, nil
}

func (q *fakeQueue) doneCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.done)
}

type fakeDispatcher struct {
	slots    chan struct{}
	handlers map[model.JobType]usecase.JobHandler
}

func newFakeDispatcher(n int, h map[model.JobType]usecase.JobHandler) *fakeDispatcher {
	return &fakeDispatcher{slots: make(chan struct{}, n), handlers: h}
}

func (d *fakeDispatcher) Acquire(ctx context.Context) error {
	select {
	case d.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
func (d *fakeDispatcher) Release()                                       { <-d.slots }
func (d *fakeDispatcher) Handlers() map[model.JobType]usecase.JobHandler { return d.handlers }

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestProcess_Outcomes(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantDone  bool
		wantFail  bool
		wantRetry bool
	}{
		{"success", nil, true, false, false},
		{"transient", domain.Transient("embed", errors.New("503")), false, true, true},
		{"unclassified", errors.New("weird"), false, true, true},
		{"structural", domain.Structural("parse", errors.New("bad pdf")), false, true, false},
		{"integrity", &domain.IntegrityError{DocumentID: "d", Expected: 3, Actual: 2}, false, true, false},
		{"cancelled", domain.ErrJobCancelled, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := &fakeQueue{}
			h := map[model.JobType]usecase.JobHandler{
				model.JobTypeEmbedDocument: func(ctx context.Context, job *model.Job, workerID string) (any, error) {
					assert.Equal(t, "w1", workerID)
					return "ok", tc.err
				},
			}
			p := NewJobProcessor(q, newFakeDispatcher(1, h), nil, time.Second, time.Minute, "w1", testLogger())
			p.Process(context.Background(), &model.Job{ID: "j1", Type: model.JobTypeEmbedDocument})

			_, done := q.done["j1"]
			assert.Equal(t, tc.wantDone, done)
			if tc.wantFail {
				require.Len(t, q.failed, 1)
				assert.Equal(t, tc.wantRetry, q.failed[0].retry)
				assert.NotEmpty(t, q.failed[0].reason)
			} else {
				assert.Empty(t, q.failed)
			}
		})
	}
}

func TestProcess_UnknownJobTypeFailsWithoutRetry(t *testing.T) {
	q := &fakeQueue{}
	p := NewJobProcessor(q, newFakeDispatcher(1, nil), nil, time.Second, time.Minute, "w1", testLogger())
	p.Process(context.Background(), &model.Job{ID: "j1", Type: "RESIZE"})
	require.Len(t, q.failed, 1)
	assert.False(t, q.failed[0].retry)
}

func TestProcess_CancelledBeforeDoneIsQuiet(t *testing.T) {
	q := &fakeQueue{doneErr: domain.ErrJobCancelled}
	h := map[model.JobType]usecase.JobHandler{
		model.JobTypeEmbedDocument: func(ctx context.Context, job *model.Job, workerID string) (any, error) {
			return "ok", nil
		},
	}
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	p := NewJobProcessor(q, newFakeDispatcher(1, h), nil, time.Second, time.Minute, "w1", &l)
	p.Process(context.Background(), &model.Job{ID: "j1", Type: model.JobTypeEmbedDocument})

	assert.Empty(t, q.failed)
	assert.NotContains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "job cancelled before completion was recorded")
}

func TestProcess_HeartbeatsLongJobs(t *testing.T) {
	q := &fakeQueue{}
	h := map[model.JobType]usecase.JobHandler{
		model.JobTypeEmbedDocument: func(ctx context.Context, job *model.Job, workerID string) (any, error) {
			time.Sleep(80 * time.Millisecond)
			return nil, nil
		},
	}
	// lease/3 = 10ms between heartbeats
	p := NewJobProcessor(q, newFakeDispatcher(1, h), nil, time.Second, 30*time.Millisecond, "w1", testLogger())
	p.Process(context.Background(), &model.Job{ID: "j1", Type: model.JobTypeEmbedDocument})
	q.mu.Lock()
	defer q.mu.Unlock()
	assert.GreaterOrEqual(t, q.beats, 2)
}

func TestStart_DrainsOnWakeAndRespectsSlots(t *testing.T) {
	q := &fakeQueue{}
	var mu sync.Mutex
	running, maxRunning := 0, 0
	h := map[model.JobType]usecase.JobHandler{
		model.JobTypeEmbedDocument: func(ctx context.Context, job *model.Job, workerID string) (any, error) {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil, nil
		},
	}
	wake := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(4, testLogger())
	pool.Start(ctx)
	defer pool.Stop()

	p := NewJobProcessor(q, newFakeDispatcher(2, h), wake, time.Hour, time.Minute, "w1", testLogger())
	go p.Start(ctx, pool)

	for i := 0; i < 6; i++ {
		q.push(&model.Job{ID: string(rune('a' + i)), Type: model.JobTypeEmbedDocument})
	}
	wake <- "a"

	require.Eventually(t, func() bool { return q.doneCount() == 6 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxRunning, 2)
}

func TestPool_SubmitWhenFull(t *testing.T) {
	p := NewPool(1, testLogger())
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Submit(func(ctx context.Context) error { return nil }))
	}
	assert.ErrorIs(t, p.Submit(func(ctx context.Context) error { return nil }), ErrPoolFull)
	assert.Error(t, p.Submit(nil))
}

func TestNewWorkerID_Unique(t *testing.T) {
	a, b := NewWorkerID(), NewWorkerID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
