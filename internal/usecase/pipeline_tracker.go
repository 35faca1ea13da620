// File: internal/usecase/pipeline_tracker.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/repository"
	"doc-ingest/internal/infra/metrics"
)

// PipelineFailure is what a stage knew when it failed. PartialResults are the
// sub-unit indices that did succeed.
type PipelineFailure struct {
	Stage          model.Stage
	Err            error
	PartialResults []int
	Total          int
}

// PipelineTracker keeps per-document pipeline state in memory and writes it
// through to repo when one is configured.
type PipelineTracker struct {
	mu   sync.Mutex
	runs map[string]*model.PipelineStatus
	repo repository.PipelineStatusRepository
	log  *zerolog.Logger
	now  func() time.Time
}

func NewPipelineTracker(repo repository.PipelineStatusRepository, logger *zerolog.Logger) *PipelineTracker {
	l := logger.With().Str("component", "PipelineTracker").Logger()
	return &PipelineTracker{
		runs: map[string]*model.PipelineStatus{},
		repo: repo,
		log:  &l,
		now:  time.Now,
	}
}

// Begin opens a new run at UPLOADING. An unfinished or FAILED previous run
// hands over its error count and failure record for inspection; Remaining
// does not reuse that record, so the new run redoes every sub-unit.
func (t *PipelineTracker) Begin(ctx context.Context, documentID, jobID string) (*model.PipelineStatus, error) {
	if documentID == "" {
		return nil, domain.ErrInvalidArgument
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, err := t.lookup(ctx, documentID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	now := t.now()
	st := &model.PipelineStatus{
		DocumentID:   documentID,
		JobID:        jobID,
		CurrentStage: model.StageUploading,
		StageTimes:   map[model.Stage]time.Time{model.StageUploading: now},
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if prev != nil && prev.CurrentStage != model.StageCompleted {
		st.ErrorCount = prev.ErrorCount
		st.LastError = prev.LastError
		if prev.Failure != nil {
			f := *prev.Failure
			f.Succeeded = append([]int(nil), prev.Failure.Succeeded...)
			st.Failure = &f
		}
	}
	if err := t.put(ctx, st); err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// TrackPipelineProgress moves the document forward to stage. Re-recording the
// current stage is a no-op; moving backwards or out of a finished run is an error.
func (t *PipelineTracker) TrackPipelineProgress(ctx context.Context, documentID string, stage model.Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidArgument, stage)
	}
	if stage == model.StageFailed {
		return t.Fail(ctx, documentID, errors.New("pipeline failed"))
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.lookup(ctx, documentID)
	if err != nil {
		return err
	}
	if st.CurrentStage == stage {
		return nil
	}
	if st.CurrentStage.Terminal() {
		return fmt.Errorf("%w: document %s is %s", domain.ErrPipelineClosed, documentID, st.CurrentStage)
	}
	if stage.Before(st.CurrentStage) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrBackwardStage, st.CurrentStage, stage)
	}

	next := st.Clone()
	now := t.now()
	next.CurrentStage = stage
	next.StageTimes[stage] = now
	next.UpdatedAt = now
	if p := stage.Progress(); p > next.ProgressPercentage {
		next.ProgressPercentage = p
	}
	if stage == model.StageCompleted {
		next.CompletedAt = &now
		next.Failure = nil
	}
	return t.put(ctx, next)
}

// HandlePipelineFailure records a stage failure. Succeeded indices are merged
// with those already recorded for the same stage.
func (t *PipelineTracker) HandlePipelineFailure(ctx context.Context, documentID string, f PipelineFailure) error {
	if !f.Stage.Valid() || f.Stage.Terminal() {
		return fmt.Errorf("%w: cannot fail stage %q", domain.ErrInvalidArgument, f.Stage)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.lookup(ctx, documentID)
	if err != nil {
		return err
	}
	if st.CurrentStage == model.StageCompleted {
		return fmt.Errorf("%w: document %s is completed", domain.ErrPipelineClosed, documentID)
	}

	next := st.Clone()
	msg := "unknown error"
	if f.Err != nil {
		msg = f.Err.Error()
	}
	succeeded := f.PartialResults
	total := f.Total
	if prev := next.Failure; prev != nil && prev.Stage == f.Stage {
		succeeded = append(append([]int(nil), prev.Succeeded...), f.PartialResults...)
		if total == 0 {
			total = prev.Total
		}
	}
	now := t.now()
	next.Failure = &model.StageFailure{
		Stage:      f.Stage,
		Error:      msg,
		Succeeded:  uniqueSorted(succeeded),
		Total:      total,
		RecordedAt: now,
	}
	next.ErrorCount++
	next.LastError = msg
	next.UpdatedAt = now
	metrics.IncStageRetry(string(f.Stage))
	return t.put(ctx, next)
}

// Fail marks the run FAILED with err as the last error.
func (t *PipelineTracker) Fail(ctx context.Context, documentID string, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, lerr := t.lookup(ctx, documentID)
	if lerr != nil {
		return lerr
	}
	if st.CurrentStage.Terminal() {
		return fmt.Errorf("%w: document %s is %s", domain.ErrPipelineClosed, documentID, st.CurrentStage)
	}
	next := st.Clone()
	now := t.now()
	next.CurrentStage = model.StageFailed
	next.StageTimes[model.StageFailed] = now
	next.UpdatedAt = now
	if err != nil {
		next.LastError = err.Error()
	}
	return t.put(ctx, next)
}

// Remaining lists the sub-units of stage in [0, total) not yet recorded as
// succeeded in the current run. Results of an earlier run are not reused since
// their outputs did not survive it.
func (t *PipelineTracker) Remaining(documentID string, stage model.Stage, total int) []int {
	t.mu.Lock()
	var done map[int]bool
	if st, ok := t.runs[documentID]; ok && st.Failure != nil && st.Failure.Stage == stage &&
		!st.Failure.RecordedAt.Before(st.StartedAt) {
		done = make(map[int]bool, len(st.Failure.Succeeded))
		for _, i := range st.Failure.Succeeded {
			done[i] = true
		}
	}
	t.mu.Unlock()

	out := make([]int, 0, total)
	for i := 0; i < total; i++ {
		if !done[i] {
			out = append(out, i)
		}
	}
	return out
}

// Status returns a snapshot of the document's latest run.
func (t *PipelineTracker) Status(ctx context.Context, documentID string) (*model.PipelineStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, err := t.lookup(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// Forget drops the in-memory copy once a run is finished; the durable record stays.
func (t *PipelineTracker) Forget(documentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.repo != nil {
		delete(t.runs, documentID)
		metrics.SetCacheEntries("pipeline_status", len(t.runs))
	}
}

// lookup must be called with t.mu held.
func (t *PipelineTracker) lookup(ctx context.Context, documentID string) (*model.PipelineStatus, error) {
	if st, ok := t.runs[documentID]; ok {
		metrics.IncCacheRequest("pipeline_status", "hit")
		return st, nil
	}
	metrics.IncCacheRequest("pipeline_status", "miss")
	if t.repo == nil {
		return nil, domain.ErrNotFound
	}
	st, err := t.repo.FindByDocumentID(ctx, repository.NoTX, documentID)
	if err != nil {
		return nil, err
	}
	if st.StageTimes == nil {
		st.StageTimes = map[model.Stage]time.Time{}
	}
	t.runs[documentID] = st
	metrics.SetCacheEntries("pipeline_status", len(t.runs))
	return st, nil
}

// put must be called with t.mu held. The in-memory copy only changes after a
// successful durable write.
func (t *PipelineTracker) put(ctx context.Context, st *model.PipelineStatus) error {
	if t.repo != nil {
		if err := t.repo.Save(ctx, repository.NoTX, st); err != nil {
			t.log.Error().Err(err).Str("document_id", st.DocumentID).Msg("failed to persist pipeline status")
			return err
		}
	}
	t.runs[st.DocumentID] = st
	metrics.SetCacheEntries("pipeline_status", len(t.runs))
	return nil
}

func uniqueSorted(in []int) []int {
	if len(in) == 0 {
		return []int{}
	}
	s := append([]int(nil), in...)
	sort.Ints(s)
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
