// File: internal/usecase/job_queue_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/repository"
	"doc-ingest/internal/domain/ports/usecase"
	"doc-ingest/internal/infra/metrics"
)

// Compile-time check
var _ usecase.JobQueue = (*JobQueueUseCase)(nil)

type EnqueueRequest struct {
	SubjectID  string          `validate:"required,max=256"`
	Type       model.JobType   `validate:"required"`
	Priority   int             `validate:"gte=-1000,lte=1000"`
	Config     json.RawMessage `validate:"-"`
	TotalItems int             `validate:"gte=0"`
}

type JobQueueUseCase struct {
	repo       repository.JobRepository
	tm         repository.TransactionManager
	notifier   repository.QueueNotifier
	configs    *ConfigValidator
	validate   *validator.Validate
	channel    string
	maxRetries int
	log        *zerolog.Logger
	now        func() time.Time
}

func NewJobQueueUseCase(
	repo repository.JobRepository,
	tm repository.TransactionManager,
	notifier repository.QueueNotifier,
	configs *ConfigValidator,
	channel string,
	maxRetries int,
	logger *zerolog.Logger,
) *JobQueueUseCase {
	l := logger.With().Str("component", "JobQueue").Logger()
	return &JobQueueUseCase{
		repo:       repo,
		tm:         tm,
		notifier:   notifier,
		configs:    configs,
		validate:   validator.New(),
		channel:    channel,
		maxRetries: maxRetries,
		log:        &l,
		now:        time.Now,
	}
}

// EnqueueJob inserts a PENDING job and wakes listeners. The notification is
// sent in the insert transaction, so it is only delivered once the row is visible.
func (q *JobQueueUseCase) EnqueueJob(ctx context.Context, req EnqueueRequest) (*model.Job, error) {
	if err := q.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownJobType, req.Type)
	}
	if q.configs != nil {
		if err := q.configs.Validate(req.Type, req.Config); err != nil {
			return nil, err
		}
	}
	cfg := req.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage(`{}`)
	}

	job := &model.Job{
		ID:         uuid.NewString(),
		Type:       req.Type,
		Status:     model.JobStatusPending,
		SubjectID:  req.SubjectID,
		Priority:   req.Priority,
		TotalItems: req.TotalItems,
		Config:     cfg,
		CreatedAt:  q.now(),
	}
	err := q.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := q.repo.Insert(ctx, tx, job); err != nil {
			return err
		}
		return q.notifier.Notify(ctx, tx, q.channel, job.ID)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncJobEnqueued(string(job.Type))
	q.log.Info().Str("job_id", job.ID).Str("type", string(job.Type)).Str("subject_id", job.SubjectID).
		Int("priority", job.Priority).Msg("job enqueued")
	return job, nil
}

// DequeueJob claims the next job for workerID, or returns (nil, nil) when none is claimable.
func (q *JobQueueUseCase) DequeueJob(ctx context.Context, workerID string) (*model.Job, error) {
	if workerID == "" {
		return nil, domain.ErrInvalidArgument
	}
	var job *model.Job
	err := q.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		j, err := q.repo.ClaimNext(ctx, tx)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := q.now()
		j.Status = model.JobStatusRunning
		j.StartedAt = &now
		j.CompletedAt = nil
		w := workerID
		j.WorkerID = &w
		if err := q.repo.Update(ctx, tx, j); err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil || job == nil {
		return nil, err
	}

	metrics.ObserveQueueWait(string(job.Type), q.now().Sub(job.CreatedAt))
	q.log.Debug().Str("job_id", job.ID).Str("worker_id", workerID).Int("retry_count", job.RetryCount).Msg("job dequeued")
	return job, nil
}

// mutateRunning locks the job, checks it is RUNNING and owned by workerID (an
// empty workerID skips the ownership check) and persists fn's changes.
func (q *JobQueueUseCase) mutateRunning(ctx context.Context, jobID, workerID string, fn func(tx repository.Tx, j *model.Job) error) (*model.Job, error) {
	var out *model.Job
	err := q.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		j, err := q.repo.FindByIDForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if j.Status == model.JobStatusCancelled {
			return domain.ErrJobCancelled
		}
		if j.Status != model.JobStatusRunning {
			return fmt.Errorf("%w: job %s is %s", domain.ErrIllegalTransition, jobID, j.Status)
		}
		if workerID != "" && !j.OwnedBy(workerID) {
			return fmt.Errorf("%w: %s", domain.ErrJobNotOwned, jobID)
		}
		if err := fn(tx, j); err != nil {
			return err
		}
		if err := q.repo.Update(ctx, tx, j); err != nil {
			return err
		}
		out = j
		return nil
	})
	return out, err
}

func (q *JobQueueUseCase) UpdateProgress(ctx context.Context, jobID, workerID string, processedItems int) error {
	if processedItems < 0 {
		return domain.ErrInvalidArgument
	}
	_, err := q.mutateRunning(ctx, jobID, workerID, func(_ repository.Tx, j *model.Job) error {
		if processedItems > j.ProcessedItems {
			j.ProcessedItems = processedItems
		}
		if p := model.ComputeProgress(j.ProcessedItems, j.TotalItems); p > j.Progress {
			j.Progress = p
		}
		return nil
	})
	return err
}

func (q *JobQueueUseCase) SetTotalItems(ctx context.Context, jobID, workerID string, total int) error {
	if total < 0 {
		return domain.ErrInvalidArgument
	}
	_, err := q.mutateRunning(ctx, jobID, workerID, func(_ repository.Tx, j *model.Job) error {
		j.TotalItems = total
		if p := model.ComputeProgress(j.ProcessedItems, j.TotalItems); p > j.Progress {
			j.Progress = p
		}
		return nil
	})
	return err
}

// Heartbeat refreshes the job's lease without changing anything else.
func (q *JobQueueUseCase) Heartbeat(ctx context.Context, jobID, workerID string) error {
	_, err := q.mutateRunning(ctx, jobID, workerID, func(repository.Tx, *model.Job) error { return nil })
	return err
}

func (q *JobQueueUseCase) MarkJobDone(ctx context.Context, jobID, workerID string, result any) error {
	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
		raw = b
	}
	j, err := q.mutateRunning(ctx, jobID, workerID, func(_ repository.Tx, j *model.Job) error {
		now := q.now()
		j.Status = model.JobStatusDone
		j.Progress = 100
		if j.TotalItems > 0 {
			j.ProcessedItems = j.TotalItems
		}
		j.CompletedAt = &now
		j.WorkerID = nil
		j.Result = raw
		return nil
	})
	if err != nil {
		return err
	}
	metrics.IncJobProcessed(string(j.Type), "done")
	q.log.Info().Str("job_id", jobID).Msg("job done")
	return nil
}

// MarkJobFailed requeues the job while retry is requested and the retry budget
// lasts; otherwise the job becomes FAILED. The updated job is returned.
func (q *JobQueueUseCase) MarkJobFailed(ctx context.Context, jobID, workerID, errorLog string, retry bool) (*model.Job, error) {
	j, err := q.mutateRunning(ctx, jobID, workerID, func(tx repository.Tx, j *model.Job) error {
		return q.applyFailure(ctx, tx, j, errorLog, retry)
	})
	if err != nil {
		return nil, err
	}
	outcome := "failed"
	if j.Status == model.JobStatusPending {
		outcome = "retry"
	}
	metrics.IncJobProcessed(string(j.Type), outcome)
	q.log.Warn().Str("job_id", jobID).Str("status", string(j.Status)).Int("retry_count", j.RetryCount).
		Str("error", errorLog).Msg("job failed")
	return j, nil
}

func (q *JobQueueUseCase) applyFailure(ctx context.Context, tx repository.Tx, j *model.Job, errorLog string, retry bool) error {
	msg := errorLog
	j.ErrorLog = &msg
	j.WorkerID = nil
	if retry && j.RetryCount < q.maxRetries {
		j.RetryCount++
		j.Status = model.JobStatusPending
		return q.notifier.Notify(ctx, tx, q.channel, j.ID)
	}
	now := q.now()
	j.Status = model.JobStatusFailed
	j.CompletedAt = &now
	return nil
}

// CancelJob is the out-of-band cancellation signal. A running worker notices it
// at its next stage boundary.
func (q *JobQueueUseCase) CancelJob(ctx context.Context, jobID string) error {
	err := q.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		j, err := q.repo.FindByIDForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !model.CanTransition(j.Status, model.JobStatusCancelled) {
			return fmt.Errorf("%w: job %s is %s", domain.ErrIllegalTransition, jobID, j.Status)
		}
		now := q.now()
		j.Status = model.JobStatusCancelled
		j.CompletedAt = &now
		j.WorkerID = nil
		return q.repo.Update(ctx, tx, j)
	})
	if err != nil {
		return err
	}
	q.log.Info().Str("job_id", jobID).Msg("job cancelled")
	return nil
}

func (q *JobQueueUseCase) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return q.repo.FindByID(ctx, repository.NoTX, jobID)
}

func (q *JobQueueUseCase) JobStatus(ctx context.Context, jobID string) (model.JobStatus, error) {
	j, err := q.repo.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return "", err
	}
	return j.Status, nil
}

// RequeueStale fails, with retry, every RUNNING job whose heartbeat is older
// than lease. It returns how many jobs it touched.
func (q *JobQueueUseCase) RequeueStale(ctx context.Context, lease time.Duration) (int, error) {
	cutoff := q.now().Add(-lease)
	ids, err := q.repo.ListStale(ctx, repository.NoTX, cutoff, 100)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		err := q.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			j, err := q.repo.FindByIDForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			// re-check under the row lock; the worker may have reported in meanwhile
			if j.Status != model.JobStatusRunning || !j.UpdatedAt.Before(cutoff) {
				return domain.ErrNotFound
			}
			if err := q.applyFailure(ctx, tx, j, "worker lease expired", true); err != nil {
				return err
			}
			return q.repo.Update(ctx, tx, j)
		})
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
		q.log.Warn().Str("job_id", id).Msg("requeued job with expired lease")
	}
	metrics.AddStaleRequeued(n)
	return n, nil
}
