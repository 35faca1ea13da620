package usecase

import (
	"context"
	"time"

	"doc-ingest/internal/domain/model"
)

// JobQueue is the queue surface needed by workers, the orchestrator and the reaper.
type JobQueue interface {
	DequeueJob(ctx context.Context, workerID string) (*model.Job, error)
	UpdateProgress(ctx context.Context, jobID, workerID string, processedItems int) error
	SetTotalItems(ctx context.Context, jobID, workerID string, total int) error
	Heartbeat(ctx context.Context, jobID, workerID string) error
	MarkJobDone(ctx context.Context, jobID, workerID string, result any) error
	MarkJobFailed(ctx context.Context, jobID, workerID, errorLog string, retry bool) (*model.Job, error)
	JobStatus(ctx context.Context, jobID string) (model.JobStatus, error)
	RequeueStale(ctx context.Context, lease time.Duration) (int, error)
}

// JobHandler runs one claimed job and returns the value stored as its result.
type JobHandler func(ctx context.Context, job *model.Job, workerID string) (any, error)

// Dispatcher gates how many jobs a worker process runs at once. Acquire must
// succeed before a job is dequeued.
type Dispatcher interface {
	Acquire(ctx context.Context) error
	Release()
	Handlers() map[model.JobType]JobHandler
}
