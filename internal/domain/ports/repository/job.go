package repository

import (
	"context"
	"time"

	"doc-ingest/internal/domain/model"
)

type JobRepository interface {
	// Insert stores a new job. A missing subject must surface as domain.ErrSubjectNotFound.
	Insert(ctx context.Context, tx Tx, job *model.Job) error
	// ClaimNext locks the highest-priority claimable job so that concurrent callers skip it.
	// It must run inside tx and returns domain.ErrNotFound when nothing is claimable.
	ClaimNext(ctx context.Context, tx Tx) (*model.Job, error)
	// FindByIDForUpdate locks a single job row inside tx.
	FindByIDForUpdate(ctx context.Context, tx Tx, id string) (*model.Job, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	// Update persists every mutable field of job.
	Update(ctx context.Context, tx Tx, job *model.Job) error
	// ListStale returns ids of RUNNING jobs whose heartbeat is older than before.
	ListStale(ctx context.Context, tx Tx, before time.Time, limit int) ([]string, error)
}
