package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

const jobColumns = `id::text, job_type, status, subject_id, priority, progress, total_items, processed_items,
retry_count, error_log, config, result, worker_id, created_at, started_at, completed_at, updated_at`

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

func (r *jobRepo) Insert(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if len(job.Config) == 0 {
		job.Config = []byte("{}")
	}

	const q = `
INSERT INTO jobs (id, job_type, status, subject_id, priority, progress, total_items, processed_items,
                  retry_count, error_log, config, result, worker_id, created_at, started_at, completed_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17);`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, string(job.Type), string(job.Status), job.SubjectID, job.Priority, job.Progress,
		job.TotalItems, job.ProcessedItems, job.RetryCount, job.ErrorLog, []byte(job.Config),
		nullableJSON(job.Result), job.WorkerID, job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, job.SubjectID)
		}
		return err
	}
	return nil
}

// ClaimNext must be called with a transaction so the row lock survives until commit.
func (r *jobRepo) ClaimNext(ctx context.Context, tx repository.Tx) (*model.Job, error) {
	if tx == nil {
		return nil, domain.ErrInvalidExecContext
	}
	q := `
SELECT ` + jobColumns + `
FROM jobs
WHERE status IN ('PENDING', 'RETRY')
ORDER BY priority DESC, created_at ASC, id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED;`

	row, err := pickRow(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	if tx == nil {
		return nil, domain.ErrInvalidExecContext
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) Update(ctx context.Context, tx repository.Tx, job *model.Job) error {
	job.UpdatedAt = time.Now()
	const q = `
UPDATE jobs SET
  status = $2,
  priority = $3,
  progress = $4,
  total_items = $5,
  processed_items = $6,
  retry_count = $7,
  error_log = $8,
  result = $9,
  worker_id = $10,
  started_at = $11,
  completed_at = $12,
  updated_at = $13
WHERE id = $1;`

	tag, err := execSQL(ctx, r.pool, tx, q,
		job.ID, string(job.Status), job.Priority, job.Progress, job.TotalItems, job.ProcessedItems,
		job.RetryCount, job.ErrorLog, nullableJSON(job.Result), job.WorkerID, job.StartedAt,
		job.CompletedAt, job.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) ListStale(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id::text FROM jobs
WHERE status = 'RUNNING' AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2;`

	rows, err := queryRows(ctx, r.pool, tx, q, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j              model.Job
		jobType        string
		status         string
		config, result []byte
	)
	err := row.Scan(
		&j.ID, &jobType, &status, &j.SubjectID, &j.Priority, &j.Progress, &j.TotalItems, &j.ProcessedItems,
		&j.RetryCount, &j.ErrorLog, &config, &result, &j.WorkerID, &j.CreatedAt, &j.StartedAt,
		&j.CompletedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	j.Type = model.JobType(jobType)
	j.Status = model.JobStatus(status)
	j.Config = config
	if len(result) > 0 {
		j.Result = result
	}
	return &j, nil
}

// nullableJSON keeps an empty result as SQL NULL instead of an invalid JSON document.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
