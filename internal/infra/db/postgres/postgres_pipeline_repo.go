package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/repository"
)

var _ repository.PipelineStatusRepository = (*pipelineStatusRepo)(nil)

type pipelineStatusRepo struct {
	pool *pgxpool.Pool
}

func NewPipelineStatusRepo(pool *pgxpool.Pool) *pipelineStatusRepo {
	return &pipelineStatusRepo{pool: pool}
}

func (r *pipelineStatusRepo) Save(ctx context.Context, tx repository.Tx, st *model.PipelineStatus) error {
	if st == nil || st.DocumentID == "" {
		return domain.ErrInvalidArgument
	}
	times, err := json.Marshal(st.StageTimes)
	if err != nil {
		return fmt.Errorf("encode stage times: %w", err)
	}
	var failure []byte
	if st.Failure != nil {
		if failure, err = json.Marshal(st.Failure); err != nil {
			return fmt.Errorf("encode failure: %w", err)
		}
	}

	const q = `
INSERT INTO pipeline_status (document_id, job_id, current_stage, stage_times, started_at, updated_at,
                             completed_at, progress_percentage, error_count, last_error, failure)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (document_id) DO UPDATE SET
  job_id = EXCLUDED.job_id,
  current_stage = EXCLUDED.current_stage,
  stage_times = EXCLUDED.stage_times,
  started_at = EXCLUDED.started_at,
  updated_at = EXCLUDED.updated_at,
  completed_at = EXCLUDED.completed_at,
  progress_percentage = EXCLUDED.progress_percentage,
  error_count = EXCLUDED.error_count,
  last_error = EXCLUDED.last_error,
  failure = EXCLUDED.failure;`

	_, err = execSQL(ctx, r.pool, tx, q,
		st.DocumentID, st.JobID, string(st.CurrentStage), times, st.StartedAt, st.UpdatedAt,
		st.CompletedAt, st.ProgressPercentage, st.ErrorCount, st.LastError, nullableJSON(failure))
	return err
}

func (r *pipelineStatusRepo) FindByDocumentID(ctx context.Context, tx repository.Tx, documentID string) (*model.PipelineStatus, error) {
	const q = `
SELECT document_id, job_id, current_stage, stage_times, started_at, updated_at, completed_at,
       progress_percentage, error_count, last_error, failure
FROM pipeline_status WHERE document_id = $1;`

	row, err := pickRow(ctx, r.pool, tx, q, documentID)
	if err != nil {
		return nil, err
	}
	var (
		st             model.PipelineStatus
		stage          string
		times, failure []byte
	)
	if err := row.Scan(&st.DocumentID, &st.JobID, &stage, &times, &st.StartedAt, &st.UpdatedAt, &st.CompletedAt,
		&st.ProgressPercentage, &st.ErrorCount, &st.LastError, &failure); err != nil {
		return nil, translateNoRows(err)
	}
	st.CurrentStage = model.Stage(stage)
	st.StageTimes = map[model.Stage]time.Time{}
	if len(times) > 0 {
		if err := json.Unmarshal(times, &st.StageTimes); err != nil {
			return nil, fmt.Errorf("%w: stage_times: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	if len(failure) > 0 {
		st.Failure = &model.StageFailure{}
		if err := json.Unmarshal(failure, st.Failure); err != nil {
			return nil, fmt.Errorf("%w: failure: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return &st, nil
}
