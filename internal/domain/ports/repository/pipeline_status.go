package repository

import (
	"context"

	"doc-ingest/internal/domain/model"
)

// PipelineStatusRepository is the durable side of the pipeline tracker.
type PipelineStatusRepository interface {
	Save(ctx context.Context, tx Tx, status *model.PipelineStatus) error
	FindByDocumentID(ctx context.Context, tx Tx, documentID string) (*model.PipelineStatus, error)
}
