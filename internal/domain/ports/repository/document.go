package repository

import (
	"context"

	"doc-ingest/internal/domain/model"
)

type DocumentRepository interface {
	Save(ctx context.Context, tx Tx, doc *model.Document) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Document, error)
}
