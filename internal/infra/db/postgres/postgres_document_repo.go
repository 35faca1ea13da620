package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/repository"
)

var _ repository.DocumentRepository = (*documentRepo)(nil)

type documentRepo struct {
	pool *pgxpool.Pool
}

func NewDocumentRepo(pool *pgxpool.Pool) *documentRepo {
	return &documentRepo{pool: pool}
}

func (r *documentRepo) Save(ctx context.Context, tx repository.Tx, doc *model.Document) error {
	if doc == nil || doc.ID == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO documents (id, tenant, filename, content_type, source, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
  filename = EXCLUDED.filename,
  content_type = EXCLUDED.content_type,
  source = EXCLUDED.source
WHERE documents.tenant = EXCLUDED.tenant;`

	tag, err := execSQL(ctx, r.pool, tx, q, doc.ID, doc.Tenant, doc.Filename, doc.ContentType, doc.Source, doc.CreatedAt)
	if err != nil {
		return err
	}
	// a conflicting id owned by another tenant updates nothing
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTenant
	}
	return nil
}

func (r *documentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Document, error) {
	const q = `SELECT id, tenant, filename, content_type, source, created_at FROM documents WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var d model.Document
	if err := row.Scan(&d.ID, &d.Tenant, &d.Filename, &d.ContentType, &d.Source, &d.CreatedAt); err != nil {
		return nil, translateNoRows(err)
	}
	return &d, nil
}
