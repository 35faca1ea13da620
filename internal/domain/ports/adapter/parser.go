package adapter

import (
	"context"

	"doc-ingest/internal/domain/model"
)

// Parser turns raw document bytes into structured elements in reading order.
type Parser interface {
	Parse(ctx context.Context, doc *model.Document) ([]model.Element, error)
}
