package adapter

import (
	"context"

	"doc-ingest/internal/domain/model"
)

// EventPublisher announces pipeline transitions to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, evt model.PipelineEvent) error
	Close() error
}
