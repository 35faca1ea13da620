package events

import (
	"context"

	"github.com/rs/zerolog"

	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/adapter"
)

var _ adapter.EventPublisher = (*NoopPublisher)(nil)

// NoopPublisher logs events at debug level instead of sending them anywhere.
type NoopPublisher struct {
	log zerolog.Logger
}

func NewNoopPublisher(logger *zerolog.Logger) *NoopPublisher {
	return &NoopPublisher{log: logger.With().Str("component", "NoopPublisher").Logger()}
}

func (p *NoopPublisher) Publish(ctx context.Context, evt model.PipelineEvent) error {
	p.log.Debug().Str("document_id", evt.DocumentID).Str("stage", string(evt.Stage)).Msg("pipeline event")
	return nil
}

func (p *NoopPublisher) Close() error { return nil }
