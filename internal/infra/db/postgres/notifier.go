package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"doc-ingest/internal/domain/ports/repository"
)

var _ repository.QueueNotifier = (*Notifier)(nil)

// Notifier publishes queue wake-ups with pg_notify. Inside a transaction the
// notification is only delivered on commit.
type Notifier struct {
	pool *pgxpool.Pool
}

func NewNotifier(pool *pgxpool.Pool) *Notifier {
	return &Notifier{pool: pool}
}

func (n *Notifier) Notify(ctx context.Context, tx repository.Tx, channel, payload string) error {
	_, err := execSQL(ctx, n.pool, tx, `SELECT pg_notify($1, $2);`, channel, payload)
	return err
}
