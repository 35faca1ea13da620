package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque, infra-defined transaction handle (pgx.Tx for Postgres).
// Repositories accept nil to run outside a transaction.
type Tx interface{}

// NoTX runs a repository call outside any transaction.
var NoTX interface{}

// TransactionManager runs fn inside a transaction and commits when fn returns nil.
// Use cases pass the tx handle through to every repository call that must share it,
// which is how row locks taken by SELECT ... FOR UPDATE stay held until commit.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

// QueueNotifier publishes a wake-up on a named channel. When tx is non-nil the
// notification is delivered only if that transaction commits.
type QueueNotifier interface {
	Notify(ctx context.Context, tx Tx, channel, payload string) error
}
