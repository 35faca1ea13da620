package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

// Listener holds one dedicated connection subscribed to a notification channel
// and forwards payloads (job ids) to Wake(). It reconnects with capped backoff.
type Listener struct {
	pool    *pgxpool.Pool
	channel string
	wake    chan string
	log     zerolog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewListener(pool *pgxpool.Pool, channel string, logger *zerolog.Logger) *Listener {
	return &Listener{
		pool:       pool,
		channel:    channel,
		wake:       make(chan string, 64),
		log:        logger.With().Str("component", "PgListener").Str("channel", channel).Logger(),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Wake delivers notification payloads. Deliveries are dropped when the buffer
// is full; the dispatcher's poll ticker picks up anything missed.
func (l *Listener) Wake() <-chan string { return l.wake }

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	backoff := l.minBackoff
	for {
		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			l.log.Info().Msg("listener stopped")
			return
		}
		l.log.Warn().Err(err).Dur("backoff", backoff).Msg("listen connection lost; reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return err
	}
	l.log.Info().Msg("listening for queue notifications")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				// the connection state is unknown; do not hand it back to the pool
				_ = conn.Conn().Close(context.Background())
			}
			return err
		}
		if n == nil {
			return errors.New("nil notification")
		}
		select {
		case l.wake <- n.Payload:
		default:
			l.log.Debug().Str("payload", n.Payload).Msg("wake buffer full; dropping notification")
		}
	}
}
