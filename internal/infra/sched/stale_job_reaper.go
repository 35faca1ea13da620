package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// StaleRequeuer returns RUNNING jobs whose lease has expired to the queue.
type StaleRequeuer interface {
	RequeueStale(ctx context.Context, lease time.Duration) (int, error)
}

// StaleJobReaper periodically hands abandoned jobs back to the queue so a
// crashed worker does not leave them RUNNING forever.
type StaleJobReaper struct {
	interval time.Duration
	lease    time.Duration
	queue    StaleRequeuer
	log      *zerolog.Logger
}

func NewStaleJobReaper(interval, lease time.Duration, queue StaleRequeuer, logger *zerolog.Logger) *StaleJobReaper {
	reapLog := logger.With().Str("component", "StaleJobReaper").Logger()
	return &StaleJobReaper{
		interval: interval,
		lease:    lease,
		queue:    queue,
		log:      &reapLog,
	}
}

func (w *StaleJobReaper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("lease", w.lease).Msg("Starting stale job reaper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stale job reaper")
			return ctx.Err()
		case <-ticker.C:
			w.reap(ctx)
		}
	}
}

func (w *StaleJobReaper) reap(ctx context.Context) {
	n, err := w.queue.RequeueStale(ctx, w.lease)
	if err != nil {
		w.log.Error().Err(err).Msg("stale job reaper error")
	}
	if n > 0 {
		w.log.Warn().Int("count", n).Msg("requeued jobs with expired lease")
	}
}
