package sched

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"doc-ingest/internal/infra/metrics"
)

// StatFunc samples the connection pool.
type StatFunc func() metrics.DBPoolStats

func PgxPoolStats(pool *pgxpool.Pool) StatFunc {
	return func() metrics.DBPoolStats {
		s := pool.Stat()
		return metrics.DBPoolStats{
			Total:         s.TotalConns(),
			Idle:          s.IdleConns(),
			InUse:         s.AcquiredConns(),
			Max:           s.MaxConns(),
			EmptyAcquires: s.EmptyAcquireCount(),
		}
	}
}

// PoolStatsWorker samples the database pool into the db_pool_stats gauges and
// warns when every connection is checked out.
type PoolStatsWorker struct {
	interval time.Duration
	stat     StatFunc
	log      *zerolog.Logger
}

func NewPoolStatsWorker(interval time.Duration, stat StatFunc, logger *zerolog.Logger) *PoolStatsWorker {
	l := logger.With().Str("component", "PoolStatsWorker").Logger()
	return &PoolStatsWorker{interval: interval, stat: stat, log: &l}
}

func (w *PoolStatsWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sample()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sample()
		}
	}
}

func (w *PoolStatsWorker) sample() metrics.DBPoolStats {
	s := w.stat()
	metrics.SetDBPoolStats(s)
	if s.Max > 0 && s.InUse >= s.Max {
		w.log.Warn().Int32("in_use", s.InUse).Int32("max", s.Max).Msg("database pool exhausted")
	}
	return s
}
