// File: internal/infra/worker/job_processor.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/usecase"
	"doc-ingest/internal/infra/logging"
	"doc-ingest/internal/infra/metrics"
)

// JobProcessor claims jobs from the queue and runs them on the pool. It wakes on
// queue notifications and falls back to polling.
type JobProcessor struct {
	queue      usecase.JobQueue
	dispatcher usecase.Dispatcher
	handlers   map[model.JobType]usecase.JobHandler
	wake       <-chan string
	poll       time.Duration
	heartbeat  time.Duration
	workerID   string
	log        *zerolog.Logger
}

func NewJobProcessor(
	queue usecase.JobQueue,
	dispatcher usecase.Dispatcher,
	wake <-chan string,
	poll time.Duration,
	lease time.Duration,
	workerID string,
	logger *zerolog.Logger,
) *JobProcessor {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	hb := lease / 3
	if hb <= 0 {
		hb = time.Minute
	}
	l := logger.With().Str("component", "JobProcessor").Str("worker_id", workerID).Logger()
	return &JobProcessor{
		queue:      queue,
		dispatcher: dispatcher,
		handlers:   dispatcher.Handlers(),
		wake:       wake,
		poll:       poll,
		heartbeat:  hb,
		workerID:   workerID,
		log:        &l,
	}
}

// Start runs the dispatch loop until ctx is done. Run it in a goroutine.
func (p *JobProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Dur("poll", p.poll).Msg("job processor started")
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		p.drain(ctx, pool)
		select {
		case <-ctx.Done():
			p.log.Info().Msg("job processor stopping")
			return
		case id := <-p.wake:
			p.log.Debug().Str("job_id", id).Msg("woken by notification")
		case <-ticker.C:
		}
	}
}

// drain claims jobs while slots are free and the queue has work.
func (p *JobProcessor) drain(ctx context.Context, pool *Pool) {
	for {
		if err := p.dispatcher.Acquire(ctx); err != nil {
			return
		}
		job, err := p.queue.DequeueJob(ctx, p.workerID)
		if err != nil {
			p.dispatcher.Release()
			if ctx.Err() == nil {
				p.log.Error().Err(err).Msg("failed to dequeue job")
			}
			return
		}
		if job == nil {
			p.dispatcher.Release()
			return
		}

		metrics.IncJobsInFlight()
		err = pool.Submit(func(ctx context.Context) error {
			defer metrics.DecJobsInFlight()
			defer p.dispatcher.Release()
			p.Process(ctx, job)
			return nil
		})
		if err != nil {
			metrics.DecJobsInFlight()
			p.dispatcher.Release()
			p.log.Warn().Err(err).Str("job_id", job.ID).Msg("pool rejected job; returning it to the queue")
			p.finish(job, nil, domain.Transient("submit", err))
			return
		}
	}
}

// Process runs job's handler and records the outcome on the queue.
func (p *JobProcessor) Process(ctx context.Context, job *model.Job) {
	ctx = logging.WithJobID(logging.WithWorkerID(ctx, p.workerID), job.ID)
	log := logging.With(ctx, p.log)

	handler, ok := p.handlers[job.Type]
	if !ok {
		p.finish(job, nil, domain.Structural("dispatch", fmt.Errorf("%w: %s", domain.ErrUnknownJobType, job.Type)))
		return
	}

	hbCtx, stop := context.WithCancel(ctx)
	go p.keepAlive(hbCtx, job.ID)

	log.Info().Str("type", string(job.Type)).Str("subject_id", job.SubjectID).Int("retry_count", job.RetryCount).Msg("processing job")
	start := time.Now()
	result, err := handler(ctx, job, p.workerID)
	stop()
	log.Info().Dur("duration", time.Since(start)).Bool("ok", err == nil).Msg("job finished")

	p.finish(job, result, err)
}

// finish uses a fresh context so the outcome is recorded even during shutdown.
func (p *JobProcessor) finish(job *model.Job, result any, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err == nil {
		if merr := p.queue.MarkJobDone(ctx, job.ID, p.workerID, result); merr != nil {
			if errors.Is(merr, domain.ErrJobCancelled) {
				p.log.Info().Str("job_id", job.ID).Msg("job cancelled before completion was recorded")
				return
			}
			p.log.Error().Err(merr).Str("job_id", job.ID).Msg("failed to mark job done")
		}
		return
	}
	if errors.Is(err, domain.ErrJobCancelled) {
		p.log.Info().Str("job_id", job.ID).Msg("job cancelled while running")
		return
	}

	kind := domain.KindOf(err)
	retry := kind == domain.KindTransient
	p.log.Warn().Err(err).Str("job_id", job.ID).Str("kind", kind.String()).Bool("retry", retry).Msg("job failed")
	if _, merr := p.queue.MarkJobFailed(ctx, job.ID, p.workerID, err.Error(), retry); merr != nil {
		if errors.Is(merr, domain.ErrJobCancelled) {
			return
		}
		p.log.Error().Err(merr).Str("job_id", job.ID).Msg("failed to record job failure")
	}
}

func (p *JobProcessor) keepAlive(ctx context.Context, jobID string) {
	t := time.NewTicker(p.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.queue.Heartbeat(ctx, jobID, p.workerID); err != nil {
				if ctx.Err() == nil {
					p.log.Warn().Err(err).Str("job_id", jobID).Msg("heartbeat failed")
				}
				if errors.Is(err, domain.ErrJobCancelled) || errors.Is(err, domain.ErrJobNotOwned) {
					return
				}
			}
		}
	}
}
