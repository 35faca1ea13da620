// File: internal/usecase/orchestrator.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/adapter"
	"doc-ingest/internal/domain/ports/repository"
	"doc-ingest/internal/domain/ports/usecase"
	"doc-ingest/internal/infra/logging"
	"doc-ingest/internal/infra/metrics"
)

var _ usecase.Dispatcher = (*Orchestrator)(nil)

type Mode int

const (
	ModeFull Mode = iota
	ModeTablesOnly
)

type OrchestratorConfig struct {
	MaxConcurrent  int
	StageTimeout   time.Duration
	CallTimeout    time.Duration
	ChunkTokens    int
	EmbedBatchSize int
	EmbedWorkers   int
	LockTTL        time.Duration
	Retry          RetryConfig
}

// PipelineResult is stored as the job result of a full pipeline run.
type PipelineResult struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Stored     int    `json:"stored"`
	Retried    int    `json:"retried,omitempty"`
	Pruned     int    `json:"pruned,omitempty"`
}

type TableItem struct {
	Page    int    `json:"page"`
	Section string `json:"section,omitempty"`
	Rows    int    `json:"rows"`
	Text    string `json:"text"`
}

// TableSummary is the job result of EXTRACT_TABLES.
type TableSummary struct {
	DocumentID string      `json:"document_id"`
	Tables     int         `json:"tables"`
	Items      []TableItem `json:"items"`
}

type OrchestratorOption func(*Orchestrator)

// WithLocker serialises pipeline runs per document across worker processes.
func WithLocker(l adapter.Locker, key func(tenant, documentID string) string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.locker = l
		if key != nil {
			o.lockKey = key
		}
	}
}

func WithEventPublisher(p adapter.EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.events = p }
}

type Orchestrator struct {
	queue    usecase.JobQueue
	docs     repository.DocumentRepository
	chunks   *ChunkStoreUseCase
	tracker  *PipelineTracker
	parser   adapter.Parser
	chunker  *Chunker
	embedder adapter.Embedder
	events   adapter.EventPublisher
	locker   adapter.Locker
	lockKey  func(tenant, documentID string) string

	pool   *ants.Pool
	slots  chan struct{}
	cfg    OrchestratorConfig
	tracer trace.Tracer
	log    *zerolog.Logger
}

func NewOrchestrator(
	cfg OrchestratorConfig,
	queue usecase.JobQueue,
	docs repository.DocumentRepository,
	chunks *ChunkStoreUseCase,
	tracker *PipelineTracker,
	parser adapter.Parser,
	chunker *Chunker,
	embedder adapter.Embedder,
	logger *zerolog.Logger,
	opts ...OrchestratorOption,
) (*Orchestrator, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = 1
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 32
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 10 * time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = time.Minute
	}
	pool, err := ants.NewPool(cfg.EmbedWorkers)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	l := logger.With().Str("component", "Orchestrator").Logger()
	o := &Orchestrator{
		queue:    queue,
		docs:     docs,
		chunks:   chunks,
		tracker:  tracker,
		parser:   parser,
		chunker:  chunker,
		embedder: embedder,
		lockKey:  func(tenant, documentID string) string { return "doc-lock:" + tenant + ":" + documentID },
		pool:     pool,
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		cfg:      cfg,
		tracer:   otel.Tracer("doc-ingest/pipeline"),
		log:      &l,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Close releases the embedding pool.
func (o *Orchestrator) Close() {
	o.pool.Release()
}

// Acquire blocks until a pipeline slot is free.
func (o *Orchestrator) Acquire(ctx context.Context) error {
	select {
	case o.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) Release() {
	select {
	case <-o.slots:
	default:
	}
}

func (o *Orchestrator) Handlers() map[model.JobType]usecase.JobHandler {
	full := func(ctx context.Context, job *model.Job, workerID string) (any, error) {
		return o.ProcessDocument(ctx, job, workerID, ModeFull)
	}
	return map[model.JobType]usecase.JobHandler{
		model.JobTypeEmbedDocument:   full,
		model.JobTypeReembedDocument: full,
		model.JobTypeExtractTables: func(ctx context.Context, job *model.Job, workerID string) (any, error) {
			return o.ProcessDocument(ctx, job, workerID, ModeTablesOnly)
		},
	}
}

// ProcessDocument drives one document through the pipeline for job. The
// tracker is marked COMPLETED only after the chunk store verified the write.
func (o *Orchestrator) ProcessDocument(ctx context.Context, job *model.Job, workerID string, mode Mode) (any, error) {
	doc, err := o.docs.FindByID(ctx, repository.NoTX, job.SubjectID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Structural("load document", fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, job.SubjectID))
	}
	if err != nil {
		return nil, domain.Transient("load document", err)
	}
	jc, err := ParseJobConfig(job.Config)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithDocumentID(logging.WithTenant(ctx, doc.Tenant), doc.ID)
	log := logging.With(ctx, o.log)
	ctx, span := o.tracer.Start(ctx, "pipeline.document", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", string(job.Type)),
		attribute.String("document.id", doc.ID),
	))
	defer span.End()

	if o.locker != nil {
		key := o.lockKey(doc.Tenant, doc.ID)
		token, err := o.locker.TryLock(ctx, key, o.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockNotAcquired) {
				return nil, domain.Transient("lock document", err)
			}
			return nil, err
		}
		defer func() {
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.locker.Unlock(uctx, key, token); err != nil {
				log.Warn().Err(err).Msg("failed to release document lock")
			}
		}()
	}

	metrics.IncPipelinesInFlight()
	defer metrics.DecPipelinesInFlight()

	var result any
	if mode == ModeTablesOnly {
		result, err = o.extractTables(ctx, job, doc, jc)
	} else {
		result, err = o.runPipeline(ctx, job, workerID, doc, jc)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domain.ErrJobCancelled) {
			log.Info().Msg("pipeline stopped: job cancelled")
		} else {
			log.Error().Err(err).Str("kind", domain.KindOf(err).String()).Msg("pipeline failed")
		}
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, job *model.Job, workerID string, doc *model.Document, jc JobConfig) (*PipelineResult, error) {
	if _, err := o.tracker.Begin(ctx, doc.ID, job.ID); err != nil {
		return nil, domain.Transient("begin pipeline", err)
	}
	o.publish(ctx, job, doc, model.StageUploading, nil, 0)

	res, err := o.stages(ctx, job, workerID, doc, jc)
	if err != nil {
		if !errors.Is(err, domain.ErrJobCancelled) {
			if ferr := o.tracker.Fail(ctx, doc.ID, err); ferr != nil {
				o.log.Warn().Err(ferr).Str("document_id", doc.ID).Msg("failed to record pipeline failure")
			}
			o.publish(ctx, job, doc, model.StageFailed, err, 0)
		}
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) stages(ctx context.Context, job *model.Job, workerID string, doc *model.Document, jc JobConfig) (*PipelineResult, error) {
	var elements []model.Element
	if err := o.enter(ctx, job, doc, model.StageParsing); err != nil {
		return nil, err
	}
	err := o.runStage(ctx, model.StageParsing, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
		var err error
		elements, err = o.parser.Parse(cctx, doc)
		return err
	})
	if err != nil {
		return nil, err
	}

	var chunks []model.Chunk
	if err := o.enter(ctx, job, doc, model.StageChunking); err != nil {
		return nil, err
	}
	maxTokens := o.cfg.ChunkTokens
	if jc.ChunkTokens > 0 {
		maxTokens = jc.ChunkTokens
	}
	err = o.runStage(ctx, model.StageChunking, func(context.Context) error {
		var err error
		chunks, err = o.chunker.Chunk(doc.ID, doc.Tenant, elements, maxTokens)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := o.queue.SetTotalItems(ctx, job.ID, workerID, len(chunks)); err != nil {
		return nil, err
	}

	if err := o.enter(ctx, job, doc, model.StageEmbedding); err != nil {
		return nil, err
	}
	batch := o.cfg.EmbedBatchSize
	if jc.EmbedBatchSize > 0 {
		batch = jc.EmbedBatchSize
	}
	err = o.runStage(ctx, model.StageEmbedding, func(ctx context.Context) error {
		return o.embed(ctx, job, workerID, doc.ID, chunks, batch)
	})
	if err != nil {
		return nil, err
	}

	if err := o.enter(ctx, job, doc, model.StageStoring); err != nil {
		return nil, err
	}
	var stored StoreResult
	err = o.runStage(ctx, model.StageStoring, func(ctx context.Context) error {
		var err error
		stored, err = o.store(ctx, doc, chunks)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := o.checkCancelled(ctx, job.ID); err != nil {
		return nil, err
	}
	if err := o.tracker.TrackPipelineProgress(ctx, doc.ID, model.StageCompleted); err != nil {
		return nil, err
	}
	o.publish(ctx, job, doc, model.StageCompleted, nil, stored.StoredCount)
	o.tracker.Forget(doc.ID)
	return &PipelineResult{
		DocumentID: doc.ID,
		Chunks:     len(chunks),
		Stored:     stored.StoredCount,
		Retried:    stored.Retried,
		Pruned:     stored.Pruned,
	}, nil
}

// enter checks for out-of-band cancellation, records the stage and announces it.
func (o *Orchestrator) enter(ctx context.Context, job *model.Job, doc *model.Document, stage model.Stage) error {
	if err := o.checkCancelled(ctx, job.ID); err != nil {
		return err
	}
	if err := o.tracker.TrackPipelineProgress(ctx, doc.ID, stage); err != nil {
		return err
	}
	o.publish(ctx, job, doc, stage, nil, 0)
	return nil
}

func (o *Orchestrator) checkCancelled(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return domain.Transient("pipeline", err)
	}
	status, err := o.queue.JobStatus(ctx, jobID)
	if err != nil {
		return domain.Transient("check job status", err)
	}
	if status == model.JobStatusCancelled {
		return domain.ErrJobCancelled
	}
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage model.Stage, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "pipeline."+strings.ToLower(string(stage)))
	defer span.End()
	sctx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	start := time.Now()
	err := fn(sctx)
	metrics.ObserveStage(string(stage), time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// embed fills in chunk vectors, batch by batch on the embedding pool. A
// partial failure is recorded and only the chunks still missing a vector are retried.
func (o *Orchestrator) embed(ctx context.Context, job *model.Job, workerID, documentID string, chunks []model.Chunk, batchSize int) error {
	var progressMu sync.Mutex
	embedded := 0

	run := func(ctx context.Context, indices []int) ([]int, error) {
		var (
			mu        sync.Mutex
			wg        sync.WaitGroup
			succeeded []int
			firstErr  error
		)
		record := func(idx []int, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			succeeded = append(succeeded, idx...)
		}
		for start := 0; start < len(indices); start += batchSize {
			end := start + batchSize
			if end > len(indices) {
				end = len(indices)
			}
			idx := indices[start:end]
			wg.Add(1)
			err := o.pool.Submit(func() {
				defer wg.Done()
				err := o.embedBatch(ctx, chunks, idx)
				record(idx, err)
				if err == nil {
					progressMu.Lock()
					embedded += len(idx)
					done := embedded
					progressMu.Unlock()
					if perr := o.queue.UpdateProgress(ctx, job.ID, workerID, done); perr != nil {
						o.log.Debug().Err(perr).Str("job_id", job.ID).Msg("progress update rejected")
					}
				}
			})
			if err != nil {
				wg.Done()
				record(nil, domain.Transient("embed", err))
			}
		}
		wg.Wait()
		sort.Ints(succeeded)
		return succeeded, firstErr
	}

	all := make([]int, len(chunks))
	for i := range all {
		all[i] = i
	}
	succeeded, err := run(ctx, all)
	if err == nil {
		return nil
	}
	if ferr := o.tracker.HandlePipelineFailure(ctx, documentID, PipelineFailure{
		Stage: model.StageEmbedding, Err: err, PartialResults: succeeded, Total: len(chunks),
	}); ferr != nil {
		return ferr
	}
	if !domain.IsRetryable(err) {
		return err
	}
	return o.tracker.RetryFailedStage(ctx, documentID, model.StageEmbedding, o.cfg.Retry, run)
}

func (o *Orchestrator) embedBatch(ctx context.Context, chunks []model.Chunk, idx []int) error {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	texts := make([]string, len(idx))
	for i, ci := range idx {
		texts[i] = chunks[ci].Content
	}
	vecs, err := o.embedder.EmbedTexts(cctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(texts) {
		return domain.Transient("embed", fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts)))
	}
	for i, ci := range idx {
		chunks[ci].Vector = vecs[i]
	}
	return nil
}

// store writes the full chunk set. The write is idempotent, so a retry re-submits
// everything and the store's own verification decides what is done.
func (o *Orchestrator) store(ctx context.Context, doc *model.Document, chunks []model.Chunk) (StoreResult, error) {
	var last StoreResult
	run := func(ctx context.Context, _ []int) ([]int, error) {
		res, err := o.chunks.StoreChunks(ctx, chunks, doc.ID, doc.Tenant)
		last = res
		if err == nil {
			return nil, nil
		}
		failed := make(map[int]bool, len(res.FailedIndices))
		for _, i := range res.FailedIndices {
			failed[i] = true
		}
		var ok []int
		if len(res.FailedIndices) > 0 {
			for i := range chunks {
				if !failed[i] {
					ok = append(ok, i)
				}
			}
		}
		return ok, err
	}

	succeeded, err := run(ctx, nil)
	if err == nil {
		return last, nil
	}
	if ferr := o.tracker.HandlePipelineFailure(ctx, doc.ID, PipelineFailure{
		Stage: model.StageStoring, Err: err, PartialResults: succeeded, Total: len(chunks),
	}); ferr != nil {
		return last, ferr
	}
	if !domain.IsRetryable(err) {
		return last, err
	}
	if err := o.tracker.RetryFailedStage(ctx, doc.ID, model.StageStoring, o.cfg.Retry, run); err != nil {
		return last, err
	}
	return last, nil
}

func (o *Orchestrator) extractTables(ctx context.Context, job *model.Job, doc *model.Document, jc JobConfig) (*TableSummary, error) {
	if err := o.checkCancelled(ctx, job.ID); err != nil {
		return nil, err
	}
	var elements []model.Element
	err := o.runStage(ctx, model.StageParsing, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
		var err error
		elements, err = o.parser.Parse(cctx, doc)
		return err
	})
	if err != nil {
		return nil, err
	}

	pages := map[int]bool{}
	for _, p := range jc.Pages {
		pages[p] = true
	}
	sum := &TableSummary{DocumentID: doc.ID, Items: []TableItem{}}
	for _, el := range elements {
		if el.Type != model.ElementTable {
			continue
		}
		if len(pages) > 0 && !pages[el.Page] {
			continue
		}
		sum.Items = append(sum.Items, TableItem{
			Page:    el.Page,
			Section: model.JoinSection(el.Section),
			Rows:    len(strings.Split(strings.TrimSpace(el.Text), "\n")),
			Text:    el.Text,
		})
	}
	sum.Tables = len(sum.Items)
	return sum, nil
}

func (o *Orchestrator) publish(ctx context.Context, job *model.Job, doc *model.Document, stage model.Stage, err error, chunks int) {
	if o.events == nil {
		return
	}
	evt := model.PipelineEvent{
		DocumentID: doc.ID,
		Tenant:     doc.Tenant,
		JobID:      job.ID,
		Stage:      stage,
		Chunks:     chunks,
		At:         time.Now(),
	}
	if err != nil {
		evt.Error = err.Error()
	}
	if perr := o.events.Publish(ctx, evt); perr != nil {
		o.log.Warn().Err(perr).Str("document_id", doc.ID).Str("stage", string(stage)).Msg("failed to publish pipeline event")
	}
}
