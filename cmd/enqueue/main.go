// Command enqueue registers a document and queues a job for it, or inspects
// and cancels existing jobs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"doc-ingest/internal/config"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/repository"
	pg "doc-ingest/internal/infra/db/postgres"
	"doc-ingest/internal/infra/logging"
	"doc-ingest/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	file := flag.String("file", "", "document to register and enqueue")
	docID := flag.String("document", "", "existing document id (skips registration)")
	tenant := flag.String("tenant", "default", "tenant namespace for the document")
	jobType := flag.String("type", string(model.JobTypeEmbedDocument), "job type")
	priority := flag.Int("priority", 0, "higher runs first")
	jobCfg := flag.String("job-config", "", "JSON job config, e.g. {\"chunk_tokens\":256}")
	cancelID := flag.String("cancel", "", "cancel the job with this id")
	statusID := flag.String("status", "", "print the job with this id")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	configs, err := usecase.NewConfigValidator()
	if err != nil {
		logger.Fatal().Err(err).Msg("job config schemas")
	}
	tm := pg.NewTxManager(pool)
	queue := usecase.NewJobQueueUseCase(pg.NewJobRepo(pool), tm, pg.NewNotifier(pool), configs, cfg.Queue.Channel, cfg.Queue.MaxRetries, logger)

	switch {
	case *cancelID != "":
		if err := queue.CancelJob(ctx, *cancelID); err != nil {
			logger.Fatal().Err(err).Str("job_id", *cancelID).Msg("cancel")
		}
		fmt.Printf("cancelled %s\n", *cancelID)
	case *statusID != "":
		job, err := queue.GetJob(ctx, *statusID)
		if err != nil {
			logger.Fatal().Err(err).Str("job_id", *statusID).Msg("status")
		}
		printJob(job)
	default:
		subject := *docID
		if subject == "" {
			subject = register(ctx, pg.NewDocumentRepo(pool), tm, *file, *tenant, logger)
		}
		job, err := queue.EnqueueJob(ctx, usecase.EnqueueRequest{
			SubjectID: subject,
			Type:      model.JobType(*jobType),
			Priority:  *priority,
			Config:    json.RawMessage(*jobCfg),
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("enqueue")
		}
		printJob(job)
	}
}

func register(ctx context.Context, docs repository.DocumentRepository, tm repository.TransactionManager, path, tenant string, logger *zerolog.Logger) string {
	if path == "" {
		logger.Fatal().Msg("either -file or -document is required")
	}
	src, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal().Err(err).Str("file", path).Msg("read document")
	}
	doc, err := model.NewDocument("", tenant, filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), src)
	if err != nil {
		logger.Fatal().Err(err).Msg("document")
	}
	err = tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return docs.Save(ctx, tx, doc)
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("save document")
	}
	logger.Info().Str("document_id", doc.ID).Int("bytes", len(src)).Msg("document registered")
	return doc.ID
}

func printJob(j *model.Job) {
	out, _ := json.MarshalIndent(map[string]any{
		"id":        j.ID,
		"type":      j.Type,
		"status":    j.Status,
		"subject":   j.SubjectID,
		"priority":  j.Priority,
		"progress":  j.Progress,
		"processed": j.ProcessedItems,
		"total":     j.TotalItems,
		"retries":   j.RetryCount,
		"error":     j.ErrorLog,
	}, "", "  ")
	fmt.Println(string(out))
}
