//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
)

func zerologForTest() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
}

func TestPipelineStatusRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewPipelineStatusRepo(testPool)

	t.Run("should return ErrNotFound for unknown documents", func(t *testing.T) {
		cleanup(t)
		_, err := repo.FindByDocumentID(ctx, nil, "nope")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should upsert status with stage times and failure context", func(t *testing.T) {
		cleanup(t)
		doc := seedDocument(t, ctx)
		now := time.Now().UTC().Truncate(time.Millisecond)
		st := &model.PipelineStatus{
			DocumentID:   doc.ID,
			JobID:        "job-1",
			CurrentStage: model.StageEmbedding,
			StageTimes:   map[model.Stage]time.Time{model.StageParsing: now, model.StageEmbedding: now},
			StartedAt:    now,
			UpdatedAt:    now,
			ErrorCount:   1,
			LastError:    "rate limited",
			Failure: &model.StageFailure{
				Stage: model.StageEmbedding, Error: "rate limited", Succeeded: []int{0, 1, 2}, Total: 5, RecordedAt: now,
			},
		}
		if err := repo.Save(ctx, nil, st); err != nil {
			t.Fatalf("save: %v", err)
		}
		st.CurrentStage = model.StageStoring
		if err := repo.Save(ctx, nil, st); err != nil {
			t.Fatalf("second save: %v", err)
		}

		got, err := repo.FindByDocumentID(ctx, nil, doc.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got.CurrentStage != model.StageStoring {
			t.Errorf("expected STORING, got %s", got.CurrentStage)
		}
		if len(got.StageTimes) != 2 {
			t.Errorf("expected 2 stage times, got %d", len(got.StageTimes))
		}
		if got.Failure == nil || len(got.Failure.Succeeded) != 3 || got.Failure.Total != 5 {
			t.Errorf("unexpected failure context %+v", got.Failure)
		}
	})
}

func TestDocumentRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewDocumentRepo(testPool)

	t.Run("should refuse to overwrite another tenant's document", func(t *testing.T) {
		cleanup(t)
		doc := seedDocument(t, ctx)
		other := *doc
		other.Tenant = "globex"
		if err := repo.Save(ctx, nil, &other); !errors.Is(err, domain.ErrInvalidTenant) {
			t.Fatalf("expected ErrInvalidTenant, got %v", err)
		}
		got, err := repo.FindByID(ctx, nil, doc.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got.Tenant != "acme" || string(got.Source) != "hello" {
			t.Errorf("unexpected document %+v", got)
		}
	})
}
