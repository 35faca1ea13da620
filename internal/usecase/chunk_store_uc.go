// File: internal/usecase/chunk_store_uc.go
package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/adapter"
	"doc-ingest/internal/infra/metrics"
)

// StoreResult describes one StoreChunks call. StoredCount is what the read-back
// verified, never what the backend claimed.
type StoreResult struct {
	StoredCount   int
	FailedCount   int
	FailedIndices []int
	FirstAttempt  int // written by the batch pass
	Retried       int // written by an individual retry
	Pruned        int // stale objects from an earlier run
	Reconciled    int // reported failed, found intact on read-back
}

type ChunkStoreUseCase struct {
	store       adapter.ObjectStore
	batchSize   int
	itemRetries int
	log         *zerolog.Logger
}

func NewChunkStoreUseCase(store adapter.ObjectStore, batchSize, itemRetries int, logger *zerolog.Logger) *ChunkStoreUseCase {
	if batchSize <= 0 {
		batchSize = 50
	}
	if itemRetries < 0 {
		itemRetries = 0
	}
	l := logger.With().Str("component", "ChunkStore").Logger()
	return &ChunkStoreUseCase{store: store, batchSize: batchSize, itemRetries: itemRetries, log: &l}
}

// StoreChunks persists the complete chunk set of one document and verifies the
// backing store holds exactly indices 0..N-1. A partial write returns the
// result with a transient error; a verification mismatch returns *domain.IntegrityError.
func (s *ChunkStoreUseCase) StoreChunks(ctx context.Context, chunks []model.Chunk, documentID, tenant string) (StoreResult, error) {
	var res StoreResult
	objects, err := s.prepare(chunks, documentID, tenant)
	if err != nil {
		return res, err
	}
	n := len(objects)
	log := s.log.With().Str("document_id", documentID).Str("tenant", tenant).Int("chunks", n).Logger()

	failed := map[int]error{}
	for start := 0; start < n; start += s.batchSize {
		end := start + s.batchSize
		if end > n {
			end = n
		}
		batch := objects[start:end]
		br, err := s.store.BatchInsert(ctx, tenant, batch)
		if err != nil {
			if ctx.Err() != nil {
				return res, domain.Transient("store chunks", ctx.Err())
			}
			log.Warn().Err(err).Int("batch_start", start).Int("batch_len", len(batch)).Msg("batch insert failed")
			for i := start; i < end; i++ {
				failed[i] = err
			}
			continue
		}
		for j := range batch {
			if e, bad := br.Errors[j]; bad {
				failed[start+j] = e
				continue
			}
			res.FirstAttempt++
		}
	}

	for attempt := 1; attempt <= s.itemRetries && len(failed) > 0; attempt++ {
		for _, idx := range sortedKeys(failed) {
			br, err := s.store.BatchInsert(ctx, tenant, objects[idx:idx+1])
			if err == nil {
				err = br.Errors[0]
			}
			if err != nil {
				if ctx.Err() != nil {
					return res, domain.Transient("store chunks", ctx.Err())
				}
				failed[idx] = err
				continue
			}
			delete(failed, idx)
			res.Retried++
		}
	}
	if res.Retried > 0 {
		log.Info().Int("retried", res.Retried).Msg("recovered chunks with individual retries")
	}

	start := time.Now()
	reported := len(failed)
	verified, pruned, err := s.verify(ctx, objects, failed, documentID, tenant)
	metrics.ObserveVerify(time.Since(start))
	res.Pruned = pruned
	res.Reconciled = reported - len(failed)
	if err != nil {
		if domain.KindOf(err) == domain.KindPersistenceIntegrity {
			metrics.IncIntegrityFailure()
			log.Error().Err(err).Msg("chunk store verification failed")
		}
		return res, err
	}

	if res.Reconciled > 0 {
		log.Info().Int("reconciled", res.Reconciled).Msg("failed chunks found intact on read-back")
	}
	res.StoredCount = verified
	res.FailedIndices = sortedKeys(failed)
	res.FailedCount = len(res.FailedIndices)
	metrics.AddChunkWrites("first_attempt", res.FirstAttempt)
	metrics.AddChunkWrites("retried", res.Retried)
	metrics.AddChunkWrites("failed", res.FailedCount)

	if res.FailedCount > 0 {
		last := failed[res.FailedIndices[len(res.FailedIndices)-1]]
		log.Warn().Int("failed", res.FailedCount).Ints("failed_indices", res.FailedIndices).Msg("chunks not stored")
		return res, domain.Transient("store chunks",
			fmt.Errorf("%w: %d of %d chunks: %v", domain.ErrChunksNotStored, res.FailedCount, n, last))
	}
	log.Debug().Int("stored", res.StoredCount).Int("pruned", res.Pruned).Msg("chunks stored and verified")
	return res, nil
}

// prepare checks the chunk set is one complete document and orders it by index.
func (s *ChunkStoreUseCase) prepare(chunks []model.Chunk, documentID, tenant string) ([]adapter.Object, error) {
	if err := model.ValidateTenant(tenant); err != nil {
		return nil, domain.Structural("store chunks", err)
	}
	if documentID == "" {
		return nil, domain.Structural("store chunks", fmt.Errorf("%w: empty document id", domain.ErrInvalidArgument))
	}
	if len(chunks) == 0 {
		return nil, domain.Structural("store chunks", domain.ErrNoContent)
	}

	objects := make([]adapter.Object, len(chunks))
	seen := make([]bool, len(chunks))
	for _, c := range chunks {
		if c.DocumentID != documentID || c.Tenant != tenant {
			return nil, domain.Structural("store chunks",
				fmt.Errorf("%w: chunk %d belongs to %s/%s", domain.ErrInvalidArgument, c.Index, c.Tenant, c.DocumentID))
		}
		if c.Index < 0 || c.Index >= len(chunks) || seen[c.Index] {
			return nil, domain.Structural("store chunks",
				fmt.Errorf("%w: chunk indices must be exactly 0..%d, got %d", domain.ErrInvalidArgument, len(chunks)-1, c.Index))
		}
		seen[c.Index] = true
		hash := c.ContentHash
		if hash == "" {
			hash = model.HashContent(c.Content)
		}
		objects[c.Index] = adapter.Object{
			ID:          c.ObjectID(),
			DocumentID:  documentID,
			ChunkIndex:  c.Index,
			Content:     c.Content,
			ContentHash: hash,
			ElementType: string(c.ElementType),
			PageNumber:  c.PageNumber,
			Section:     c.Section,
			Vector:      c.Vector,
		}
	}
	return objects, nil
}

// verify reads the document back through the store's own index and checks it
// against what was written. Indices >= N are pruned once. Indices reported as
// failed are reconciled with what the store actually holds: an intact copy
// counts as stored and is removed from failed, anything else under that index
// is deleted. The returned count is the store's own count after pruning.
func (s *ChunkStoreUseCase) verify(ctx context.Context, objects []adapter.Object, failed map[int]error, documentID, tenant string) (int, int, error) {
	n := len(objects)
	pruned := 0
	prunedStale, reconciled := false, false
	for {
		count, err := s.store.CountByDocument(ctx, tenant, documentID)
		if err != nil {
			return 0, pruned, domain.Transient("verify chunks", err)
		}
		refs, err := s.store.FetchByDocument(ctx, tenant, documentID)
		if err != nil {
			return 0, pruned, domain.Transient("verify chunks", err)
		}

		var stale []string
		var staleIdx []int
		present := make(map[int]string, len(refs))
		var dup []int
		for _, r := range refs {
			if r.ChunkIndex < 0 || r.ChunkIndex >= n {
				stale = append(stale, r.ID)
				staleIdx = append(staleIdx, r.ChunkIndex)
				continue
			}
			if _, ok := present[r.ChunkIndex]; ok {
				dup = append(dup, r.ChunkIndex)
			}
			present[r.ChunkIndex] = r.ID
		}

		if len(stale) > 0 {
			if prunedStale {
				return 0, pruned, &domain.IntegrityError{Tenant: tenant, DocumentID: documentID, Expected: n,
					Actual: count, Unexpected: staleIdx, Reason: "stale chunks survived pruning"}
			}
			if err := s.store.DeleteByID(ctx, tenant, stale...); err != nil {
				return 0, pruned, domain.Transient("prune stale chunks", err)
			}
			prunedStale = true
			pruned += len(stale)
			s.log.Info().Str("document_id", documentID).Int("pruned", len(stale)).Msg("pruned stale chunks")
			continue
		}

		if len(dup) > 0 {
			return 0, pruned, &domain.IntegrityError{Tenant: tenant, DocumentID: documentID, Expected: n,
				Actual: count, Unexpected: dup, Reason: "duplicate chunk indices"}
		}
		if count != len(refs) {
			return 0, pruned, &domain.IntegrityError{Tenant: tenant, DocumentID: documentID, Expected: n,
				Actual: count, Reason: fmt.Sprintf("count %d disagrees with %d indexed chunks", count, len(refs))}
		}

		var missing, wrongID []int
		var drop []string
		var dropIdx []int
		lookup := make([]string, 0, n)
		for i, o := range objects {
			id, ok := present[i]
			if _, bad := failed[i]; bad {
				switch {
				case !ok:
				case id != o.ID:
					drop = append(drop, id)
					dropIdx = append(dropIdx, i)
				default:
					lookup = append(lookup, id)
				}
				continue
			}
			switch {
			case !ok:
				missing = append(missing, i)
			case id != o.ID:
				wrongID = append(wrongID, i)
			default:
				lookup = append(lookup, o.ID)
			}
		}
		if len(missing) > 0 || len(wrongID) > 0 {
			return 0, pruned, &domain.IntegrityError{Tenant: tenant, DocumentID: documentID, Expected: n,
				Actual: count, Missing: missing, Unexpected: wrongID, Reason: "chunks reported written are absent"}
		}

		got, err := s.store.FetchByID(ctx, tenant, lookup...)
		if err != nil {
			return 0, pruned, domain.Transient("verify chunks", err)
		}
		byID := make(map[string]adapter.Object, len(got))
		for _, o := range got {
			byID[o.ID] = o
		}
		var mismatch []int
		for i, o := range objects {
			stored, ok := byID[o.ID]
			intact := ok && stored.ContentHash == o.ContentHash
			if _, bad := failed[i]; bad {
				if present[i] != o.ID {
					continue
				}
				if intact {
					delete(failed, i)
				} else {
					drop = append(drop, o.ID)
					dropIdx = append(dropIdx, i)
				}
				continue
			}
			if !intact {
				mismatch = append(mismatch, i)
			}
		}
		if len(mismatch) > 0 {
			return 0, pruned, &domain.IntegrityError{Tenant: tenant, DocumentID: documentID, Expected: n,
				Actual: count, Missing: mismatch, Reason: "stored content does not match what was written"}
		}

		if len(drop) > 0 {
			if reconciled {
				return 0, pruned, &domain.IntegrityError{Tenant: tenant, DocumentID: documentID, Expected: n,
					Actual: count, Unexpected: dropIdx, Reason: "outdated copies of failed chunks survived pruning"}
			}
			if err := s.store.DeleteByID(ctx, tenant, drop...); err != nil {
				return 0, pruned, domain.Transient("prune outdated chunks", err)
			}
			reconciled = true
			pruned += len(drop)
			s.log.Info().Str("document_id", documentID).Ints("indices", dropIdx).Msg("pruned outdated copies of failed chunks")
			continue
		}

		if want := n - len(failed); count != want {
			return 0, pruned, &domain.IntegrityError{Tenant: tenant, DocumentID: documentID, Expected: n,
				Actual: count, Reason: fmt.Sprintf("store holds %d chunks, %d verified", count, want)}
		}
		return count, pruned, nil
	}
}

func sortedKeys(m map[int]error) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
