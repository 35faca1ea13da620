package store

import (
	"context"
	"sort"
	"sync"

	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/adapter"
)

var _ adapter.ObjectStore = (*MemoryStore)(nil)

// MemoryStore is an in-process object store for development and tests.
// The hooks let callers inject the failure modes a real backend exhibits.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]map[string]adapter.Object

	// FailBatch fails a whole BatchInsert call before anything is written.
	FailBatch func(tenant string, objects []adapter.Object) error
	// FailItem reports a per-object error; the object is not written.
	FailItem func(tenant string, o adapter.Object) error
	// DropItem makes the store report success without persisting the object.
	DropItem func(tenant string, o adapter.Object) bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: map[string]map[string]adapter.Object{}}
}

func (s *MemoryStore) BatchInsert(ctx context.Context, tenant string, objects []adapter.Object) (adapter.BatchResult, error) {
	res := adapter.BatchResult{Errors: map[int]error{}}
	if err := model.ValidateTenant(tenant); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if s.FailBatch != nil {
		if err := s.FailBatch(tenant, objects); err != nil {
			return res, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.tenants[tenant]
	if ns == nil {
		ns = map[string]adapter.Object{}
		s.tenants[tenant] = ns
	}
	for i, o := range objects {
		if s.FailItem != nil {
			if err := s.FailItem(tenant, o); err != nil {
				res.Errors[i] = err
				continue
			}
		}
		if s.DropItem != nil && s.DropItem(tenant, o) {
			continue
		}
		o.Vector = append([]float32(nil), o.Vector...)
		ns[o.ID] = o
	}
	return res, nil
}

func (s *MemoryStore) DeleteByID(ctx context.Context, tenant string, ids ...string) error {
	if err := model.ValidateTenant(tenant); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.tenants[tenant], id)
	}
	return nil
}

func (s *MemoryStore) FetchByID(ctx context.Context, tenant string, ids ...string) ([]adapter.Object, error) {
	if err := model.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []adapter.Object
	for _, id := range ids {
		if o, ok := s.tenants[tenant][id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemoryStore) FetchByDocument(ctx context.Context, tenant, documentID string) ([]adapter.ObjectRef, error) {
	if err := model.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []adapter.ObjectRef
	for _, o := range s.tenants[tenant] {
		if o.DocumentID == documentID {
			refs = append(refs, adapter.ObjectRef{ID: o.ID, ChunkIndex: o.ChunkIndex})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ChunkIndex < refs[j].ChunkIndex })
	return refs, nil
}

func (s *MemoryStore) CountByDocument(ctx context.Context, tenant, documentID string) (int, error) {
	refs, err := s.FetchByDocument(ctx, tenant, documentID)
	return len(refs), err
}

// Put writes o directly, bypassing hooks. Tests use it to plant stale objects.
func (s *MemoryStore) Put(tenant string, o adapter.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenants[tenant] == nil {
		s.tenants[tenant] = map[string]adapter.Object{}
	}
	s.tenants[tenant][o.ID] = o
}
