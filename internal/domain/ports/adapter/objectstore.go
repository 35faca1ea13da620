package adapter

import "context"

// Object is one persisted chunk in the tenant-scoped object store.
type Object struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	ChunkIndex  int       `json:"chunk_index"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	ElementType string    `json:"element_type"`
	PageNumber  int       `json:"page_number"`
	Section     string    `json:"section"`
	Vector      []float32 `json:"vector,omitempty"`
}

// ObjectRef is the lightweight form returned by document-level reads.
type ObjectRef struct {
	ID         string
	ChunkIndex int
}

// BatchResult reports per-object failures of a batch insert, keyed by the
// object's position in the submitted slice. An empty map is what the store
// claims, not proof of persistence.
type BatchResult struct {
	Errors map[int]error
}

func (r BatchResult) Failed(i int) bool {
	_, ok := r.Errors[i]
	return ok
}

// ObjectStore is the tenant-scoped backing store for chunks. Every call is
// confined to the given tenant's namespace; inserting an existing id overwrites it.
type ObjectStore interface {
	BatchInsert(ctx context.Context, tenant string, objects []Object) (BatchResult, error)
	DeleteByID(ctx context.Context, tenant string, ids ...string) error
	FetchByID(ctx context.Context, tenant string, ids ...string) ([]Object, error)
	FetchByDocument(ctx context.Context, tenant, documentID string) ([]ObjectRef, error)
	CountByDocument(ctx context.Context, tenant, documentID string) (int, error)
}
