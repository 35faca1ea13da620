// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/repository"
)

// memJobRepo is a small in-memory JobRepository used by unit tests.
type memJobRepo struct {
	mu       sync.Mutex
	jobs     map[string]*model.Job
	subjects map[string]bool // nil accepts every subject
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[string]*model.Job{}}
}

func copyJob(j *model.Job) *model.Job {
	cp := *j
	return &cp
}

func (m *memJobRepo) Insert(ctx context.Context, tx repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subjects != nil && !m.subjects[job.SubjectID] {
		return domain.ErrSubjectNotFound
	}
	job.UpdatedAt = time.Now()
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *memJobRepo) ClaimNext(ctx context.Context, tx repository.Tx) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cands []*model.Job
	for _, j := range m.jobs {
		if j.Status.Claimable() {
			cands = append(cands, j)
		}
	}
	if len(cands) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].Priority != cands[b].Priority {
			return cands[a].Priority > cands[b].Priority
		}
		if !cands[a].CreatedAt.Equal(cands[b].CreatedAt) {
			return cands[a].CreatedAt.Before(cands[b].CreatedAt)
		}
		return cands[a].ID < cands[b].ID
	})
	return copyJob(cands[0]), nil
}

func (m *memJobRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	return m.FindByID(ctx, tx, id)
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyJob(j), nil
}

func (m *memJobRepo) Update(ctx context.Context, tx repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	job.UpdatedAt = time.Now()
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *memJobRepo) ListStale(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, j := range m.jobs {
		if j.Status == model.JobStatusRunning && j.UpdatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// backdate moves a job's heartbeat into the past.
func (m *memJobRepo) backdate(id string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].UpdatedAt = time.Now().Add(-d)
}

// memNotifier records every notification.
type memNotifier struct {
	mu       sync.Mutex
	payloads []string
	err      error
}

func (n *memNotifier) Notify(ctx context.Context, tx repository.Tx, channel, payload string) error {
	if n.err != nil {
		return n.err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, payload)
	return nil
}

func (n *memNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.payloads)
}

type memDocRepo struct {
	mu   sync.Mutex
	docs map[string]*model.Document
}

func newMemDocRepo(docs ...*model.Document) *memDocRepo {
	r := &memDocRepo{docs: map[string]*model.Document{}}
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return r
}

func (r *memDocRepo) Save(ctx context.Context, tx repository.Tx, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
	return nil
}

func (r *memDocRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

type memPipelineRepo struct {
	mu      sync.Mutex
	rows    map[string]*model.PipelineStatus
	saves   int
	saveErr error
}

func newMemPipelineRepo() *memPipelineRepo {
	return &memPipelineRepo{rows: map[string]*model.PipelineStatus{}}
}

func (r *memPipelineRepo) Save(ctx context.Context, tx repository.Tx, st *model.PipelineStatus) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	r.rows[st.DocumentID] = st.Clone()
	return nil
}

func (r *memPipelineRepo) FindByDocumentID(ctx context.Context, tx repository.Tx, documentID string) (*model.PipelineStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.rows[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return st.Clone(), nil
}

// ---- adapters ----

type stubParser struct {
	ParseFunc func(ctx context.Context, doc *model.Document) ([]model.Element, error)
}

func (p *stubParser) Parse(ctx context.Context, doc *model.Document) ([]model.Element, error) {
	return p.ParseFunc(ctx, doc)
}

type stubEmbedder struct {
	mu        sync.Mutex
	calls     int
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (e *stubEmbedder) Dimensions() int { return 3 }

func (e *stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.EmbedFunc != nil {
		return e.EmbedFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.PipelineEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, evt model.PipelineEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) stages() []model.Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Stage, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Stage)
	}
	return out
}

var errBoom = errors.New("boom")
