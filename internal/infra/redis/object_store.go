package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/adapter"
)

var _ adapter.ObjectStore = (*ObjectStore)(nil)

// ObjectStore keeps each chunk as a JSON value under chunk:<tenant>:<id> and
// indexes it in a per-document sorted set scored by chunk index. Tenants cannot
// contain ':' so one tenant's keys never prefix another's.
type ObjectStore struct {
	cli *redis.Client
}

func NewObjectStore(c *Client) *ObjectStore {
	return &ObjectStore{cli: c.cli}
}

func objectKey(tenant, id string) string { return "chunk:" + tenant + ":" + id }

func documentKey(tenant, documentID string) string { return "doc-chunks:" + tenant + ":" + documentID }

func (s *ObjectStore) BatchInsert(ctx context.Context, tenant string, objects []adapter.Object) (adapter.BatchResult, error) {
	res := adapter.BatchResult{Errors: map[int]error{}}
	if err := model.ValidateTenant(tenant); err != nil {
		return res, err
	}
	if len(objects) == 0 {
		return res, nil
	}

	type pending struct {
		set  *redis.StatusCmd
		zadd *redis.IntCmd
	}
	cmds := make(map[int]pending, len(objects))

	pipe := s.cli.Pipeline()
	for i, o := range objects {
		b, err := json.Marshal(o)
		if err != nil {
			res.Errors[i] = err
			continue
		}
		cmds[i] = pending{
			set:  pipe.Set(ctx, objectKey(tenant, o.ID), b, 0),
			zadd: pipe.ZAdd(ctx, documentKey(tenant, o.DocumentID), &redis.Z{Score: float64(o.ChunkIndex), Member: o.ID}),
		}
	}
	_, execErr := pipe.Exec(ctx)
	for i, p := range cmds {
		if err := p.set.Err(); err != nil {
			res.Errors[i] = err
		} else if err := p.zadd.Err(); err != nil {
			res.Errors[i] = err
		}
	}
	// every command failing means the connection, not the items, is the problem
	if execErr != nil && len(res.Errors) == len(objects) {
		return res, domain.Transient("redis.BatchInsert", execErr)
	}
	return res, nil
}

func (s *ObjectStore) DeleteByID(ctx context.Context, tenant string, ids ...string) error {
	if err := model.ValidateTenant(tenant); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	objs, err := s.FetchByID(ctx, tenant, ids...)
	if err != nil {
		return err
	}

	pipe := s.cli.TxPipeline()
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, objectKey(tenant, id))
	}
	pipe.Del(ctx, keys...)
	for _, o := range objs {
		pipe.ZRem(ctx, documentKey(tenant, o.DocumentID), o.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Transient("redis.DeleteByID", err)
	}
	return nil
}

func (s *ObjectStore) FetchByID(ctx context.Context, tenant string, ids ...string) ([]adapter.Object, error) {
	if err := model.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, objectKey(tenant, id))
	}
	vals, err := s.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, domain.Transient("redis.FetchByID", err)
	}
	out := make([]adapter.Object, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // missing key
		}
		var o adapter.Object
		if err := json.Unmarshal([]byte(str), &o); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out = append(out, o)
	}
	return out, nil
}

// FetchByDocument resolves the document index and returns only objects that
// actually exist, with the chunk index read from the stored value.
func (s *ObjectStore) FetchByDocument(ctx context.Context, tenant, documentID string) ([]adapter.ObjectRef, error) {
	if err := model.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	ids, err := s.cli.ZRange(ctx, documentKey(tenant, documentID), 0, -1).Result()
	if err != nil {
		return nil, domain.Transient("redis.FetchByDocument", err)
	}
	objs, err := s.FetchByID(ctx, tenant, ids...)
	if err != nil {
		return nil, err
	}
	refs := make([]adapter.ObjectRef, 0, len(objs))
	for _, o := range objs {
		if o.DocumentID != documentID {
			continue
		}
		refs = append(refs, adapter.ObjectRef{ID: o.ID, ChunkIndex: o.ChunkIndex})
	}
	return refs, nil
}

func (s *ObjectStore) CountByDocument(ctx context.Context, tenant, documentID string) (int, error) {
	if err := model.ValidateTenant(tenant); err != nil {
		return 0, err
	}
	n, err := s.cli.ZCard(ctx, documentKey(tenant, documentID)).Result()
	if err != nil {
		return 0, domain.Transient("redis.CountByDocument", err)
	}
	return int(n), nil
}
