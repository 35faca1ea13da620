package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/rs/zerolog"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/adapter"
)

var _ adapter.ObjectStore = (*BadgerStore)(nil)

// BadgerStore is an embedded object store. Layout:
//
//	obj/<tenant>/<id>                    -> JSON object
//	idx/<tenant>/<escaped doc>/<index>   -> id
//
// The object and its index entry are always written in the same transaction.
type BadgerStore struct {
	db  *badger.DB
	log zerolog.Logger
}

type badgerLogger struct{ log zerolog.Logger }

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.log.Error().Msg(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}
func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.log.Warn().Msg(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}
func (l *badgerLogger) Infof(msg string, items ...any) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}
func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.log.Trace().Msg(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

// OpenBadgerStore opens (or creates) the store at path. An empty path opens an in-memory store.
func OpenBadgerStore(path string, logger *zerolog.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(path)
	}
	l := logger.With().Str("component", "BadgerStore").Logger()
	opts.Logger = &badgerLogger{log: l}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db, log: l}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func objKey(tenant, id string) []byte { return []byte("obj/" + tenant + "/" + id) }

func idxPrefix(tenant, documentID string) []byte {
	return []byte("idx/" + tenant + "/" + url.PathEscape(documentID) + "/")
}

func idxKey(tenant, documentID string, index int) []byte {
	return append(idxPrefix(tenant, documentID), []byte(fmt.Sprintf("%010d", index))...)
}

func (s *BadgerStore) BatchInsert(ctx context.Context, tenant string, objects []adapter.Object) (adapter.BatchResult, error) {
	res := adapter.BatchResult{Errors: map[int]error{}}
	if err := model.ValidateTenant(tenant); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, domain.Transient("badger.BatchInsert", err)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, o := range objects {
			if err := putObject(txn, tenant, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return res, nil
	}
	if s.db.IsClosed() {
		return res, domain.Transient("badger.BatchInsert", domain.ErrDependencyClosed)
	}

	// fall back to one transaction per object so a single bad item or an
	// oversized batch does not fail the rest
	s.log.Debug().Err(err).Int("objects", len(objects)).Msg("batch transaction failed; writing individually")
	for i, o := range objects {
		if err := s.db.Update(func(txn *badger.Txn) error { return putObject(txn, tenant, o) }); err != nil {
			res.Errors[i] = err
		}
	}
	return res, nil
}

func putObject(txn *badger.Txn, tenant string, o adapter.Object) error {
	if o.ID == "" || o.DocumentID == "" {
		return domain.ErrInvalidArgument
	}
	// a previous version under a different document or index leaves a dangling index entry
	if prev, err := getObject(txn, tenant, o.ID); err == nil {
		if prev.DocumentID != o.DocumentID || prev.ChunkIndex != o.ChunkIndex {
			if err := txn.Delete(idxKey(tenant, prev.DocumentID, prev.ChunkIndex)); err != nil {
				return err
			}
		}
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	if err := txn.Set(objKey(tenant, o.ID), b); err != nil {
		return err
	}
	return txn.Set(idxKey(tenant, o.DocumentID, o.ChunkIndex), []byte(o.ID))
}

func getObject(txn *badger.Txn, tenant, id string) (*adapter.Object, error) {
	item, err := txn.Get(objKey(tenant, id))
	if err != nil {
		return nil, err
	}
	var o adapter.Object
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &o) }); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *BadgerStore) DeleteByID(ctx context.Context, tenant string, ids ...string) error {
	if err := model.ValidateTenant(tenant); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			o, err := getObject(txn, tenant, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := txn.Delete(idxKey(tenant, o.DocumentID, o.ChunkIndex)); err != nil {
				return err
			}
			if err := txn.Delete(objKey(tenant, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) FetchByID(ctx context.Context, tenant string, ids ...string) ([]adapter.Object, error) {
	if err := model.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	var out []adapter.Object
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			o, err := getObject(txn, tenant, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, *o)
		}
		return nil
	})
	return out, err
}

// FetchByDocument walks the document index and returns entries whose object
// is actually present, with the index taken from the object itself.
func (s *BadgerStore) FetchByDocument(ctx context.Context, tenant, documentID string) ([]adapter.ObjectRef, error) {
	if err := model.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	var refs []adapter.ObjectRef
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = idxPrefix(tenant, documentID)
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Rewind(); it.Valid(); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			ids = append(ids, string(id))
		}
		for _, id := range ids {
			o, err := getObject(txn, tenant, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if o.DocumentID == documentID {
				refs = append(refs, adapter.ObjectRef{ID: o.ID, ChunkIndex: o.ChunkIndex})
			}
		}
		return nil
	})
	return refs, err
}

func (s *BadgerStore) CountByDocument(ctx context.Context, tenant, documentID string) (int, error) {
	if err := model.ValidateTenant(tenant); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = idxPrefix(tenant, documentID)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if _, err := strconv.Atoi(string(it.Item().Key()[len(opts.Prefix):])); err == nil {
				n++
			}
		}
		return nil
	})
	return n, err
}
