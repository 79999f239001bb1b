// Package levelstore implements docstore.Store on an embedded LevelDB
// database, for single-node clinics without a database server.
package levelstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/medconsole/clinic/internal/platform/docstore"
)

// Records are stored as JSON under "<collection>\x00<id>".
const sep = "\x00"

type Store struct {
	db  *leveldb.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return newStore(db), nil
}

// OpenMemory opens a volatile database, for tests.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return newStore(db), nil
}

func newStore(db *leveldb.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying database so attachment content can share the
// same file.
func (s *Store) DB() *leveldb.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.db.GetProperty("leveldb.stats")
	return err
}

func key(collection, id string) []byte {
	return []byte(collection + sep + id)
}

func (s *Store) Query(ctx context.Context, collection, orderBy string, dir docstore.Direction) ([]docstore.Record, error) {
	prefix := []byte(collection + sep)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	records := []docstore.Record{}
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := string(iter.Key()[len(prefix):])
		fields, err := docstore.DecodeJSON(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, err)
		}
		records = append(records, docstore.Record{ID: id, Fields: fields})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}

	docstore.SortRecords(records, orderBy, dir)
	return records, nil
}

func (s *Store) Put(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("put %s: empty id", collection)
	}
	data, err := docstore.EncodeJSON(fields, s.now())
	if err != nil {
		return err
	}
	if err := s.db.Put(key(collection, id), data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update merges top-level fields into the stored record inside a LevelDB
// transaction.
func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	patch, err := docstore.EncodeJSON(fields, s.now())
	if err != nil {
		return err
	}
	changes, err := docstore.DecodeJSON(patch)
	if err != nil {
		return err
	}

	tr, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	defer tr.Discard()

	k := key(collection, id)
	raw, err := tr.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return fmt.Errorf("update %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	existing, err := docstore.DecodeJSON(raw)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	for name, v := range changes {
		existing[name] = v
	}
	merged, err := docstore.EncodeJSON(existing, s.now())
	if err != nil {
		return err
	}
	if err := tr.Put(k, merged, nil); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return tr.Commit()
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	defer tr.Discard()

	k := key(collection, id)
	ok, err := tr.Has(k, nil)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if !ok {
		return fmt.Errorf("delete %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err := tr.Delete(k, nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return tr.Commit()
}
