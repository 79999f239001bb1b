package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key prefixes start with 0x01 so they never collide with document keys,
// which begin with a collection name.
const (
	metaPrefix = "\x01blob/meta/"
	dataPrefix = "\x01blob/data/"
)

// LevelStore keeps blobs in a LevelDB database, usually the one opened for
// the document store.
type LevelStore struct {
	db       *leveldb.DB
	maxBytes int64
}

func NewLevelStore(db *leveldb.DB, maxBytes int64) *LevelStore {
	return &LevelStore{db: db, maxBytes: maxBytes}
}

func (s *LevelStore) Upload(ctx context.Context, meta Metadata, content io.Reader) (*Metadata, error) {
	meta, data, err := prepare(meta, content, s.maxBytes)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(metaPrefix+meta.ID), raw)
	batch.Put([]byte(dataPrefix+meta.ID), data)
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return nil, fmt.Errorf("storing blob %s: %w", meta.ID, err)
	}
	return &meta, nil
}

func (s *LevelStore) Download(ctx context.Context, id string) (io.ReadCloser, *Metadata, error) {
	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.db.Get([]byte(dataPrefix+id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading blob %s: %w", id, err)
	}
	return io.NopCloser(bytes.NewReader(data)), meta, nil
}

func (s *LevelStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := s.db.Has([]byte(metaPrefix+id), nil)
	if err != nil {
		return fmt.Errorf("deleting blob %s: %w", id, err)
	}
	if !ok {
		return ErrBlobNotFound
	}
	batch := new(leveldb.Batch)
	batch.Delete([]byte(metaPrefix + id))
	batch.Delete([]byte(dataPrefix + id))
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (s *LevelStore) GetMetadata(ctx context.Context, id string) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := s.db.Get([]byte(metaPrefix+id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob metadata %s: %w", id, err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decoding blob metadata %s: %w", id, err)
	}
	return &meta, nil
}

func (s *LevelStore) ListByPatient(ctx context.Context, patientID string) ([]*Metadata, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(metaPrefix)), nil)
	defer iter.Release()

	matched := []*Metadata{}
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var meta Metadata
		if err := json.Unmarshal(iter.Value(), &meta); err != nil {
			return nil, fmt.Errorf("decoding blob metadata: %w", err)
		}
		if meta.PatientID == patientID {
			matched = append(matched, &meta)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sortNewestFirst(matched)
	return matched, nil
}
