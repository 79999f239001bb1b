package patientdata

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/medconsole/clinic/internal/platform/audit"
	"github.com/medconsole/clinic/internal/platform/docstore"
)

var errStoreDown = errors.New("store unavailable")

// faultyStore wraps a MemoryStore and fails operations on selected collections.
type faultyStore struct {
	*docstore.MemoryStore
	failQuery map[string]bool
	failWrite map[string]bool
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		MemoryStore: docstore.NewMemoryStore(),
		failQuery:   map[string]bool{},
		failWrite:   map[string]bool{},
	}
}

func (s *faultyStore) Query(ctx context.Context, collection, orderBy string, dir docstore.Direction) ([]docstore.Record, error) {
	if s.failQuery[collection] {
		return nil, errStoreDown
	}
	return s.MemoryStore.Query(ctx, collection, orderBy, dir)
}

func (s *faultyStore) Put(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if s.failWrite[collection] {
		return errStoreDown
	}
	return s.MemoryStore.Put(ctx, collection, id, fields)
}

func (s *faultyStore) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if s.failWrite[collection] {
		return errStoreDown
	}
	return s.MemoryStore.Update(ctx, collection, id, fields)
}

// recordingSink captures audit entries.
type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (s *recordingSink) Record(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) last() audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return audit.Entry{}
	}
	return s.entries[len(s.entries)-1]
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func newRecorder(sink audit.Sink, strict bool) *audit.Recorder {
	return audit.NewRecorder(sink, strict, zerolog.Nop())
}
