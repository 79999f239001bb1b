package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a thread-safe, in-memory Store for development and tests.
// It enforces the same write rules as the persistent backends.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Fields
	now         func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Fields),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock used to resolve ServerTimestamp values.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Query returns every record of the collection ordered by orderBy.
func (s *MemoryStore) Query(ctx context.Context, collection, orderBy string, dir Direction) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	docs := s.collections[collection]
	records := make([]Record, 0, len(docs))
	for id, f := range docs {
		records = append(records, Record{ID: id, Fields: copyFields(f)})
	}
	s.mu.RUnlock()

	SortRecords(records, orderBy, dir)
	return records, nil
}

// Put creates or replaces a record.
func (s *MemoryStore) Put(ctx context.Context, collection, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("put %s: empty id", collection)
	}
	if err := Validate(fields); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]Fields)
		s.collections[collection] = docs
	}
	docs[id] = copyFields(ResolveServerTimestamps(fields, s.now()))
	return nil
}

// Update merges fields into an existing record.
func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Validate(fields); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.collections[collection][id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	for k, v := range ResolveServerTimestamps(fields, s.now()) {
		existing[k] = copyValue(v)
	}
	return nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][id]; !ok {
		return fmt.Errorf("delete %s/%s: %w", collection, id, ErrNotFound)
	}
	delete(s.collections[collection], id)
	return nil
}

// Ping always succeeds unless ctx is done.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len reports how many records a collection holds.
func (s *MemoryStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// Get returns a copy of a single record.
func (s *MemoryStore) Get(collection, id string) (Fields, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.collections[collection][id]
	if !ok {
		return nil, false
	}
	return copyFields(f), true
}

func copyFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case Fields:
		return map[string]any(copyFields(t))
	case map[string]any:
		return map[string]any(copyFields(Fields(t)))
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = copyValue(inner)
		}
		return out
	case []string:
		return append([]string{}, t...)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	}
	return v
}
