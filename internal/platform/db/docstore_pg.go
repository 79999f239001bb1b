package db

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medconsole/clinic/internal/platform/docstore"
)

var fieldNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// DocStore is a docstore.Store over the documents table. Each record is one
// JSONB row keyed by (collection, id).
type DocStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewDocStore(pool *pgxpool.Pool) *DocStore {
	return &DocStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (s *DocStore) conn(ctx context.Context) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// Query returns all records of a collection. Timestamps are stored in
// docstore.TimeLayout, so ordering on their text is ordering in time.
func (s *DocStore) Query(ctx context.Context, collection, orderBy string, dir docstore.Direction) ([]docstore.Record, error) {
	if !fieldNamePattern.MatchString(orderBy) {
		return nil, fmt.Errorf("invalid order field %q", orderBy)
	}
	sql := fmt.Sprintf(`SELECT id, fields FROM documents WHERE collection = $1
		ORDER BY fields->>'%s' %s NULLS LAST, id`, orderBy, dir)

	rows, err := s.conn(ctx).Query(ctx, sql, collection)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	records := []docstore.Record{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		fields, err := docstore.DecodeJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, err)
		}
		records = append(records, docstore.Record{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return records, nil
}

func (s *DocStore) Put(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if id == "" {
		return fmt.Errorf("put %s: empty id", collection)
	}
	data, err := docstore.EncodeJSON(fields, s.now())
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).Exec(ctx, `
		INSERT INTO documents (collection, id, fields)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE
		SET fields = EXCLUDED.fields, updated_at = NOW()`,
		collection, id, string(data))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update merges top-level fields into the stored record.
func (s *DocStore) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	data, err := docstore.EncodeJSON(fields, s.now())
	if err != nil {
		return err
	}
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE documents SET fields = fields || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2`,
		collection, id, string(data))
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

func (s *DocStore) Delete(ctx context.Context, collection, id string) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

// Ping checks database connectivity.
func (s *DocStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats reports connection pool statistics.
func (s *DocStore) Stats() any {
	return GetPoolStats(s.pool)
}
