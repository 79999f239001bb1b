package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// execer is the part of a pool or transaction PGSink needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGSink writes entries to the audit_log table.
type PGSink struct {
	conn execer
}

// NewPGSink creates a PGSink backed by the given connection pool.
func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{conn: pool}
}

const insertAuditSQL = `
	INSERT INTO audit_log (id, user_id, action, resource_type, resource_id, details, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (s *PGSink) Record(ctx context.Context, e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}

	_, err = s.conn.Exec(ctx, insertAuditSQL,
		uuid.New(), e.UserID, string(e.Action), string(e.ResourceType), e.ResourceID, details, e.Timestamp)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}
