package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medconsole/clinic/internal/platform/docstore"
)

// LogSink emits each entry as a structured log line.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, e Entry) error {
	s.logger.Info().
		Str("type", "clinic_audit").
		Str("user_id", e.UserID).
		Str("action", string(e.Action)).
		Str("resource_type", string(e.ResourceType)).
		Str("resource_id", e.ResourceID).
		Interface("details", e.Details).
		Time("timestamp", e.Timestamp).
		Msg("audit")
	return nil
}

// AuditCollection is the document-store collection StoreSink writes to.
const AuditCollection = "auditLogs"

// StoreSink keeps audit entries next to the clinic data in the document store.
type StoreSink struct {
	store docstore.Writer
}

func NewStoreSink(store docstore.Writer) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Record(ctx context.Context, e Entry) error {
	details := make(map[string]any, len(e.Details))
	for k, v := range e.Details {
		if v == nil {
			v = ""
		}
		details[k] = v
	}
	err := s.store.Put(ctx, AuditCollection, uuid.New().String(), docstore.Fields{
		"userId":       e.UserID,
		"action":       string(e.Action),
		"resourceType": string(e.ResourceType),
		"resourceId":   e.ResourceID,
		"details":      details,
		"timestamp":    docstore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("store audit entry: %w", err)
	}
	return nil
}
