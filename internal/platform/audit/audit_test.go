package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medconsole/clinic/internal/platform/docstore"
)

type recordingSink struct {
	entries []Entry
	err     error
}

func (s *recordingSink) Record(_ context.Context, e Entry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func TestRecorder_RecordsEntry(t *testing.T) {
	sink := &recordingSink{}
	r := NewRecorder(sink, false, zerolog.Nop())

	err := r.Record(context.Background(), "u1", ActionView, ResourcePatient, "all", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(sink.entries))
	}
	e := sink.entries[0]
	if e.UserID != "u1" || e.Action != ActionView || e.ResourceType != ResourcePatient || e.ResourceID != "all" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Details == nil {
		t.Error("expected details to default to an empty map")
	}
	if e.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestRecorder_BestEffortSwallowsSinkFailure(t *testing.T) {
	var buf bytes.Buffer
	sink := &recordingSink{err: errors.New("sink down")}
	r := NewRecorder(sink, false, zerolog.New(&buf))

	if err := r.Record(context.Background(), "u1", ActionCreate, ResourceDocument, "d1", nil); err != nil {
		t.Fatalf("expected failure to be swallowed, got %v", err)
	}
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Errorf("expected failure to be logged, got %q", buf.String())
	}
}

func TestRecorder_StrictSurfacesSinkFailure(t *testing.T) {
	cause := errors.New("sink down")
	r := NewRecorder(&recordingSink{err: cause}, true, zerolog.Nop())

	err := r.Record(context.Background(), "u1", ActionDelete, ResourceDocument, "d1", nil)
	var auditErr *Error
	if !errors.As(err, &auditErr) {
		t.Fatalf("expected *audit.Error, got %v", err)
	}
	if auditErr.Action != ActionDelete || auditErr.ResourceID != "d1" {
		t.Errorf("unexpected error fields: %+v", auditErr)
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to wrap the sink failure")
	}
}

func TestRecorder_RejectsUnknownAction(t *testing.T) {
	sink := &recordingSink{}
	r := NewRecorder(sink, true, zerolog.Nop())

	err := r.Record(context.Background(), "u1", Action("export"), ResourcePatient, "p1", nil)
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
	if len(sink.entries) != 0 {
		t.Error("invalid entries must not reach the sink")
	}
}

func TestEntry_Validate(t *testing.T) {
	if err := (Entry{Action: ActionLogin, ResourceType: ResourceUser}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Entry{Action: ActionLogin, ResourceType: "ward"}).Validate(); err == nil {
		t.Error("expected error for unknown resource type")
	}
}

func TestStoreSink_WritesAuditCollection(t *testing.T) {
	store := docstore.NewMemoryStore()
	sink := NewStoreSink(store)

	err := sink.Record(context.Background(), Entry{
		UserID:       "u1",
		Action:       ActionCreate,
		ResourceType: ResourcePrescription,
		ResourceID:   "rx1",
		Details:      map[string]any{"patientId": "p1", "missing": nil},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Len(AuditCollection) != 1 {
		t.Fatalf("expected 1 audit record, got %d", store.Len(AuditCollection))
	}

	records, _ := store.Query(context.Background(), AuditCollection, "timestamp", docstore.Descending)
	f := records[0].Fields
	if f["action"] != "create" || f["resourceType"] != "prescription" || f["resourceId"] != "rx1" {
		t.Errorf("unexpected fields: %v", f)
	}
	if _, ok := docstore.AsTime(f["timestamp"]); !ok {
		t.Error("expected server timestamp to be resolved")
	}
}

func TestLogSink_EmitsStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	sink.Record(context.Background(), Entry{UserID: "u1", Action: ActionView, ResourceType: ResourcePatient, ResourceID: "all"})

	out := buf.String()
	for _, want := range []string{`"type":"clinic_audit"`, `"action":"view"`, `"resource_id":"all"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in log output %q", want, out)
		}
	}
}

func TestSinkFunc(t *testing.T) {
	called := false
	var s Sink = SinkFunc(func(_ context.Context, e Entry) error {
		called = e.ResourceID == "x"
		return nil
	})
	s.Record(context.Background(), Entry{ResourceID: "x"})
	if !called {
		t.Error("expected SinkFunc to be invoked")
	}
}
