package levelstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/medconsole/clinic/internal/platform/docstore"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_QueryOrdersAndIsolatesCollections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, "patients", id, docstore.Fields{"createdAt": base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	s.Put(ctx, "patients", "undated", docstore.Fields{"name": "x"})
	s.Put(ctx, "patientsArchive", "z", docstore.Fields{"createdAt": base.Add(time.Hour)})

	records, err := s.Query(ctx, "patients", "createdAt", docstore.Descending)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := make([]string, 0, len(records))
	for _, r := range records {
		got = append(got, r.ID)
	}
	want := []string{"c", "b", "a", "undated"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestStore_ServerTimestampAndRoundTrip(t *testing.T) {
	s := openTestStore(t)
	fixed := time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	err := s.Put(ctx, "patientDocuments", "d1", docstore.Fields{
		"fileName":   "scan.png",
		"fileSize":   int64(1024),
		"uploadedAt": docstore.ServerTimestamp,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	records, _ := s.Query(ctx, "patientDocuments", "uploadedAt", docstore.Descending)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	f := records[0].Fields
	if ts, ok := docstore.AsTime(f["uploadedAt"]); !ok || !ts.Equal(fixed) {
		t.Errorf("expected uploadedAt %v, got %v", fixed, f["uploadedAt"])
	}
	if f["fileSize"] != float64(1024) {
		t.Errorf("expected fileSize 1024, got %#v", f["fileSize"])
	}
}

func TestStore_UpdateMerges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Put(ctx, "patients", "p1", docstore.Fields{"name": "Meera", "status": "waiting"})

	if err := s.Update(ctx, "patients", "p1", docstore.Fields{"status": "completed"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	records, _ := s.Query(ctx, "patients", "createdAt", docstore.Descending)
	if records[0].Fields["status"] != "completed" || records[0].Fields["name"] != "Meera" {
		t.Errorf("unexpected fields after update: %v", records[0].Fields)
	}

	err := s.Update(ctx, "patients", "missing", docstore.Fields{"status": "completed"})
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"d1", "d2", "d3"} {
		s.Put(ctx, "patientDocuments", id, docstore.Fields{"fileName": id})
	}

	if err := s.Delete(ctx, "patientDocuments", "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	records, _ := s.Query(ctx, "patientDocuments", "uploadedAt", docstore.Descending)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, r := range records {
		if r.ID == "d1" {
			t.Error("d1 still present")
		}
	}
	if err := s.Delete(ctx, "patientDocuments", "d1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStore_RejectsUndefined(t *testing.T) {
	s := openTestStore(t)
	err := s.Put(context.Background(), "patients", "p1", docstore.Fields{"notes": nil})
	if !errors.Is(err, docstore.ErrUndefinedField) {
		t.Errorf("expected ErrUndefinedField, got %v", err)
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinic.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Put(ctx, "patients", "p1", docstore.Fields{"name": "Kabir"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if err := s.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
	records, err := s.Query(ctx, "patients", "createdAt", docstore.Descending)
	if err != nil || len(records) != 1 || records[0].Fields["name"] != "Kabir" {
		t.Errorf("expected persisted record, got %v (err=%v)", records, err)
	}
}
