package patientdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medconsole/clinic/internal/platform/docstore"
)

func TestFetchPatients_OrderedNewestFirst(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"p1", "p2", "p3", "p4"} {
		store.Put(ctx, PatientsCollection, id, docstore.Fields{
			"name":      id,
			"createdAt": base.Add(time.Duration(i) * time.Minute),
		})
	}

	patients, err := NewFetcher(store).FetchPatients(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patients) != 4 {
		t.Fatalf("expected 4 patients, got %d", len(patients))
	}
	for i := 1; i < len(patients); i++ {
		if patients[i-1].CreatedAt.Before(patients[i].CreatedAt) {
			t.Errorf("patients not sorted descending at %d: %v before %v", i, patients[i-1].CreatedAt, patients[i].CreatedAt)
		}
	}
	if patients[0].ID != "p4" {
		t.Errorf("expected newest patient p4 first, got %s", patients[0].ID)
	}
}

func TestFetchPatients_DefaultsMissingFields(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()
	store.Put(ctx, PatientsCollection, "bare", docstore.Fields{"name": "Bare"})

	f := NewFetcher(store)
	fixed := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return fixed }

	patients, err := f.FetchPatients(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := patients[0]
	if p.Vitals != (Vitals{}) {
		t.Errorf("expected zero vitals, got %+v", p.Vitals)
	}
	if p.Status != StatusWaiting {
		t.Errorf("expected default status waiting, got %q", p.Status)
	}
	if !p.CreatedAt.Equal(fixed) || !p.UpdatedAt.Equal(fixed) {
		t.Errorf("expected missing timestamps to default to now, got %v / %v", p.CreatedAt, p.UpdatedAt)
	}
	if p.Mobile != "" || p.DoctorID != "" || p.VisitTag != "" {
		t.Errorf("expected empty optional strings, got %+v", p)
	}
}

func TestFetchPatients_MapsVitalsFromJSONNumbers(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()
	store.Put(ctx, PatientsCollection, "p1", docstore.Fields{
		"name": "Meera",
		"age":  float64(34),
		"vitals": map[string]any{
			"heartRate":     float64(72),
			"bloodPressure": "120/80",
			"temperature":   98.6,
			"spo2":          float64(98),
			"weight":        float64(61),
		},
		"createdAt": "2024-05-10T08:00:00Z",
	})

	patients, err := NewFetcher(store).FetchPatients(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := patients[0]
	if p.Age != 34 || p.Vitals.HeartRate != 72 || p.Vitals.SpO2 != 98 {
		t.Errorf("unexpected numeric mapping: %+v", p)
	}
	if p.Vitals.Weight == nil || *p.Vitals.Weight != 61 {
		t.Errorf("expected weight 61, got %v", p.Vitals.Weight)
	}
	if p.Vitals.Height != nil {
		t.Errorf("expected absent height to stay nil, got %v", *p.Vitals.Height)
	}
	want := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	if !p.CreatedAt.Equal(want) {
		t.Errorf("expected createdAt %v, got %v", want, p.CreatedAt)
	}
}

func TestFetchPrescriptions_DefaultsLists(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()
	store.Put(ctx, PrescriptionsCollection, "rx1", docstore.Fields{"patientId": "p1"})
	store.Put(ctx, PrescriptionsCollection, "rx2", docstore.Fields{
		"patientId": "p1",
		"diagnosis": []any{"Viral fever"},
		"medications": []any{
			map[string]any{"name": "Paracetamol", "dosage": "500mg", "frequency": "TID", "duration": "3 days"},
		},
		"workupNotes":      map[string]any{"cbc": "normal"},
		"workupParameters": []any{map[string]any{"name": "Hb", "value": "13.2", "unit": "g/dL"}},
		"createdAt":        time.Now(),
	})

	rxs, err := NewFetcher(store).FetchPrescriptions(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rxs) != 2 {
		t.Fatalf("expected 2 prescriptions, got %d", len(rxs))
	}

	var bare, full Prescription
	for _, rx := range rxs {
		if rx.ID == "rx1" {
			bare = rx
		} else {
			full = rx
		}
	}
	if bare.Diagnosis == nil || bare.Medications == nil || bare.Advice == nil || bare.WorkupParameters == nil {
		t.Errorf("expected non-nil empty lists, got %+v", bare)
	}
	if len(bare.Diagnosis)+len(bare.Medications)+len(bare.Advice) != 0 {
		t.Errorf("expected empty lists, got %+v", bare)
	}
	if len(full.Medications) != 1 || full.Medications[0].Name != "Paracetamol" || full.Medications[0].Instructions != "" {
		t.Errorf("unexpected medications: %+v", full.Medications)
	}
	if full.WorkupNotes["cbc"] != "normal" {
		t.Errorf("unexpected workup notes: %v", full.WorkupNotes)
	}
	if len(full.WorkupParameters) != 1 || full.WorkupParameters[0].Unit != "g/dL" {
		t.Errorf("unexpected workup parameters: %+v", full.WorkupParameters)
	}
}

func TestFetchDocuments_OrderedByUploadTime(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Put(ctx, DocumentsCollection, "old", docstore.Fields{"fileName": "a.pdf", "uploadedAt": base})
	store.Put(ctx, DocumentsCollection, "new", docstore.Fields{"fileName": "b.pdf", "uploadedAt": base.Add(time.Hour), "fileSize": float64(2048)})

	docs, err := NewFetcher(store).FetchDocuments(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "new" || docs[1].ID != "old" {
		t.Fatalf("unexpected order: %+v", docs)
	}
	if docs[0].FileSize != 2048 {
		t.Errorf("expected file size 2048, got %d", docs[0].FileSize)
	}
}

func TestFetch_QueryFailureReturnsFetchError(t *testing.T) {
	store := newFaultyStore()
	store.failQuery[DocumentsCollection] = true

	docs, err := NewFetcher(store).FetchDocuments(context.Background())
	if docs != nil {
		t.Errorf("expected no partial results, got %v", docs)
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if fe.Collection != DocumentsCollection {
		t.Errorf("expected collection %s, got %s", DocumentsCollection, fe.Collection)
	}
	if !errors.Is(err, errStoreDown) {
		t.Error("expected FetchError to wrap the store error")
	}
}
