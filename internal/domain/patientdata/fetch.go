package patientdata

import (
	"context"
	"time"

	"github.com/medconsole/clinic/internal/platform/docstore"
)

// EntityFetcher reads each entity collection in full, newest first.
type EntityFetcher interface {
	FetchPatients(ctx context.Context) ([]Patient, error)
	FetchPrescriptions(ctx context.Context) ([]Prescription, error)
	FetchDocuments(ctx context.Context) ([]PatientDocument, error)
}

// Fetcher implements EntityFetcher over a document store.
type Fetcher struct {
	store docstore.Querier
	now   func() time.Time
}

func NewFetcher(store docstore.Querier) *Fetcher {
	return &Fetcher{store: store, now: time.Now}
}

func (f *Fetcher) FetchPatients(ctx context.Context) ([]Patient, error) {
	records, err := f.query(ctx, PatientsCollection, "createdAt")
	if err != nil {
		return nil, err
	}
	now := f.now()
	out := make([]Patient, 0, len(records))
	for _, r := range records {
		out = append(out, patientFromRecord(r, now))
	}
	return out, nil
}

func (f *Fetcher) FetchPrescriptions(ctx context.Context) ([]Prescription, error) {
	records, err := f.query(ctx, PrescriptionsCollection, "createdAt")
	if err != nil {
		return nil, err
	}
	now := f.now()
	out := make([]Prescription, 0, len(records))
	for _, r := range records {
		out = append(out, prescriptionFromRecord(r, now))
	}
	return out, nil
}

func (f *Fetcher) FetchDocuments(ctx context.Context) ([]PatientDocument, error) {
	records, err := f.query(ctx, DocumentsCollection, "uploadedAt")
	if err != nil {
		return nil, err
	}
	now := f.now()
	out := make([]PatientDocument, 0, len(records))
	for _, r := range records {
		out = append(out, documentFromRecord(r, now))
	}
	return out, nil
}

func (f *Fetcher) query(ctx context.Context, collection, orderBy string) ([]docstore.Record, error) {
	records, err := f.store.Query(ctx, collection, orderBy, docstore.Descending)
	if err != nil {
		return nil, &FetchError{Collection: collection, Err: err}
	}
	return records, nil
}
