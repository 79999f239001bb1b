// Package session holds the in-memory patient dashboard of each signed-in
// operator and exposes it over HTTP.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medconsole/clinic/internal/domain/patientdata"
)

var ErrPatientNotFound = errors.New("patient not found")

// Loader produces a full snapshot of the three collections.
type Loader interface {
	LoadAll(ctx context.Context, userID string) (*patientdata.Snapshot, error)
}

type PatientWriter interface {
	Create(ctx context.Context, in patientdata.PatientInput, userID string) (patientdata.Patient, error)
	Update(ctx context.Context, id string, u patientdata.PatientUpdate, userID string) error
}

type PrescriptionWriter interface {
	Create(ctx context.Context, in patientdata.PrescriptionInput, userID string) (patientdata.Prescription, error)
}

type DocumentWriter interface {
	Create(ctx context.Context, in patientdata.DocumentInput, userID string) (patientdata.PatientDocument, error)
	Delete(ctx context.Context, id, userID string) error
}

// Deps are the collaborators shared by every State.
type Deps struct {
	Loader        Loader
	Patients      PatientWriter
	Prescriptions PrescriptionWriter
	Documents     DocumentWriter

	// EnforceTransitions rejects status changes that move a patient
	// backwards in the visit lifecycle.
	EnforceTransitions bool

	// OnChange, when set, receives every change of every user's State.
	OnChange func(userID string, v View)

	Logger zerolog.Logger
}

// View is a consistent copy of a State at one instant.
type View struct {
	Patients          []patientdata.Patient         `json:"patients"`
	Prescriptions     []patientdata.Prescription    `json:"prescriptions"`
	Documents         []patientdata.PatientDocument `json:"documents"`
	QueuedPatients    []patientdata.Patient         `json:"queued_patients"`
	CompletedPatients []patientdata.Patient         `json:"completed_patients"`
	CurrentPatient    *patientdata.Patient          `json:"current_patient"`
	Loading           bool                          `json:"loading"`
	Error             string                        `json:"error,omitempty"`
}

// State is one operator's working copy of the clinic data. Reads are served
// from memory; writes go to the store first and are then merged locally.
// Locally merged rows stay unconfirmed until the next successful Refresh.
type State struct {
	userID string
	deps   Deps

	mu            sync.RWMutex
	loading       bool
	err           error
	patients      []patientdata.Patient
	prescriptions []patientdata.Prescription
	documents     []patientdata.PatientDocument
	current       *patientdata.Patient
	unconfirmed   map[string]bool
	seq           uint64

	// dmu serializes delivery; delivered is the seq of the newest view
	// handed to listeners.
	dmu       sync.Mutex
	delivered uint64

	lmu       sync.Mutex
	listeners map[int]func(View)
	nextSub   int
}

func NewState(userID string, deps Deps) *State {
	return &State{
		userID:        userID,
		deps:          deps,
		loading:       true,
		patients:      []patientdata.Patient{},
		prescriptions: []patientdata.Prescription{},
		documents:     []patientdata.PatientDocument{},
		unconfirmed:   make(map[string]bool),
		listeners:     make(map[int]func(View)),
	}
}

func (s *State) UserID() string { return s.userID }

// Subscribe registers fn to receive the new view after every change. Views
// arrive in commit order; a view older than one already delivered is
// skipped. fn must not mutate the State. The returned func removes the
// listener.
func (s *State) Subscribe(fn func(View)) (cancel func()) {
	s.lmu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *State) notify(seq uint64, v View) {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if seq <= s.delivered {
		return
	}
	s.delivered = seq

	s.lmu.Lock()
	fns := make([]func(View), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// commit applies fn under the write lock and notifies listeners with the
// resulting view.
func (s *State) commit(fn func()) {
	s.mu.Lock()
	fn()
	s.seq++
	seq := s.seq
	v := s.viewLocked()
	s.mu.Unlock()
	s.notify(seq, v)
}

// Refresh reloads all three collections. On success they are replaced
// together and listeners see a single change. On failure the error is kept
// and the previous collections stay visible.
func (s *State) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	snap, err := s.deps.Loader.LoadAll(ctx, s.userID)
	if err == nil && snap == nil {
		snap = &patientdata.Snapshot{}
	}

	s.commit(func() {
		s.loading = false
		if err != nil {
			s.err = err
			return
		}
		s.err = nil
		s.patients = nonNil(snap.Patients)
		s.prescriptions = nonNil(snap.Prescriptions)
		s.documents = nonNil(snap.Documents)
		s.unconfirmed = make(map[string]bool)
		if s.current != nil {
			if p, ok := findPatient(s.patients, s.current.ID); ok {
				s.current = &p
			}
		}
	})
	return err
}

// Snapshot returns the current view.
func (s *State) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

func (s *State) viewLocked() View {
	v := View{
		Patients:          clone(s.patients),
		Prescriptions:     clone(s.prescriptions),
		Documents:         clone(s.documents),
		QueuedPatients:    patientdata.Queued(s.patients),
		CompletedPatients: patientdata.Completed(s.patients),
		Loading:           s.loading,
	}
	if s.current != nil {
		p := *s.current
		v.CurrentPatient = &p
	}
	if s.err != nil {
		v.Error = s.err.Error()
	}
	return v
}

func (s *State) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the error of the last failed Refresh, or nil.
func (s *State) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *State) QueuedPatients() []patientdata.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return patientdata.Queued(s.patients)
}

func (s *State) CompletedPatients() []patientdata.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return patientdata.Completed(s.patients)
}

// Unconfirmed reports whether the row with id was merged locally and has
// not been seen in a refresh since.
func (s *State) Unconfirmed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unconfirmed[id]
}

func (s *State) Patient(id string) (patientdata.Patient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findPatient(s.patients, id)
}

func (s *State) Document(id string) (patientdata.PatientDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.documents {
		if d.ID == id {
			return d, true
		}
	}
	return patientdata.PatientDocument{}, false
}

// AddPatient inserts p into the local collection only. Nothing is written
// to the store, so the row disappears on the next Refresh unless it was
// stored by other means.
func (s *State) AddPatient(p patientdata.Patient) patientdata.Patient {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = patientdata.StatusWaiting
	}
	s.commit(func() {
		s.patients = prepend(s.patients, p)
		s.unconfirmed[p.ID] = true
	})
	return p
}

// CreatePatient stores a new patient and merges it locally.
func (s *State) CreatePatient(ctx context.Context, in patientdata.PatientInput) (patientdata.Patient, error) {
	p, err := s.deps.Patients.Create(ctx, in, s.userID)
	if err != nil {
		return patientdata.Patient{}, err
	}
	s.commit(func() {
		s.patients = prepend(s.patients, p)
		s.unconfirmed[p.ID] = true
	})
	return p, nil
}

// UpdatePatient writes u to the store and then applies it to the local
// copy of the patient.
func (s *State) UpdatePatient(ctx context.Context, id string, u patientdata.PatientUpdate) (patientdata.Patient, error) {
	updated, ok := s.Patient(id)
	if !ok {
		return patientdata.Patient{}, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	if err := s.deps.Patients.Update(ctx, id, u, s.userID); err != nil {
		return patientdata.Patient{}, err
	}
	now := time.Now()

	s.commit(func() {
		for i := range s.patients {
			if s.patients[i].ID != id {
				continue
			}
			u.Apply(&s.patients[i])
			s.patients[i].UpdatedAt = now
			updated = s.patients[i]
			s.unconfirmed[id] = true
			if s.current != nil && s.current.ID == id {
				c := updated
				s.current = &c
			}
			return
		}
		// Dropped by a concurrent refresh; the store already has the change.
		u.Apply(&updated)
		updated.UpdatedAt = now
	})
	return updated, nil
}

// UpdatePatientStatus is UpdatePatient restricted to the status field.
// Backward moves are rejected only when transitions are enforced.
func (s *State) UpdatePatientStatus(ctx context.Context, id string, status patientdata.Status) (patientdata.Patient, error) {
	if !patientdata.ValidStatus(status) {
		return patientdata.Patient{}, fmt.Errorf("%w: %s", patientdata.ErrInvalidStatus, status)
	}
	p, ok := s.Patient(id)
	if !ok {
		return patientdata.Patient{}, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	if s.deps.EnforceTransitions && !patientdata.CanTransition(p.Status, status) {
		return patientdata.Patient{}, fmt.Errorf("%w: %s -> %s", patientdata.ErrInvalidTransition, p.Status, status)
	}
	return s.UpdatePatient(ctx, id, patientdata.PatientUpdate{Status: &status})
}

// SetCurrentPatient selects p; nil clears the selection.
func (s *State) SetCurrentPatient(p *patientdata.Patient) {
	s.commit(func() {
		if p == nil {
			s.current = nil
			return
		}
		c := *p
		s.current = &c
	})
}

func (s *State) GetPatientDocuments(patientID string) []patientdata.PatientDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []patientdata.PatientDocument{}
	for _, d := range s.documents {
		if d.PatientID == patientID {
			out = append(out, d)
		}
	}
	return out
}

func (s *State) AddDocumentToPatient(ctx context.Context, in patientdata.DocumentInput) (patientdata.PatientDocument, error) {
	doc, err := s.deps.Documents.Create(ctx, in, s.userID)
	if err != nil {
		return patientdata.PatientDocument{}, err
	}
	s.commit(func() {
		s.documents = prepend(s.documents, doc)
		s.unconfirmed[doc.ID] = true
	})
	return doc, nil
}

// DeletePatientDocument deletes the document from the store and then drops
// it from the local collection.
func (s *State) DeletePatientDocument(ctx context.Context, id string) error {
	if err := s.deps.Documents.Delete(ctx, id, s.userID); err != nil {
		return err
	}
	s.commit(func() {
		kept := make([]patientdata.PatientDocument, 0, len(s.documents))
		for _, d := range s.documents {
			if d.ID != id {
				kept = append(kept, d)
			}
		}
		s.documents = kept
		delete(s.unconfirmed, id)
	})
	return nil
}

func (s *State) AddPrescription(ctx context.Context, in patientdata.PrescriptionInput) (patientdata.Prescription, error) {
	rx, err := s.deps.Prescriptions.Create(ctx, in, s.userID)
	if err != nil {
		return patientdata.Prescription{}, err
	}
	s.commit(func() {
		s.prescriptions = prepend(s.prescriptions, rx)
		s.unconfirmed[rx.ID] = true
	})
	return rx, nil
}

func (s *State) GetPrescriptionsForPatient(patientID string) []patientdata.Prescription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []patientdata.Prescription{}
	for _, rx := range s.prescriptions {
		if rx.PatientID == patientID {
			out = append(out, rx)
		}
	}
	return out
}

func findPatient(patients []patientdata.Patient, id string) (patientdata.Patient, bool) {
	for _, p := range patients {
		if p.ID == id {
			return p, true
		}
	}
	return patientdata.Patient{}, false
}

// prepend keeps collections newest first, matching the fetch order.
func prepend[T any](items []T, item T) []T {
	out := make([]T, 0, len(items)+1)
	out = append(out, item)
	return append(out, items...)
}

func clone[T any](items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	return out
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
