package patientdata

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medconsole/clinic/internal/platform/audit"
	"github.com/medconsole/clinic/internal/platform/docstore"
)

// writer holds what every mutation service needs: the store, the audit
// recorder, a logger and replaceable id/clock sources.
type writer struct {
	store  docstore.Writer
	audit  *audit.Recorder
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

func newWriter(store docstore.Writer, recorder *audit.Recorder, logger zerolog.Logger) writer {
	return writer{
		store:  store,
		audit:  recorder,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

func (w *writer) fail(op, collection, id string, err error) error {
	w.logger.Error().Err(err).
		Str("op", op).
		Str("collection", collection).
		Str("id", id).
		Msg("patient data write failed")
	return &WriteError{Op: op, Collection: collection, ID: id, Err: err}
}

// -- Patients --

type PatientService struct {
	writer
}

func NewPatientService(store docstore.Writer, recorder *audit.Recorder, logger zerolog.Logger) *PatientService {
	return &PatientService{writer: newWriter(store, recorder, logger)}
}

var validGenders = map[Gender]bool{GenderMale: true, GenderFemale: true, GenderOther: true}

// Create persists a new patient. Status defaults to waiting.
func (s *PatientService) Create(ctx context.Context, in PatientInput, userID string) (Patient, error) {
	if in.Name == "" {
		return Patient{}, fmt.Errorf("%w: name is required", ErrInvalidPatient)
	}
	if in.Age <= 0 {
		return Patient{}, fmt.Errorf("%w: age must be a positive integer", ErrInvalidPatient)
	}
	if !validGenders[in.Gender] {
		return Patient{}, fmt.Errorf("%w: gender %q", ErrInvalidPatient, in.Gender)
	}
	if in.Status == "" {
		in.Status = StatusWaiting
	}
	if !ValidStatus(in.Status) {
		return Patient{}, fmt.Errorf("%w: %s", ErrInvalidStatus, in.Status)
	}

	id := s.newID()
	fields := docstore.Fields{
		"name":        in.Name,
		"age":         in.Age,
		"gender":      string(in.Gender),
		"uhid":        in.UHID,
		"mobile":      in.Mobile,
		"locationId":  in.LocationID,
		"doctorId":    in.DoctorID,
		"visitTag":    string(in.VisitTag),
		"vitals":      vitalsFields(in.Vitals),
		"history":     in.History,
		"complaints":  in.Complaints,
		"doctorNotes": in.DoctorNotes,
		"status":      string(in.Status),
		"createdAt":   docstore.ServerTimestamp,
		"updatedAt":   docstore.ServerTimestamp,
	}
	if err := s.store.Put(ctx, PatientsCollection, id, fields); err != nil {
		return Patient{}, s.fail("create", PatientsCollection, id, err)
	}

	if err := s.audit.Record(ctx, userID, audit.ActionCreate, audit.ResourcePatient, id,
		map[string]any{"uhid": in.UHID, "locationId": in.LocationID}); err != nil {
		return Patient{}, err
	}

	now := s.now()
	return Patient{
		ID:          id,
		Name:        in.Name,
		Age:         in.Age,
		Gender:      in.Gender,
		UHID:        in.UHID,
		Mobile:      in.Mobile,
		LocationID:  in.LocationID,
		DoctorID:    in.DoctorID,
		VisitTag:    in.VisitTag,
		Vitals:      in.Vitals,
		History:     in.History,
		Complaints:  in.Complaints,
		DoctorNotes: in.DoctorNotes,
		Status:      in.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Update merges the set fields of u into the stored patient and stamps
// updatedAt.
func (s *PatientService) Update(ctx context.Context, id string, u PatientUpdate, userID string) error {
	if u.Name != nil && *u.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPatient)
	}
	if u.Age != nil && *u.Age <= 0 {
		return fmt.Errorf("%w: age must be a positive integer", ErrInvalidPatient)
	}
	if u.Gender != nil && !validGenders[*u.Gender] {
		return fmt.Errorf("%w: gender %q", ErrInvalidPatient, *u.Gender)
	}
	if u.Status != nil && !ValidStatus(*u.Status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, *u.Status)
	}
	fields := u.fields()
	fields["updatedAt"] = docstore.ServerTimestamp
	if err := s.store.Update(ctx, PatientsCollection, id, fields); err != nil {
		return s.fail("update", PatientsCollection, id, err)
	}

	changed := make([]string, 0, len(fields))
	for k := range fields {
		if k != "updatedAt" {
			changed = append(changed, k)
		}
	}
	return s.audit.Record(ctx, userID, audit.ActionUpdate, audit.ResourcePatient, id,
		map[string]any{"fields": changed})
}

// -- Prescriptions --

type PrescriptionService struct {
	writer
}

func NewPrescriptionService(store docstore.Writer, recorder *audit.Recorder, logger zerolog.Logger) *PrescriptionService {
	return &PrescriptionService{writer: newWriter(store, recorder, logger)}
}

// Create writes a new prescription authored by userID and returns it with a
// locally stamped CreatedAt. The stored creation time is assigned by the
// backend and may differ slightly.
func (s *PrescriptionService) Create(ctx context.Context, in PrescriptionInput, userID string) (Prescription, error) {
	if in.PatientID == "" {
		return Prescription{}, ErrPatientIDRequired
	}

	rx := Prescription{
		ID:                 s.newID(),
		PatientID:          in.PatientID,
		DoctorID:           userID,
		LocationID:         in.LocationID,
		Diagnosis:          nonNil(in.Diagnosis),
		Medications:        in.Medications,
		Advice:             nonNil(in.Advice),
		FollowUp:           in.FollowUp,
		WorkupNotes:        in.WorkupNotes,
		WorkupParameters:   in.WorkupParameters,
		ClinicalAssessment: in.ClinicalAssessment,
	}
	if rx.Medications == nil {
		rx.Medications = []Medication{}
	}
	if rx.WorkupParameters == nil {
		rx.WorkupParameters = []WorkupParameter{}
	}

	fields := docstore.Fields{
		"patientId":          rx.PatientID,
		"doctorId":           rx.DoctorID,
		"locationId":         rx.LocationID,
		"diagnosis":          rx.Diagnosis,
		"medications":        medicationFields(rx.Medications),
		"advice":             rx.Advice,
		"followUp":           rx.FollowUp,
		"workupNotes":        stringMap(rx.WorkupNotes),
		"workupParameters":   workupParameterFields(rx.WorkupParameters),
		"clinicalAssessment": rx.ClinicalAssessment,
		"createdAt":          docstore.ServerTimestamp,
	}
	if err := s.store.Put(ctx, PrescriptionsCollection, rx.ID, fields); err != nil {
		return Prescription{}, s.fail("create", PrescriptionsCollection, rx.ID, err)
	}
	rx.CreatedAt = s.now()

	if err := s.audit.Record(ctx, userID, audit.ActionCreate, audit.ResourcePrescription, rx.ID,
		map[string]any{"patientId": rx.PatientID}); err != nil {
		return Prescription{}, err
	}
	return rx, nil
}

// -- Documents --

type DocumentService struct {
	writer
}

func NewDocumentService(store docstore.Writer, recorder *audit.Recorder, logger zerolog.Logger) *DocumentService {
	return &DocumentService{writer: newWriter(store, recorder, logger)}
}

// Create writes a new document record uploaded by userID. Every optional
// field is written with an empty or zero value when omitted.
func (s *DocumentService) Create(ctx context.Context, in DocumentInput, userID string) (PatientDocument, error) {
	if in.PatientID == "" {
		return PatientDocument{}, ErrPatientIDRequired
	}
	if in.FileName == "" {
		return PatientDocument{}, ErrFileNameRequired
	}

	doc := PatientDocument{
		ID:           s.newID(),
		PatientID:    in.PatientID,
		FileName:     in.FileName,
		FileType:     deref(in.FileType),
		FileSize:     deref(in.FileSize),
		FileURL:      deref(in.FileURL),
		UploadedBy:   userID,
		DocumentType: deref(in.DocumentType),
		Notes:        deref(in.Notes),
	}
	fields := docstore.Fields{
		"patientId":    doc.PatientID,
		"fileName":     doc.FileName,
		"fileType":     doc.FileType,
		"fileSize":     doc.FileSize,
		"fileUrl":      doc.FileURL,
		"uploadedBy":   doc.UploadedBy,
		"uploadedAt":   docstore.ServerTimestamp,
		"documentType": string(doc.DocumentType),
		"notes":        doc.Notes,
	}
	if err := s.store.Put(ctx, DocumentsCollection, doc.ID, fields); err != nil {
		return PatientDocument{}, s.fail("create", DocumentsCollection, doc.ID, err)
	}
	doc.UploadedAt = s.now()

	if err := s.audit.Record(ctx, userID, audit.ActionCreate, audit.ResourceDocument, doc.ID,
		map[string]any{"patientId": doc.PatientID, "fileName": doc.FileName}); err != nil {
		return PatientDocument{}, err
	}
	return doc, nil
}

// Delete removes a document record. Errors from the store, including a
// missing id, are returned as-is inside a WriteError.
func (s *DocumentService) Delete(ctx context.Context, id, userID string) error {
	if err := s.store.Delete(ctx, DocumentsCollection, id); err != nil {
		return s.fail("delete", DocumentsCollection, id, err)
	}
	return s.audit.Record(ctx, userID, audit.ActionDelete, audit.ResourceDocument, id, nil)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
