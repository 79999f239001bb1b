package patientdata

import "time"

// Collection names in the document store.
const (
	PatientsCollection      = "patients"
	PrescriptionsCollection = "prescriptions"
	DocumentsCollection     = "patientDocuments"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

type VisitTag string

const (
	VisitNew       VisitTag = "new"
	VisitFollowUp  VisitTag = "follow-up"
	VisitEmergency VisitTag = "emergency"
	VisitReferral  VisitTag = "referral"
)

type DocumentType string

const (
	DocLabReport        DocumentType = "lab-report"
	DocImaging          DocumentType = "imaging"
	DocPrescription     DocumentType = "prescription"
	DocReferral         DocumentType = "referral"
	DocDischargeSummary DocumentType = "discharge-summary"
	DocOther            DocumentType = "other"
)

// Vitals is the set of measurements taken at intake.
type Vitals struct {
	HeartRate       int      `json:"heart_rate"`
	BloodPressure   string   `json:"blood_pressure"`
	RespiratoryRate int      `json:"respiratory_rate"`
	Temperature     float64  `json:"temperature"`
	SpO2            int      `json:"spo2"`
	Weight          *float64 `json:"weight,omitempty"`
	Height          *float64 `json:"height,omitempty"`
}

// Patient is a person queued or seen at a clinic location.
type Patient struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Age         int       `json:"age"`
	Gender      Gender    `json:"gender"`
	UHID        string    `json:"uhid"`
	Mobile      string    `json:"mobile,omitempty"`
	LocationID  string    `json:"location_id"`
	DoctorID    string    `json:"doctor_id,omitempty"`
	VisitTag    VisitTag  `json:"visit_tag,omitempty"`
	Vitals      Vitals    `json:"vitals"`
	History     string    `json:"history"`
	Complaints  string    `json:"complaints"`
	DoctorNotes string    `json:"doctor_notes"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Medication is one line of a prescription.
type Medication struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}

// WorkupParameter is a structured investigation result attached to a prescription.
type WorkupParameter struct {
	Name           string `json:"name"`
	Value          string `json:"value"`
	Unit           string `json:"unit"`
	ReferenceRange string `json:"reference_range"`
}

// Prescription is immutable once written.
type Prescription struct {
	ID                 string            `json:"id"`
	PatientID          string            `json:"patient_id"`
	DoctorID           string            `json:"doctor_id"`
	LocationID         string            `json:"location_id"`
	Diagnosis          []string          `json:"diagnosis"`
	Medications        []Medication      `json:"medications"`
	Advice             []string          `json:"advice"`
	FollowUp           string            `json:"follow_up"`
	WorkupNotes        map[string]string `json:"workup_notes,omitempty"`
	WorkupParameters   []WorkupParameter `json:"workup_parameters"`
	ClinicalAssessment string            `json:"clinical_assessment,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// PatientDocument is a file attached to a patient record.
type PatientDocument struct {
	ID           string       `json:"id"`
	PatientID    string       `json:"patient_id"`
	FileName     string       `json:"file_name"`
	FileType     string       `json:"file_type"`
	FileSize     int64        `json:"file_size"`
	FileURL      string       `json:"file_url"`
	UploadedBy   string       `json:"uploaded_by"`
	UploadedAt   time.Time    `json:"uploaded_at"`
	DocumentType DocumentType `json:"document_type"`
	Notes        string       `json:"notes"`
}

// Snapshot is the combined result of loading all three collections.
type Snapshot struct {
	Patients      []Patient         `json:"patients"`
	Prescriptions []Prescription    `json:"prescriptions"`
	Documents     []PatientDocument `json:"documents"`
}

// PatientInput carries the fields of a new patient.
type PatientInput struct {
	Name        string   `json:"name"`
	Age         int      `json:"age"`
	Gender      Gender   `json:"gender"`
	UHID        string   `json:"uhid"`
	Mobile      string   `json:"mobile"`
	LocationID  string   `json:"location_id"`
	DoctorID    string   `json:"doctor_id"`
	VisitTag    VisitTag `json:"visit_tag"`
	Vitals      Vitals   `json:"vitals"`
	History     string   `json:"history"`
	Complaints  string   `json:"complaints"`
	DoctorNotes string   `json:"doctor_notes"`
	Status      Status   `json:"status"`
}

// PatientUpdate is a partial patient change; nil fields are left untouched.
type PatientUpdate struct {
	Name        *string   `json:"name,omitempty"`
	Age         *int      `json:"age,omitempty"`
	Gender      *Gender   `json:"gender,omitempty"`
	UHID        *string   `json:"uhid,omitempty"`
	Mobile      *string   `json:"mobile,omitempty"`
	LocationID  *string   `json:"location_id,omitempty"`
	DoctorID    *string   `json:"doctor_id,omitempty"`
	VisitTag    *VisitTag `json:"visit_tag,omitempty"`
	Vitals      *Vitals   `json:"vitals,omitempty"`
	History     *string   `json:"history,omitempty"`
	Complaints  *string   `json:"complaints,omitempty"`
	DoctorNotes *string   `json:"doctor_notes,omitempty"`
	Status      *Status   `json:"status,omitempty"`
}

// Apply copies the set fields of u onto p.
func (u PatientUpdate) Apply(p *Patient) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Age != nil {
		p.Age = *u.Age
	}
	if u.Gender != nil {
		p.Gender = *u.Gender
	}
	if u.UHID != nil {
		p.UHID = *u.UHID
	}
	if u.Mobile != nil {
		p.Mobile = *u.Mobile
	}
	if u.LocationID != nil {
		p.LocationID = *u.LocationID
	}
	if u.DoctorID != nil {
		p.DoctorID = *u.DoctorID
	}
	if u.VisitTag != nil {
		p.VisitTag = *u.VisitTag
	}
	if u.Vitals != nil {
		p.Vitals = *u.Vitals
	}
	if u.History != nil {
		p.History = *u.History
	}
	if u.Complaints != nil {
		p.Complaints = *u.Complaints
	}
	if u.DoctorNotes != nil {
		p.DoctorNotes = *u.DoctorNotes
	}
	if u.Status != nil {
		p.Status = *u.Status
	}
}

// PrescriptionInput carries the fields of a new prescription. The author is
// always the acting user.
type PrescriptionInput struct {
	PatientID          string            `json:"patient_id"`
	LocationID         string            `json:"location_id"`
	Diagnosis          []string          `json:"diagnosis"`
	Medications        []Medication      `json:"medications"`
	Advice             []string          `json:"advice"`
	FollowUp           string            `json:"follow_up"`
	WorkupNotes        map[string]string `json:"workup_notes"`
	WorkupParameters   []WorkupParameter `json:"workup_parameters"`
	ClinicalAssessment string            `json:"clinical_assessment"`
}

// DocumentInput carries the fields of a new document. Optional fields are
// pointers so that omitted values can be told apart and normalized.
type DocumentInput struct {
	PatientID    string        `json:"patient_id"`
	FileName     string        `json:"file_name"`
	FileType     *string       `json:"file_type,omitempty"`
	FileSize     *int64        `json:"file_size,omitempty"`
	FileURL      *string       `json:"file_url,omitempty"`
	DocumentType *DocumentType `json:"document_type,omitempty"`
	Notes        *string       `json:"notes,omitempty"`
}
