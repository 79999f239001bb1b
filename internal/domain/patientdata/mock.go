package patientdata

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

var (
	mockNames      = []string{"Aarav Sharma", "Meera Nair", "Rohan Gupta", "Fatima Khan", "Lakshmi Iyer", "Arjun Reddy", "Sara Thomas", "Kabir Singh"}
	mockComplaints = []string{"Fever for 3 days", "Persistent cough", "Headache and dizziness", "Abdominal pain", "Joint pain", "Shortness of breath"}
	mockGenders    = []Gender{GenderMale, GenderFemale, GenderOther}
	mockTags       = []VisitTag{VisitNew, VisitFollowUp, VisitEmergency, VisitReferral}
	mockStatuses   = []Status{StatusWaiting, StatusWaiting, StatusInProgress, StatusCompleted}
)

// MockPatients generates n demo patients for locationID. They carry fresh ids
// and are meant for local-only seeding, never for the system of record.
func MockPatients(n int, rng *rand.Rand, locationID string, now time.Time) []Patient {
	out := make([]Patient, 0, n)
	for i := 0; i < n; i++ {
		weight := 45 + rng.Float64()*40
		created := now.Add(-time.Duration(rng.Intn(240)) * time.Minute)
		out = append(out, Patient{
			ID:         "mock-" + uuid.New().String(),
			Name:       mockNames[rng.Intn(len(mockNames))],
			Age:        1 + rng.Intn(90),
			Gender:     mockGenders[rng.Intn(len(mockGenders))],
			UHID:       fmt.Sprintf("UH%06d", rng.Intn(1000000)),
			Mobile:     fmt.Sprintf("9%09d", rng.Intn(1000000000)),
			LocationID: locationID,
			VisitTag:   mockTags[rng.Intn(len(mockTags))],
			Vitals: Vitals{
				HeartRate:       60 + rng.Intn(50),
				BloodPressure:   fmt.Sprintf("%d/%d", 100+rng.Intn(40), 60+rng.Intn(30)),
				RespiratoryRate: 12 + rng.Intn(10),
				Temperature:     97 + rng.Float64()*4,
				SpO2:            92 + rng.Intn(8),
				Weight:          &weight,
			},
			Complaints: mockComplaints[rng.Intn(len(mockComplaints))],
			Status:     mockStatuses[rng.Intn(len(mockStatuses))],
			CreatedAt:  created,
			UpdatedAt:  created,
		})
	}
	return out
}

// Input converts a patient back into creation input, for seeding the store.
func (p Patient) Input() PatientInput {
	return PatientInput{
		Name:        p.Name,
		Age:         p.Age,
		Gender:      p.Gender,
		UHID:        p.UHID,
		Mobile:      p.Mobile,
		LocationID:  p.LocationID,
		DoctorID:    p.DoctorID,
		VisitTag:    p.VisitTag,
		Vitals:      p.Vitals,
		History:     p.History,
		Complaints:  p.Complaints,
		DoctorNotes: p.DoctorNotes,
		Status:      p.Status,
	}
}
