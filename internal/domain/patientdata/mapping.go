package patientdata

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/medconsole/clinic/internal/platform/docstore"
)

// Raw records come back from different backends with different native types
// (time.Time vs RFC 3339 strings, int vs float64, []string vs []any). The
// helpers below accept all of them and fall back to zero values.

func str(f map[string]any, key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

func num(f map[string]any, key string) (float64, bool) {
	switch v := f[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		n, err := v.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	}
	return 0, false
}

func integer(f map[string]any, key string) int {
	n, _ := num(f, key)
	return int(n)
}

func float(f map[string]any, key string) float64 {
	n, _ := num(f, key)
	return n
}

func optFloat(f map[string]any, key string) *float64 {
	n, ok := num(f, key)
	if !ok {
		return nil
	}
	return &n
}

func strList(f map[string]any, key string) []string {
	out := []string{}
	switch v := f[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func mapList(f map[string]any, key string) []map[string]any {
	var out []map[string]any
	switch v := f[key].(type) {
	case []map[string]any:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if m := asMap(item); m != nil {
				out = append(out, m)
			}
		}
	}
	return out
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case docstore.Fields:
		return m
	}
	return nil
}

func timestamp(f map[string]any, key string, now time.Time) time.Time {
	if t, ok := docstore.AsTime(f[key]); ok {
		return t
	}
	return now
}

func patientFromRecord(r docstore.Record, now time.Time) Patient {
	f := r.Fields
	p := Patient{
		ID:          r.ID,
		Name:        str(f, "name"),
		Age:         integer(f, "age"),
		Gender:      Gender(str(f, "gender")),
		UHID:        str(f, "uhid"),
		Mobile:      str(f, "mobile"),
		LocationID:  str(f, "locationId"),
		DoctorID:    str(f, "doctorId"),
		VisitTag:    VisitTag(str(f, "visitTag")),
		History:     str(f, "history"),
		Complaints:  str(f, "complaints"),
		DoctorNotes: str(f, "doctorNotes"),
		Status:      Status(str(f, "status")),
		CreatedAt:   timestamp(f, "createdAt", now),
		UpdatedAt:   timestamp(f, "updatedAt", now),
	}
	if p.Status == "" {
		p.Status = StatusWaiting
	}
	if v := asMap(f["vitals"]); v != nil {
		p.Vitals = vitalsFromMap(v)
	}
	return p
}

func vitalsFromMap(v map[string]any) Vitals {
	return Vitals{
		HeartRate:       integer(v, "heartRate"),
		BloodPressure:   str(v, "bloodPressure"),
		RespiratoryRate: integer(v, "respiratoryRate"),
		Temperature:     float(v, "temperature"),
		SpO2:            integer(v, "spo2"),
		Weight:          optFloat(v, "weight"),
		Height:          optFloat(v, "height"),
	}
}

func prescriptionFromRecord(r docstore.Record, now time.Time) Prescription {
	f := r.Fields
	rx := Prescription{
		ID:                 r.ID,
		PatientID:          str(f, "patientId"),
		DoctorID:           str(f, "doctorId"),
		LocationID:         str(f, "locationId"),
		Diagnosis:          strList(f, "diagnosis"),
		Medications:        []Medication{},
		Advice:             strList(f, "advice"),
		FollowUp:           str(f, "followUp"),
		WorkupParameters:   []WorkupParameter{},
		ClinicalAssessment: str(f, "clinicalAssessment"),
		CreatedAt:          timestamp(f, "createdAt", now),
	}
	for _, m := range mapList(f, "medications") {
		rx.Medications = append(rx.Medications, Medication{
			Name:         str(m, "name"),
			Dosage:       str(m, "dosage"),
			Frequency:    str(m, "frequency"),
			Duration:     str(m, "duration"),
			Instructions: str(m, "instructions"),
		})
	}
	for _, m := range mapList(f, "workupParameters") {
		rx.WorkupParameters = append(rx.WorkupParameters, WorkupParameter{
			Name:           str(m, "name"),
			Value:          str(m, "value"),
			Unit:           str(m, "unit"),
			ReferenceRange: str(m, "referenceRange"),
		})
	}
	if notes := asMap(f["workupNotes"]); len(notes) > 0 {
		rx.WorkupNotes = make(map[string]string, len(notes))
		for k := range notes {
			rx.WorkupNotes[k] = str(notes, k)
		}
	}
	return rx
}

func documentFromRecord(r docstore.Record, now time.Time) PatientDocument {
	f := r.Fields
	return PatientDocument{
		ID:           r.ID,
		PatientID:    str(f, "patientId"),
		FileName:     str(f, "fileName"),
		FileType:     str(f, "fileType"),
		FileSize:     int64(float(f, "fileSize")),
		FileURL:      str(f, "fileUrl"),
		UploadedBy:   str(f, "uploadedBy"),
		UploadedAt:   timestamp(f, "uploadedAt", now),
		DocumentType: DocumentType(str(f, "documentType")),
		Notes:        str(f, "notes"),
	}
}

func vitalsFields(v Vitals) map[string]any {
	out := map[string]any{
		"heartRate":       v.HeartRate,
		"bloodPressure":   v.BloodPressure,
		"respiratoryRate": v.RespiratoryRate,
		"temperature":     v.Temperature,
		"spo2":            v.SpO2,
	}
	if v.Weight != nil {
		out["weight"] = *v.Weight
	}
	if v.Height != nil {
		out["height"] = *v.Height
	}
	return out
}

func medicationFields(meds []Medication) []any {
	out := make([]any, 0, len(meds))
	for _, m := range meds {
		out = append(out, map[string]any{
			"name":         m.Name,
			"dosage":       m.Dosage,
			"frequency":    m.Frequency,
			"duration":     m.Duration,
			"instructions": m.Instructions,
		})
	}
	return out
}

func workupParameterFields(params []WorkupParameter) []any {
	out := make([]any, 0, len(params))
	for _, p := range params {
		out = append(out, map[string]any{
			"name":           p.Name,
			"value":          p.Value,
			"unit":           p.Unit,
			"referenceRange": p.ReferenceRange,
		})
	}
	return out
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (u PatientUpdate) fields() docstore.Fields {
	f := docstore.Fields{}
	if u.Name != nil {
		f["name"] = *u.Name
	}
	if u.Age != nil {
		f["age"] = *u.Age
	}
	if u.Gender != nil {
		f["gender"] = string(*u.Gender)
	}
	if u.UHID != nil {
		f["uhid"] = *u.UHID
	}
	if u.Mobile != nil {
		f["mobile"] = *u.Mobile
	}
	if u.LocationID != nil {
		f["locationId"] = *u.LocationID
	}
	if u.DoctorID != nil {
		f["doctorId"] = *u.DoctorID
	}
	if u.VisitTag != nil {
		f["visitTag"] = string(*u.VisitTag)
	}
	if u.Vitals != nil {
		f["vitals"] = vitalsFields(*u.Vitals)
	}
	if u.History != nil {
		f["history"] = *u.History
	}
	if u.Complaints != nil {
		f["complaints"] = *u.Complaints
	}
	if u.DoctorNotes != nil {
		f["doctorNotes"] = *u.DoctorNotes
	}
	if u.Status != nil {
		f["status"] = string(*u.Status)
	}
	return f
}
