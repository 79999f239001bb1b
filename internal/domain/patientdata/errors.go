package patientdata

import (
	"errors"
	"fmt"
)

var (
	ErrPatientIDRequired = errors.New("patient_id is required")
	ErrFileNameRequired  = errors.New("file_name is required")
	ErrInvalidPatient    = errors.New("invalid patient")
	ErrInvalidStatus     = errors.New("invalid patient status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// FetchError reports a failed collection read.
type FetchError struct {
	Collection string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Collection, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// WriteError reports a failed create, update or delete.
type WriteError struct {
	Op         string
	Collection string
	ID         string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
