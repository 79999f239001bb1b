// Package blobstore stores the content of files attached to patient
// documents. The document record keeps only metadata and a download URL;
// the bytes live here.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"mime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
	ErrMissingPatient     = errors.New("patient id is required")
)

// DefaultMaxBytes caps a single upload at 25 MB.
const DefaultMaxBytes = 25 * 1024 * 1024

// AllowedContentTypes lists the file types clinics attach to a visit.
var AllowedContentTypes = map[string]bool{
	"image/png":                true,
	"image/jpeg":               true,
	"image/webp":               true,
	"image/dicom":              true,
	"application/dicom":        true,
	"application/pdf":          true,
	"application/octet-stream": true,
	"text/plain":               true,
}

// Metadata describes a stored blob.
type Metadata struct {
	ID           string    `json:"id"`
	FileName     string    `json:"file_name"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	PatientID    string    `json:"patient_id"`
	DocumentType string    `json:"document_type,omitempty"`
	Hash         string    `json:"hash"`
	CreatedAt    time.Time `json:"created_at"`
	CreatedBy    string    `json:"created_by"`
}

// Store is implemented by every blob backend.
type Store interface {
	Upload(ctx context.Context, meta Metadata, content io.Reader) (*Metadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *Metadata, error)
	Delete(ctx context.Context, id string) error
	GetMetadata(ctx context.Context, id string) (*Metadata, error)
	ListByPatient(ctx context.Context, patientID string) ([]*Metadata, error)
}

// prepare validates meta, reads at most maxBytes of content and fills in the
// server-assigned fields.
func prepare(meta Metadata, content io.Reader, maxBytes int64) (Metadata, []byte, error) {
	if meta.FileName == "" {
		return meta, nil, ErrMissingFileName
	}
	if meta.PatientID == "" {
		return meta, nil, ErrMissingPatient
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(meta.ContentType)
	if err != nil || !AllowedContentTypes[mediaType] {
		return meta, nil, fmt.Errorf("%w: %s", ErrInvalidContentType, meta.ContentType)
	}
	meta.ContentType = mediaType

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(content, maxBytes+1))
	if err != nil {
		return meta, nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return meta, nil, ErrFileTooLarge
	}

	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", sha256.Sum256(data))
	meta.CreatedAt = time.Now().UTC()
	return meta, data, nil
}

func sortNewestFirst(items []*Metadata) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

type storedBlob struct {
	metadata Metadata
	content  []byte
}

// MemoryStore keeps blobs in process memory. Used in development and with
// the in-memory document store.
type MemoryStore struct {
	mu       sync.RWMutex
	blobs    map[string]*storedBlob
	maxBytes int64
}

func NewMemoryStore(maxBytes int64) *MemoryStore {
	return &MemoryStore{
		blobs:    make(map[string]*storedBlob),
		maxBytes: maxBytes,
	}
}

func (s *MemoryStore) Upload(_ context.Context, meta Metadata, content io.Reader) (*Metadata, error) {
	meta, data, err := prepare(meta, content, s.maxBytes)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *MemoryStore) Download(_ context.Context, id string) (io.ReadCloser, *Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

func (s *MemoryStore) GetMetadata(_ context.Context, id string) (*Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}

	meta := blob.metadata
	return &meta, nil
}

// ListByPatient returns the patient's blobs, newest first.
func (s *MemoryStore) ListByPatient(_ context.Context, patientID string) ([]*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []*Metadata{}
	for _, b := range s.blobs {
		if b.metadata.PatientID != patientID {
			continue
		}
		m := b.metadata
		matched = append(matched, &m)
	}
	sortNewestFirst(matched)
	return matched, nil
}
