// Package audit records who did what to which clinic resource. Entries are
// handed to a Sink; a Recorder applies the failure policy that decides whether
// a sink failure aborts the surrounding operation.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Action is the verb of an audit entry.
type Action string

const (
	ActionLogin  Action = "login"
	ActionLogout Action = "logout"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionView   Action = "view"
)

// ResourceType names the kind of resource an entry refers to.
type ResourceType string

const (
	ResourcePatient      ResourceType = "patient"
	ResourcePrescription ResourceType = "prescription"
	ResourceUser         ResourceType = "user"
	ResourceLocation     ResourceType = "location"
	ResourceSystem       ResourceType = "system"
	ResourceFormulary    ResourceType = "formulary"
	ResourceDocument     ResourceType = "document"
)

var validActions = map[Action]bool{
	ActionLogin: true, ActionLogout: true, ActionCreate: true,
	ActionUpdate: true, ActionDelete: true, ActionView: true,
}

var validResourceTypes = map[ResourceType]bool{
	ResourcePatient: true, ResourcePrescription: true, ResourceUser: true,
	ResourceLocation: true, ResourceSystem: true, ResourceFormulary: true,
	ResourceDocument: true,
}

// Entry is a single audit record.
type Entry struct {
	UserID       string         `json:"user_id"`
	Action       Action         `json:"action"`
	ResourceType ResourceType   `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Details      map[string]any `json:"details,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Validate checks the action and resource type against the known values.
func (e Entry) Validate() error {
	if !validActions[e.Action] {
		return fmt.Errorf("invalid audit action: %q", e.Action)
	}
	if !validResourceTypes[e.ResourceType] {
		return fmt.Errorf("invalid audit resource type: %q", e.ResourceType)
	}
	return nil
}

// Sink persists audit entries.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(ctx context.Context, entry Entry) error

func (f SinkFunc) Record(ctx context.Context, entry Entry) error {
	return f(ctx, entry)
}

// Error reports a failed audit write.
type Error struct {
	Action       Action
	ResourceType ResourceType
	ResourceID   string
	Err          error
}

func (e *Error) Error() string {
	return fmt.Sprintf("audit %s/%s %s: %v", e.Action, e.ResourceType, e.ResourceID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Recorder fills in entry defaults and applies the failure policy. In strict
// mode a sink failure is returned as *Error; otherwise it is logged and
// swallowed.
type Recorder struct {
	sink   Sink
	strict bool
	logger zerolog.Logger
	now    func() time.Time
}

// NewRecorder returns a Recorder writing to sink.
func NewRecorder(sink Sink, strict bool, logger zerolog.Logger) *Recorder {
	return &Recorder{
		sink:   sink,
		strict: strict,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Strict reports whether sink failures are surfaced to callers.
func (r *Recorder) Strict() bool { return r.strict }

// Record writes one entry.
func (r *Recorder) Record(ctx context.Context, userID string, action Action, resourceType ResourceType, resourceID string, details map[string]any) error {
	entry := Entry{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		Timestamp:    r.now(),
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}

	err := entry.Validate()
	if err == nil {
		err = r.sink.Record(ctx, entry)
	}
	if err == nil {
		return nil
	}

	if r.strict {
		return &Error{Action: action, ResourceType: resourceType, ResourceID: resourceID, Err: err}
	}
	r.logger.Error().Err(err).
		Str("user_id", userID).
		Str("action", string(action)).
		Str("resource_type", string(resourceType)).
		Str("resource_id", resourceID).
		Msg("failed to record audit entry")
	return nil
}
