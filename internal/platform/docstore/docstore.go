// Package docstore defines the document-store contract the patient data layer
// is written against: ordered collection queries, whole-record puts, partial
// updates and deletes keyed by an opaque string identifier. Backends live in
// their own packages (db, mongostore, levelstore); this package also carries
// the in-memory backend used in development and tests.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when an update or delete targets a missing record.
	ErrNotFound = errors.New("document not found")
	// ErrUndefinedField is returned when a write carries a nil value. Callers
	// must substitute empty defaults before writing.
	ErrUndefinedField = errors.New("field value is undefined")
)

// Direction is the sort direction of a collection query.
type Direction int

const (
	Descending Direction = iota
	Ascending
)

func (d Direction) String() string {
	if d == Ascending {
		return "asc"
	}
	return "desc"
}

// Fields is the raw field map of a stored record.
type Fields map[string]any

// Record is a raw document as returned by a query.
type Record struct {
	ID     string
	Fields Fields
}

// Querier reads whole collections in a defined order.
type Querier interface {
	Query(ctx context.Context, collection, orderBy string, dir Direction) ([]Record, error)
}

// Writer persists and removes records.
type Writer interface {
	// Put creates or replaces the record with the given id.
	Put(ctx context.Context, collection, id string, fields Fields) error
	// Update merges fields into an existing record.
	Update(ctx context.Context, collection, id string, fields Fields) error
	Delete(ctx context.Context, collection, id string) error
}

// Store is the full document-store contract.
type Store interface {
	Querier
	Writer
}

type serverTimestamp struct{}

// ServerTimestamp is a field value placeholder that backends replace with
// their own clock at write time.
var ServerTimestamp any = serverTimestamp{}

// Timestamper is implemented by store-native timestamp types.
type Timestamper interface {
	AsTime() time.Time
}

// Validate walks fields and rejects nil values, including nil pointers, maps
// and slices nested at any depth.
func Validate(fields Fields) error {
	for k, v := range fields {
		if err := validateValue(k, v); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(path string, v any) error {
	if v == nil {
		return fmt.Errorf("%w: %s", ErrUndefinedField, path)
	}
	switch t := v.(type) {
	case Fields:
		for k, inner := range t {
			if err := validateValue(path+"."+k, inner); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for k, inner := range t {
			if err := validateValue(path+"."+k, inner); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for i, inner := range t {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), inner); err != nil {
				return err
			}
		}
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return fmt.Errorf("%w: %s", ErrUndefinedField, path)
		}
	}
	return nil
}

// ResolveServerTimestamps returns a copy of fields with every ServerTimestamp
// placeholder replaced by now.
func ResolveServerTimestamps(fields Fields, now time.Time) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		out[k] = resolveValue(v, now)
	}
	return out
}

func resolveValue(v any, now time.Time) any {
	switch t := v.(type) {
	case serverTimestamp:
		return now
	case Fields:
		return map[string]any(ResolveServerTimestamps(t, now))
	case map[string]any:
		return map[string]any(ResolveServerTimestamps(Fields(t), now))
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = resolveValue(inner, now)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// AsTime converts a store-native timestamp value to time.Time. Accepted
// forms are time.Time, *time.Time, Timestamper, RFC 3339 strings and Unix
// millisecond numbers.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case Timestamper:
		return t.AsTime(), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case float64:
		return time.UnixMilli(int64(t)), true
	case int64:
		return time.UnixMilli(t), true
	case int:
		return time.UnixMilli(int64(t)), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(n), true
	}
	return time.Time{}, false
}

// SortRecords orders records by the named field. Records missing the field
// sort after all records that carry it, regardless of direction.
func SortRecords(records []Record, orderBy string, dir Direction) {
	sort.SliceStable(records, func(i, j int) bool {
		vi, iok := records[i].Fields[orderBy]
		vj, jok := records[j].Fields[orderBy]
		switch {
		case !iok && !jok:
			return false
		case !iok:
			return false
		case !jok:
			return true
		}
		c := compare(vi, vj)
		if dir == Descending {
			return c > 0
		}
		return c < 0
	})
}

func compare(a, b any) int {
	if ta, ok := AsTime(a); ok {
		if tb, ok := AsTime(b); ok {
			return ta.Compare(tb)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
