package docstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the fixed-width UTC layout timestamps are encoded with in
// JSON-backed stores, so that their text sorts in time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// EncodeJSON validates fields, resolves ServerTimestamp placeholders with now
// and marshals the result. Timestamps are written in TimeLayout.
func EncodeJSON(fields Fields, now time.Time) ([]byte, error) {
	if err := Validate(fields); err != nil {
		return nil, err
	}
	resolved := ResolveServerTimestamps(fields, now)
	out := make(map[string]any, len(resolved))
	for k, v := range resolved {
		out[k] = encodeValue(v)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return data, nil
}

// DecodeJSON is the inverse of EncodeJSON. Numbers decode as float64 and
// timestamps stay strings; AsTime reads them back.
func DecodeJSON(data []byte) (Fields, error) {
	var f Fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if f == nil {
		f = Fields{}
	}
	return f, nil
}

func encodeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(TimeLayout)
	case *time.Time:
		return t.UTC().Format(TimeLayout)
	case Timestamper:
		return t.AsTime().UTC().Format(TimeLayout)
	case Fields:
		return encodeMap(t)
	case map[string]any:
		return encodeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = encodeValue(inner)
		}
		return out
	}
	return v
}

func encodeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = encodeValue(v)
	}
	return out
}
