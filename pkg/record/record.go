// Package record turns a decoded submission payload into the flat record
// consumed by every sink.
package record

import (
	"encoding/json"
	"strconv"
	"time"
)

// Record is one accepted form submission.
type Record struct {
	Event       string            `json:"event"`
	RecordID    string            `json:"record_id"`
	SubmittedAt string            `json:"submitted_at"`
	Fields      map[string]string `json:"fields"`
	ReceivedAt  time.Time         `json:"received_at"`
	Repaired    bool              `json:"repaired,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	// Raw is the canonical JSON encoding of the decoded payload.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Field returns the named field, or "" when it is absent.
func (r Record) Field(name string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// FieldOr returns the named field, or fallback when it is absent or empty.
func (r Record) FieldOr(name, fallback string) string {
	if value := r.Field(name); value != "" {
		return value
	}
	return fallback
}

// RawString returns Raw as text, "{}" when unset.
func (r Record) RawString() string {
	if len(r.Raw) == 0 {
		return "{}"
	}
	return string(r.Raw)
}

// DisplayString renders a decoded JSON value the way it is shown in sinks.
// Numbers keep their literal text and nested values are re-encoded as JSON.
func DisplayString(value interface{}) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
