package record

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
)

// Paths are the JSONPath expressions used to locate record values in a payload.
type Paths struct {
	Event       string
	RecordID    string
	SubmittedAt string
	Fields      string
}

// DefaultPaths matches the payload sent by the form platform automation.
func DefaultPaths() Paths {
	return Paths{
		Event:       "$.event",
		RecordID:    "$.record_id",
		SubmittedAt: "$.submitted_at",
		Fields:      "$.fields",
	}
}

type evaluable func(ctx context.Context, value interface{}) (interface{}, error)

// Extractor pulls a Record out of a decoded payload. It is safe for concurrent use.
type Extractor struct {
	event       evaluable
	recordID    evaluable
	submittedAt evaluable
	fields      evaluable
}

// NewExtractor compiles paths. Empty paths fall back to DefaultPaths.
func NewExtractor(paths Paths) (*Extractor, error) {
	defaults := DefaultPaths()
	if paths.Event == "" {
		paths.Event = defaults.Event
	}
	if paths.RecordID == "" {
		paths.RecordID = defaults.RecordID
	}
	if paths.SubmittedAt == "" {
		paths.SubmittedAt = defaults.SubmittedAt
	}
	if paths.Fields == "" {
		paths.Fields = defaults.Fields
	}

	compiled := make([]evaluable, 0, 4)
	for _, path := range []string{paths.Event, paths.RecordID, paths.SubmittedAt, paths.Fields} {
		eval, err := jsonpath.New(path)
		if err != nil {
			return nil, fmt.Errorf("compile path %q: %w", path, err)
		}
		compiled = append(compiled, evaluable(eval))
	}
	return &Extractor{
		event:       compiled[0],
		recordID:    compiled[1],
		submittedAt: compiled[2],
		fields:      compiled[3],
	}, nil
}

var defaultExtractor, _ = NewExtractor(DefaultPaths())

// Extract runs the default extractor.
func Extract(payload map[string]interface{}) Record {
	return defaultExtractor.Extract(payload)
}

// Extract never fails: missing values become "" and a missing or non-object
// fields value becomes an empty map.
func (e *Extractor) Extract(payload map[string]interface{}) Record {
	data := map[string]interface{}(payload)
	if data == nil {
		data = map[string]interface{}{}
	}

	rec := Record{
		Event:       DisplayString(lookup(e.event, data)),
		RecordID:    DisplayString(lookup(e.recordID, data)),
		SubmittedAt: DisplayString(lookup(e.submittedAt, data)),
		Fields:      map[string]string{},
	}
	if fields, ok := lookup(e.fields, data).(map[string]interface{}); ok {
		for name, value := range fields {
			rec.Fields[name] = DisplayString(value)
		}
	}
	if raw, err := json.Marshal(data); err == nil {
		rec.Raw = raw
	}
	return rec
}

func lookup(eval evaluable, data map[string]interface{}) interface{} {
	value, err := eval(context.Background(), data)
	if err != nil {
		return nil
	}
	return value
}
