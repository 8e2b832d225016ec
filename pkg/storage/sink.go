package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"formhooks/pkg/record"
)

// Sink persists records through a Store.
type Sink struct {
	store Store
}

// NewSink wraps store as a record sink named "store".
func NewSink(store Store) *Sink {
	return &Sink{store: store}
}

// Name returns "store", the name routes and sinks.enabled use.
func (s *Sink) Name() string { return "store" }

// Store returns the wrapped store for read paths such as the submissions API.
func (s *Sink) Store() Store { return s.store }

// Send upserts rec keyed by its record id. Records without an id get a
// generated one so they are never merged with each other.
func (s *Sink) Send(ctx context.Context, rec record.Record) error {
	row, err := FromRecord(rec)
	if err != nil {
		return err
	}
	return s.store.UpsertSubmission(ctx, row)
}

// Close closes the underlying store.
func (s *Sink) Close() error {
	return s.store.Close()
}

// FromRecord converts an accepted record to its persisted form.
func FromRecord(rec record.Record) (SubmissionRecord, error) {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return SubmissionRecord{}, fmt.Errorf("encode fields: %w", err)
	}
	recordID := rec.RecordID
	if recordID == "" {
		recordID = uuid.NewString()
	}
	receivedAt := rec.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return SubmissionRecord{
		RecordID:    recordID,
		Event:       rec.Event,
		SubmittedAt: rec.SubmittedAt,
		FieldsJSON:  string(fieldsJSON),
		RawJSON:     rec.RawString(),
		Repaired:    rec.Repaired,
		RequestID:   rec.RequestID,
		ReceivedAt:  receivedAt.UTC(),
	}, nil
}

// Fields decodes FieldsJSON. A malformed column yields an empty map.
func (r SubmissionRecord) Fields() map[string]string {
	fields := map[string]string{}
	if r.FieldsJSON == "" {
		return fields
	}
	_ = json.Unmarshal([]byte(r.FieldsJSON), &fields)
	return fields
}
