package storage

import (
	"context"
	"time"
)

// SubmissionRecord is one persisted form submission.
type SubmissionRecord struct {
	RecordID    string
	Event       string
	SubmittedAt string
	FieldsJSON  string
	RawJSON     string
	Repaired    bool
	RequestID   string
	ReceivedAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SubmissionFilter selects submission rows. Empty fields match everything.
type SubmissionFilter struct {
	RecordID string
	Event    string
	Limit    int
}

// Store defines the persistence interface for submissions.
type Store interface {
	UpsertSubmission(ctx context.Context, record SubmissionRecord) error
	GetSubmission(ctx context.Context, recordID string) (*SubmissionRecord, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]SubmissionRecord, error)
	Close() error
}
