// Package csvlog appends accepted records to a CSV file.
package csvlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"formhooks/pkg/record"
)

// Special column names that are not read from the record's fields.
const (
	ColumnReceivedAt  = "received_at"
	ColumnRecordID    = "record_id"
	ColumnSubmittedAt = "submitted_at"
	ColumnEvent       = "event"
	ColumnRawJSON     = "_raw_json"
)

// DefaultColumns is the column layout of the submissions log.
var DefaultColumns = []string{
	ColumnReceivedAt,
	ColumnRecordID,
	ColumnSubmittedAt,
	"SN",
	"TMK Agent ID",
	"Submitted on",
	"Respondents",
	"Customer Name",
	"Customer ID",
	"Customer Contact",
	"Issue",
	"Date",
	ColumnRawJSON,
}

// Config configures the CSV sink.
type Config struct {
	Path    string
	Columns []string
}

// Sink appends one row per record. Appends are serialized.
type Sink struct {
	path    string
	columns []string
	mu      sync.Mutex
}

// New creates the file with a header row when it does not exist yet.
func New(cfg Config) (*Sink, error) {
	if cfg.Path == "" {
		return nil, errors.New("csv path is required")
	}
	columns := cfg.Columns
	if len(columns) == 0 {
		columns = DefaultColumns
	}
	s := &Sink{path: cfg.Path, columns: append([]string(nil), columns...)}
	if err := s.ensureHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns "csv", the name routes and sinks.enabled use.
func (s *Sink) Name() string { return "csv" }

// Send appends rec as a row.
func (s *Sink) Send(ctx context.Context, rec record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.append(s.Row(rec))
}

// Row maps rec onto the configured columns. Missing fields become "".
func (s *Sink) Row(rec record.Record) []string {
	row := make([]string, len(s.columns))
	for i, column := range s.columns {
		switch column {
		case ColumnReceivedAt:
			row[i] = receivedAt(rec)
		case ColumnRecordID:
			row[i] = rec.RecordID
		case ColumnSubmittedAt:
			row[i] = rec.SubmittedAt
		case ColumnEvent:
			row[i] = rec.Event
		case ColumnRawJSON:
			row[i] = rec.RawString()
		default:
			row[i] = rec.Field(column)
		}
	}
	return row
}

func (s *Sink) ensureHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create csv dir: %w", err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	return writeRow(f, s.columns)
}

func (s *Sink) append(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	return writeRow(f, row)
}

func writeRow(f *os.File, row []string) error {
	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		_ = f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func receivedAt(rec record.Record) string {
	at := rec.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	return at.UTC().Format("2006-01-02T15:04:05Z")
}
