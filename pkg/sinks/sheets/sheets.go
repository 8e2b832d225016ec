// Package sheets appends accepted records to a Google Sheets worksheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"formhooks/pkg/record"
)

const (
	valueInputRaw  = "RAW"
	insertRows     = "INSERT_ROWS"
	receivedLayout = "2006-01-02 15:04:05"
)

// Header columns with special sources. Every other column is read from the
// record's fields.
const (
	ColumnReceivedAt  = "Received At"
	ColumnRecordID    = "Record ID"
	ColumnSubmittedAt = "Submitted At"
	ColumnEvent       = "Event"
	ColumnRawJSON     = "Raw JSON"
)

// DefaultColumns is the header row written to new worksheets.
var DefaultColumns = []string{
	ColumnReceivedAt,
	ColumnRecordID,
	ColumnSubmittedAt,
	"SN",
	"TMK - CRM Account Name",
	"CC Email",
	"CC - CRM Account Name",
	"CC Whatsapp Number",
	"Submitted on",
	"Respondents",
	"Customer Name",
	"Customer ID",
	"Customer Contact",
	"Issue",
	ColumnRawJSON,
}

// Config configures the sheets sink.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
	Columns         []string
}

// Sink writes one row per record below a managed header row.
type Sink struct {
	values        *gsheets.SpreadsheetsValuesService
	spreadsheetID string
	sheetName     string
	columns       []string

	mu          sync.Mutex
	headerReady bool
}

// New builds the sink. When opts is empty, service account credentials are
// loaded from cfg.CredentialsFile.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Sink, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("sheets spreadsheet_id is required")
	}
	if len(opts) == 0 {
		if cfg.CredentialsFile == "" {
			return nil, errors.New("sheets credentials_file is required")
		}
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read sheets credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, gsheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("parse sheets credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}

	sheetName := cfg.SheetName
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	columns := cfg.Columns
	if len(columns) == 0 {
		columns = DefaultColumns
	}
	return &Sink{
		values:        svc.Spreadsheets.Values,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
		columns:       append([]string(nil), columns...),
	}, nil
}

// Name returns "sheets", the name routes and sinks.enabled use.
func (s *Sink) Name() string { return "sheets" }

// Send ensures the header row exists, then appends rec.
func (s *Sink) Send(ctx context.Context, rec record.Record) error {
	if err := s.ensureHeaders(ctx); err != nil {
		return err
	}
	body := &gsheets.ValueRange{Values: [][]interface{}{s.Row(rec)}}
	_, err := s.values.Append(s.spreadsheetID, s.dataRange(), body).
		ValueInputOption(valueInputRaw).
		InsertDataOption(insertRows).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}

// Row maps rec onto the configured columns.
func (s *Sink) Row(rec record.Record) []interface{} {
	row := make([]interface{}, len(s.columns))
	for i, column := range s.columns {
		switch column {
		case ColumnReceivedAt:
			row[i] = rec.ReceivedAt.Format(receivedLayout)
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

// ensureHeaders writes the header row when it is missing or shorter than
// the configured columns. A failure is retried on the next Send.
func (s *Sink) ensureHeaders(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headerReady {
		return nil
	}

	rng := s.headerRange()
	current, err := s.values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header row: %w", err)
	}
	if len(current.Values) == 0 || len(current.Values[0]) < len(s.columns) {
		header := make([]interface{}, len(s.columns))
		for i, column := range s.columns {
			header[i] = column
		}
		_, err := s.values.Update(s.spreadsheetID, rng, &gsheets.ValueRange{Values: [][]interface{}{header}}).
			ValueInputOption(valueInputRaw).
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("write header row: %w", err)
		}
	}
	s.headerReady = true
	return nil
}

func (s *Sink) headerRange() string {
	last := ColumnLetter(len(s.columns))
	return fmt.Sprintf("%s!A1:%s1", quoteSheet(s.sheetName), last)
}

func (s *Sink) dataRange() string {
	return fmt.Sprintf("%s!A:%s", quoteSheet(s.sheetName), ColumnLetter(len(s.columns)))
}

// ColumnLetter converts a 1-based column index to A1 notation (1 -> A, 27 -> AA).
func ColumnLetter(n int) string {
	if n < 1 {
		return "A"
	}
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
