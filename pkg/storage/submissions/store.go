package submissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"formhooks/pkg/storage"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Config mirrors the store sink configuration.
type Config struct {
	Driver      string
	DSN         string
	Table       string
	AutoMigrate bool
}

// Store implements storage.Store on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

type row struct {
	RecordID    string    `gorm:"column:record_id;size:128;not null;uniqueIndex:idx_submission_record"`
	Event       string    `gorm:"column:event;size:128;index"`
	SubmittedAt string    `gorm:"column:submitted_at;size:64"`
	FieldsJSON  string    `gorm:"column:fields_json;type:text"`
	RawJSON     string    `gorm:"column:raw_json;type:text"`
	Repaired    bool      `gorm:"column:repaired"`
	RequestID   string    `gorm:"column:request_id;size:64"`
	ReceivedAt  time.Time `gorm:"column:received_at;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Open creates a GORM-backed submissions store.
func Open(cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		return nil, errors.New("storage driver is required")
	}
	if cfg.DSN == "" {
		return nil, errors.New("storage dsn is required")
	}
	driver := normalizeDriver(cfg.Driver)
	if driver == "" {
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}

	gormDB, err := openGorm(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	table := cfg.Table
	if table == "" {
		table = "formhooks_submissions"
	}
	store := &Store{
		db:    gormDB,
		table: table,
	}
	if cfg.AutoMigrate {
		if err := store.migrate(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertSubmission inserts a submission or replaces the row with the same record id.
func (s *Store) UpsertSubmission(ctx context.Context, record storage.SubmissionRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if record.RecordID == "" {
		return errors.New("record_id is required")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	data := toRow(record)
	return s.tableDB().
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"event", "submitted_at", "fields_json", "raw_json", "repaired", "request_id", "received_at", "updated_at"}),
		}).
		Create(&data).Error
}

// GetSubmission fetches one submission; nil when absent.
func (s *Store) GetSubmission(ctx context.Context, recordID string) (*storage.SubmissionRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data row
	err := s.tableDB().
		WithContext(ctx).
		Where("record_id = ?", recordID).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromRow(data)
	return &record, nil
}

// ListSubmissions lists submissions newest first.
func (s *Store) ListSubmissions(ctx context.Context, filter storage.SubmissionFilter) ([]storage.SubmissionRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	query := s.tableDB().WithContext(ctx)
	if filter.RecordID != "" {
		query = query.Where("record_id = ?", filter.RecordID)
	}
	if filter.Event != "" {
		query = query.Where("event = ?", filter.Event)
	}
	var data []row
	err := query.Order("received_at desc").Limit(clampLimit(filter.Limit)).Find(&data).Error
	if err != nil {
		return nil, err
	}
	records := make([]storage.SubmissionRecord, 0, len(data))
	for _, item := range data {
		records = append(records, fromRow(item))
	}
	return records, nil
}

func (s *Store) migrate() error {
	return s.tableDB().AutoMigrate(&row{})
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func toRow(record storage.SubmissionRecord) row {
	return row{
		RecordID:    record.RecordID,
		Event:       record.Event,
		SubmittedAt: record.SubmittedAt,
		FieldsJSON:  record.FieldsJSON,
		RawJSON:     record.RawJSON,
		Repaired:    record.Repaired,
		RequestID:   record.RequestID,
		ReceivedAt:  record.ReceivedAt,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

func fromRow(data row) storage.SubmissionRecord {
	return storage.SubmissionRecord{
		RecordID:    data.RecordID,
		Event:       data.Event,
		SubmittedAt: data.SubmittedAt,
		FieldsJSON:  data.FieldsJSON,
		RawJSON:     data.RawJSON,
		Repaired:    data.Repaired,
		RequestID:   data.RequestID,
		ReceivedAt:  data.ReceivedAt,
		CreatedAt:   data.CreatedAt,
		UpdatedAt:   data.UpdatedAt,
	}
}

func normalizeDriver(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return ""
	}
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
