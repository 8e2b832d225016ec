package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"formhooks/pkg/record"
)

// RecordJobKind is the River job kind the worker registers for records.
const RecordJobKind = "formhooks.record"

// riverQueuePublisher writes records straight into River's job table, so
// the server needs no River client; the worker's River client picks the
// rows up.
type riverQueuePublisher struct {
	db     *sql.DB
	insert string
	cfg    RiverQueueConfig
}

func newRiverQueuePublisher(cfg RiverQueueConfig) (*riverQueuePublisher, error) {
	if cfg.DSN == "" {
		return nil, errors.New("riverqueue dsn is required")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = "river_job"
	}
	if cfg.Kind == "" {
		cfg.Kind = RecordJobKind
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open riverqueue database: %w", err)
	}
	return &riverQueuePublisher{
		db:  db,
		cfg: cfg,
		insert: fmt.Sprintf(`INSERT INTO %s (args, kind, max_attempts, metadata, priority, queue, scheduled_at, tags)
VALUES ($1, $2, $3, $4, $5, $6, now(), $7)`, table),
	}, nil
}

// Publish inserts one available job. args is the record JSON, which the
// worker decodes as its job args; topic is kept in the job metadata.
func (p *riverQueuePublisher) Publish(ctx context.Context, topic string, rec record.Record) error {
	args, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	metadata, err := json.Marshal(map[string]string{
		"record_id":  rec.RecordID,
		"event":      rec.Event,
		"request_id": rec.RequestID,
		"topic":      topic,
	})
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, p.insert,
		string(args), p.cfg.Kind, p.cfg.MaxAttempts, string(metadata),
		p.cfg.Priority, p.cfg.Queue, pq.Array(p.cfg.Tags),
	)
	if err != nil {
		return fmt.Errorf("insert river job: %w", err)
	}
	return nil
}

func (p *riverQueuePublisher) Close() error {
	return p.db.Close()
}
