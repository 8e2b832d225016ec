package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"formhooks/pkg/record"
)

// RecordKind is the river job kind written by the riverqueue publisher.
const RecordKind = "formhooks.record"

// RecordArgs is the job args shape: the record JSON itself.
type RecordArgs struct {
	record.Record
}

func (RecordArgs) Kind() string { return RecordKind }

// RecordWorker runs a Handler for every record job.
type RecordWorker struct {
	river.WorkerDefaults[RecordArgs]
	handler Handler
	logger  Logger
}

func NewRecordWorker(handler Handler, logger Logger) *RecordWorker {
	if logger == nil {
		logger = defaultLogger()
	}
	return &RecordWorker{handler: handler, logger: logger}
}

// Work cancels the job on handler failure instead of letting river retry it.
func (w *RecordWorker) Work(ctx context.Context, job *river.Job[RecordArgs]) error {
	rec := job.Args.Record
	if rec.Fields == nil {
		rec.Fields = map[string]string{}
	}
	payload, _ := json.Marshal(rec)
	evt := &Event{
		Topic: job.Queue,
		Metadata: map[string]string{
			"job_id":     strconv.FormatInt(job.ID, 10),
			"record_id":  rec.RecordID,
			"request_id": rec.RequestID,
		},
		Payload: payload,
		Record:  rec,
	}
	w.logger.Printf("record job=%d queue=%s record_id=%s attempt=%d", job.ID, job.Queue, rec.RecordID, job.Attempt)
	if err := w.handler(ctx, evt); err != nil {
		w.logger.Printf("record job=%d failed: %v", job.ID, err)
		return river.JobCancel(err)
	}
	return nil
}

// RiverConfig configures NewRiverRunner.
type RiverConfig struct {
	DSN        string
	Queue      string
	MaxWorkers int
	Logger     *slog.Logger
}

// RiverRunner owns the pgx pool and the river client.
type RiverRunner struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
}

// NewRiverRunner connects to Postgres and registers a RecordWorker.
func NewRiverRunner(ctx context.Context, cfg RiverConfig, handler Handler, logger Logger) (*RiverRunner, error) {
	if cfg.DSN == "" {
		return nil, errors.New("river dsn is required")
	}
	if cfg.Queue == "" {
		cfg.Queue = river.QueueDefault
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 5
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}

	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, NewRecordWorker(handler, logger)); err != nil {
		pool.Close()
		return nil, err
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: cfg.Logger,
		Queues: map[string]river.QueueConfig{
			cfg.Queue: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &RiverRunner{pool: pool, client: client}, nil
}

// Start begins working jobs in the background.
func (r *RiverRunner) Start(ctx context.Context) error {
	return r.client.Start(ctx)
}

// Stop waits for running jobs, then closes the pool.
func (r *RiverRunner) Stop(ctx context.Context) error {
	err := r.client.Stop(ctx)
	r.pool.Close()
	return err
}
