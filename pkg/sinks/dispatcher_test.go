package sinks

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"formhooks/pkg/record"
)

var quietLogger = log.New(io.Discard, "", 0)

type recordingSink struct {
	name string
	err  error
	mu   sync.Mutex
	got  []record.Record
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(ctx context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, rec)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

// TestDispatchIsolatesFailures tests that a failing sink does not stop the others.
func TestDispatchIsolatesFailures(t *testing.T) {
	csv := &recordingSink{name: "csv"}
	email := &recordingSink{name: "email", err: errors.New("smtp down")}
	sheets := &recordingSink{name: "sheets"}

	var hooked []string
	var hookMu sync.Mutex
	d := NewDispatcher([]Sink{csv, email, sheets},
		WithLogger(quietLogger),
		WithErrorHook(func(sink string, err error) {
			hookMu.Lock()
			hooked = append(hooked, sink)
			hookMu.Unlock()
		}),
	)

	err := d.Dispatch(context.Background(), record.Record{RecordID: "rec1"}, nil)
	if err == nil {
		t.Fatalf("expected joined error from email sink")
	}
	if !errors.Is(err, email.err) {
		t.Fatalf("expected error to wrap sink error, got %v", err)
	}
	if csv.count() != 1 || sheets.count() != 1 || email.count() != 1 {
		t.Fatalf("expected every sink to receive the record")
	}
	if len(hooked) != 1 || hooked[0] != "email" {
		t.Fatalf("expected error hook for email only, got %v", hooked)
	}
}

func TestDispatchSelectsNamedSinks(t *testing.T) {
	csv := &recordingSink{name: "csv"}
	email := &recordingSink{name: "email"}
	d := NewDispatcher([]Sink{csv, email}, WithLogger(quietLogger))

	if err := d.Dispatch(context.Background(), record.Record{}, []string{"EMAIL"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if csv.count() != 0 || email.count() != 1 {
		t.Fatalf("expected only email to be selected, got csv=%d email=%d", csv.count(), email.count())
	}

	if err := d.Dispatch(context.Background(), record.Record{}, []string{}); err != nil {
		t.Fatalf("dispatch none: %v", err)
	}
	if csv.count() != 0 || email.count() != 1 {
		t.Fatalf("expected empty selection to deliver nothing")
	}

	if err := d.Dispatch(context.Background(), record.Record{}, []string{"whatsapp"}); err == nil {
		t.Fatalf("expected unknown sink error")
	}
}

func TestDispatchSlowSinkDoesNotBlockOthers(t *testing.T) {
	slow := Func("slow", func(ctx context.Context, rec record.Record) error {
		<-ctx.Done()
		return ctx.Err()
	})
	fast := &recordingSink{name: "fast"}
	d := NewDispatcher([]Sink{slow, fast}, WithLogger(quietLogger), WithTimeout(50*time.Millisecond))

	start := time.Now()
	err := d.Dispatch(context.Background(), record.Record{}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected slow sink to time out, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("expected dispatch to be bounded by the sink timeout")
	}
	if fast.count() != 1 {
		t.Fatalf("expected fast sink to receive the record")
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	boom := Func("boom", func(ctx context.Context, rec record.Record) error {
		panic("nil map")
	})
	ok := &recordingSink{name: "ok"}
	d := NewDispatcher([]Sink{boom, ok}, WithLogger(quietLogger))

	if err := d.Dispatch(context.Background(), record.Record{}, nil); err == nil {
		t.Fatalf("expected panic to surface as an error")
	}
	if ok.count() != 1 {
		t.Fatalf("expected healthy sink to still run")
	}
}

func TestDispatchAsyncWait(t *testing.T) {
	var delivered atomic.Int32
	sink := Func("count", func(ctx context.Context, rec record.Record) error {
		time.Sleep(10 * time.Millisecond)
		delivered.Add(1)
		return nil
	})
	d := NewDispatcher([]Sink{sink}, WithLogger(quietLogger))

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 3; i++ {
		d.DispatchAsync(ctx, record.Record{}, nil)
	}
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := d.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if delivered.Load() != 3 {
		t.Fatalf("expected 3 deliveries after caller cancel, got %d", delivered.Load())
	}
}

func TestNewDispatcherDropsDuplicateNames(t *testing.T) {
	d := NewDispatcher([]Sink{&recordingSink{name: "csv"}, &recordingSink{name: "CSV"}, nil})
	if names := d.Names(); len(names) != 1 || names[0] != "csv" {
		t.Fatalf("expected single csv sink, got %v", names)
	}
}
