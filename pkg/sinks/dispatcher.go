package sinks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"formhooks/pkg/record"
)

// Dispatcher fans a record out to sinks. Every sink runs in its own
// goroutine with its own timeout; one failing or slow sink never blocks or
// cancels another.
type Dispatcher struct {
	sinks   []Sink
	byName  map[string]Sink
	timeout time.Duration
	logger  Logger
	onError func(sink string, err error)

	inflight sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds each sink delivery.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(l Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithErrorHook registers a callback invoked once per failed delivery.
func WithErrorHook(fn func(sink string, err error)) Option {
	return func(d *Dispatcher) {
		d.onError = fn
	}
}

// NewDispatcher creates a dispatcher over sinks. Sink names are matched case-insensitively.
func NewDispatcher(sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		byName:  make(map[string]Sink, len(sinks)),
		timeout: 30 * time.Second,
		logger:  log.Default(),
	}
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		key := strings.ToLower(sink.Name())
		if _, ok := d.byName[key]; ok {
			continue
		}
		d.byName[key] = sink
		d.sinks = append(d.sinks, sink)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Names lists the registered sinks in registration order.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.sinks))
	for _, sink := range d.sinks {
		names = append(names, sink.Name())
	}
	return names
}

// Dispatch delivers rec to the named sinks and waits for all of them. A nil
// names slice selects every sink; an empty non-nil slice selects none. The
// returned error joins every delivery failure.
func (d *Dispatcher) Dispatch(ctx context.Context, rec record.Record, names []string) error {
	targets, err := d.selectSinks(names)

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, sink := range targets {
		wg.Add(1)
		go func(i int, sink Sink) {
			defer wg.Done()
			errs[i] = d.send(ctx, sink, rec)
		}(i, sink)
	}
	wg.Wait()

	for i, sendErr := range errs {
		if sendErr == nil {
			continue
		}
		name := targets[i].Name()
		d.logger.Printf("sink %s failed record_id=%s: %v", name, rec.RecordID, sendErr)
		if d.onError != nil {
			d.onError(name, sendErr)
		}
		err = errors.Join(err, fmt.Errorf("%s: %w", name, sendErr))
	}
	return err
}

// DispatchAsync runs Dispatch in the background, detached from the caller's
// cancellation. Use Wait to drain in-flight deliveries.
func (d *Dispatcher) DispatchAsync(ctx context.Context, rec record.Record, names []string) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		_ = d.Dispatch(context.WithoutCancel(ctx), rec, names)
	}()
}

// Wait blocks until background deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes every sink that implements io.Closer.
func (d *Dispatcher) Close() error {
	var err error
	for _, sink := range d.sinks {
		if closer, ok := sink.(io.Closer); ok {
			err = errors.Join(err, closer.Close())
		}
	}
	return err
}

func (d *Dispatcher) selectSinks(names []string) ([]Sink, error) {
	if names == nil {
		return d.sinks, nil
	}
	var err error
	seen := make(map[string]struct{}, len(names))
	targets := make([]Sink, 0, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		sink, ok := d.byName[key]
		if !ok {
			err = errors.Join(err, fmt.Errorf("unknown sink %s", name))
			continue
		}
		targets = append(targets, sink)
	}
	return targets, err
}

func (d *Dispatcher) send(ctx context.Context, sink Sink, rec record.Record) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sink.Send(ctx, rec)
}
