// Package sinks defines the record sink capability and the fan-out
// dispatcher that delivers a record to several sinks independently.
package sinks

import (
	"context"

	"formhooks/pkg/record"
)

// Sink durably records or forwards an accepted record.
type Sink interface {
	Name() string
	Send(ctx context.Context, rec record.Record) error
}

// Logger is the logging surface used by the dispatcher.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Func adapts a function to a Sink.
func Func(name string, fn func(ctx context.Context, rec record.Record) error) Sink {
	return funcSink{name: name, fn: fn}
}

type funcSink struct {
	name string
	fn   func(ctx context.Context, rec record.Record) error
}

func (s funcSink) Name() string { return s.name }

func (s funcSink) Send(ctx context.Context, rec record.Record) error {
	return s.fn(ctx, rec)
}
