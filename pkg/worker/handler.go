package worker

import (
	"context"
	"strings"

	"formhooks/pkg/record"
)

// Handler is a function that processes an event.
type Handler func(ctx context.Context, evt *Event) error

// Middleware is a function that wraps a handler to add functionality.
type Middleware func(Handler) Handler

// Router selects sink names for a record. A nil result selects every sink.
type Router interface {
	Evaluate(rec record.Record) []string
}

// Dispatcher delivers a record to named sinks.
type Dispatcher interface {
	Names() []string
	Dispatch(ctx context.Context, rec record.Record, names []string) error
}

// DispatchHandler routes each record and hands it to the dispatcher. Routed
// sinks this worker does not run are skipped, since the server or another
// worker owns them.
func DispatchHandler(d Dispatcher, router Router) Handler {
	local := make(map[string]struct{})
	for _, name := range d.Names() {
		local[strings.ToLower(name)] = struct{}{}
	}
	return func(ctx context.Context, evt *Event) error {
		var names []string
		if router != nil {
			routed := router.Evaluate(evt.Record)
			if routed != nil {
				names = make([]string, 0, len(routed))
				for _, name := range routed {
					if _, ok := local[strings.ToLower(name)]; ok {
						names = append(names, name)
					}
				}
			}
		}
		return d.Dispatch(ctx, evt.Record, names)
	}
}
