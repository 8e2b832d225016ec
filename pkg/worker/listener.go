package worker

import "context"

// Listener observes deliveries. Every hook is optional.
type Listener struct {
	// OnReceived runs after a message decodes into a record.
	OnReceived func(ctx context.Context, evt *Event)
	// OnDone runs after the handler returns, with its error.
	OnDone func(ctx context.Context, evt *Event, err error)
	// OnUndecodable runs when a message on topic is not a record.
	OnUndecodable func(ctx context.Context, topic string, err error)
}

type listeners []Listener

func (ls listeners) received(ctx context.Context, evt *Event) {
	for _, l := range ls {
		if l.OnReceived != nil {
			l.OnReceived(ctx, evt)
		}
	}
}

func (ls listeners) done(ctx context.Context, evt *Event, err error) {
	for _, l := range ls {
		if l.OnDone != nil {
			l.OnDone(ctx, evt, err)
		}
	}
}

func (ls listeners) undecodable(ctx context.Context, topic string, err error) {
	for _, l := range ls {
		if l.OnUndecodable != nil {
			l.OnUndecodable(ctx, topic, err)
		}
	}
}
