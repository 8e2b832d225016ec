package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"formhooks/pkg/record"
	"formhooks/pkg/sinks"
)

type capture struct {
	mu   sync.Mutex
	recs map[string][]record.Record
	done chan struct{}
	want int
	seen int
}

func newCapture(want int) *capture {
	return &capture{recs: map[string][]record.Record{}, done: make(chan struct{}), want: want}
}

func (c *capture) sink(name string) sinks.Sink {
	return sinks.Func(name, func(ctx context.Context, rec record.Record) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.recs[name] = append(c.recs[name], rec)
		c.seen++
		if c.seen == c.want {
			close(c.done)
		}
		return nil
	})
}

func (c *capture) get(name string) []record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]record.Record(nil), c.recs[name]...)
}

type staticRouter []string

func (r staticRouter) Evaluate(rec record.Record) []string { return r }

func recordMessage(t *testing.T, rec record.Record) *message.Message {
	t.Helper()
	payload, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("request_id", "req-1")
	return msg
}

func TestWorkerDispatchesRecordsFromGoChannel(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8}, watermill.NopLogger{})
	captured := newCapture(2)
	dispatcher := sinks.NewDispatcher(
		[]sinks.Sink{captured.sink("sheets"), captured.sink("email")},
		sinks.WithLogger(log.New(io.Discard, "", 0)),
	)

	var finished sync.WaitGroup
	finished.Add(1)
	wk := New(
		WithSubscriber(pubsub),
		WithTopics("formhooks.submissions"),
		WithConcurrency(2),
		WithFailurePolicy(AckOnError{}),
		WithLogger(log.New(io.Discard, "", 0)),
		WithListener(Listener{OnDone: func(ctx context.Context, evt *Event, err error) { finished.Done() }}),
	)
	wk.HandleTopic("formhooks.submissions", DispatchHandler(dispatcher, nil))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- wk.Run(ctx) }()

	// Give Run time to subscribe before publishing; gochannel drops messages without subscribers.
	time.Sleep(100 * time.Millisecond)

	if err := pubsub.Publish("formhooks.submissions", message.NewMessage(watermill.NewUUID(), []byte("not json"))); err != nil {
		t.Fatalf("publish: %v", err)
	}
	rec := record.Record{RecordID: "rec1", Event: "lark_form_submission", Fields: map[string]string{"Issue": "Test"}}
	if err := pubsub.Publish("formhooks.submissions", recordMessage(t, rec)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-captured.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for deliveries")
	}
	finished.Wait()
	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, name := range []string{"sheets", "email"} {
		got := captured.get(name)
		if len(got) != 1 || got[0].RecordID != "rec1" || got[0].RequestID != "req-1" {
			t.Fatalf("unexpected %s deliveries %+v", name, got)
		}
	}
}

func TestDispatchHandlerFiltersRoutedSinks(t *testing.T) {
	captured := newCapture(1)
	dispatcher := sinks.NewDispatcher([]sinks.Sink{captured.sink("email"), captured.sink("whatsapp")})

	handler := DispatchHandler(dispatcher, staticRouter{"csv", "email"})
	if err := handler(context.Background(), &Event{Record: record.Record{RecordID: "rec1"}}); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(captured.get("email")) != 1 {
		t.Fatalf("expected email delivery")
	}
	if len(captured.get("whatsapp")) != 0 {
		t.Fatalf("expected whatsapp to be skipped")
	}

	none := DispatchHandler(dispatcher, staticRouter{})
	if err := none(context.Background(), &Event{}); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(captured.get("email")) != 1 {
		t.Fatalf("expected an empty route selection to deliver nothing")
	}
}

func TestDefaultCodecDecode(t *testing.T) {
	msg := recordMessage(t, record.Record{Event: "lark_form_submission", Fields: nil})
	msg.Metadata.Set("record_id", "from-meta")

	evt, err := DefaultCodec{}.Decode("formhooks.submissions", msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Record.RecordID != "from-meta" || evt.Record.RequestID != "req-1" {
		t.Fatalf("expected metadata fallbacks, got %+v", evt.Record)
	}
	if evt.Record.Fields == nil {
		t.Fatalf("expected fields to default to an empty map")
	}
	if evt.Topic != "formhooks.submissions" {
		t.Fatalf("unexpected topic %q", evt.Topic)
	}

	if _, err := (DefaultCodec{}).Decode("t", message.NewMessage("1", nil)); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
	if _, err := (DefaultCodec{}).Decode("t", message.NewMessage("1", []byte("[1]"))); err == nil {
		t.Fatalf("expected error for non-object payload")
	}
}

func TestFailurePolicies(t *testing.T) {
	if got := (NackOnError{}).Decide(context.Background(), nil, errors.New("x")); got != Nack {
		t.Fatalf("expected NackOnError to nack, got %s", got)
	}
	if got := (AckOnError{}).Decide(context.Background(), nil, errors.New("x")); got != Ack {
		t.Fatalf("expected AckOnError to ack, got %s", got)
	}
}

func TestWorkerConsultsFailurePolicy(t *testing.T) {
	if _, ok := New().policy.(NackOnError); !ok {
		t.Fatalf("expected failed messages to be nacked by default")
	}

	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8}, watermill.NopLogger{})

	var decided sync.WaitGroup
	decided.Add(2)
	var mu sync.Mutex
	var decodeFailures, deliveryFailures int
	policy := FailurePolicyFunc(func(ctx context.Context, evt *Event, err error) Outcome {
		mu.Lock()
		if evt == nil {
			decodeFailures++
		} else {
			deliveryFailures++
		}
		mu.Unlock()
		decided.Done()
		return Ack
	})

	wk := New(
		WithSubscriber(pubsub),
		WithFailurePolicy(policy),
		WithLogger(log.New(io.Discard, "", 0)),
	)
	wk.HandleTopic("records", func(ctx context.Context, evt *Event) error { return errors.New("sink down") })

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- wk.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := pubsub.Publish("records", message.NewMessage(watermill.NewUUID(), []byte("{"))); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pubsub.Publish("records", recordMessage(t, record.Record{RecordID: "rec1"})); err != nil {
		t.Fatalf("publish: %v", err)
	}
	decided.Wait()
	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if decodeFailures != 1 || deliveryFailures != 1 {
		t.Fatalf("expected one decode and one delivery failure, got %d and %d", decodeFailures, deliveryFailures)
	}
}

func TestMiddlewareFromWatermillRecoversPanics(t *testing.T) {
	mw := MiddlewareFromWatermill(middleware.Recoverer)
	handler := mw(func(ctx context.Context, evt *Event) error {
		panic("sink exploded")
	})
	if err := handler(context.Background(), &Event{Payload: []byte(`{}`)}); err == nil {
		t.Fatalf("expected panic to be converted to an error")
	}
}

func TestMiddlewareFromWatermillSeesDelivery(t *testing.T) {
	var seen *message.Message
	inspect := func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			seen = msg
			return h(msg)
		}
	}
	handled := false
	handler := MiddlewareFromWatermill(inspect)(func(ctx context.Context, evt *Event) error {
		handled = true
		return nil
	})

	evt := &Event{
		Payload:  []byte(`{"record_id":"rec1"}`),
		Metadata: map[string]string{"request_id": "req-1"},
		Record:   record.Record{RecordID: "rec1"},
	}
	if err := handler(context.Background(), evt); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !handled || seen == nil {
		t.Fatalf("expected the wrapped handler to run")
	}
	if string(seen.Payload) != `{"record_id":"rec1"}` {
		t.Fatalf("unexpected payload %q", seen.Payload)
	}
	if seen.Metadata.Get("request_id") != "req-1" || seen.Metadata.Get("record_id") != "rec1" {
		t.Fatalf("unexpected metadata %v", seen.Metadata)
	}
}

func TestWorkerRunRequiresSubscriberAndTopic(t *testing.T) {
	if err := New().Run(context.Background()); err == nil {
		t.Fatalf("expected error without subscriber")
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	if err := New(WithSubscriber(pubsub)).Run(context.Background()); err == nil {
		t.Fatalf("expected error without topics")
	}
}
