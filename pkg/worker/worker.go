package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/errgroup"
)

// Worker consumes record messages from a Watermill subscriber and hands
// each decoded record to the handler registered for its topic.
type Worker struct {
	subscriber  message.Subscriber
	codec       Codec
	policy      FailurePolicy
	logger      Logger
	concurrency int
	middleware  []Middleware
	listeners   listeners

	// handlers maps every subscribed topic to its handler. A nil handler
	// means the topic is subscribed but nothing handles it yet.
	handlers map[string]Handler
}

// New creates a Worker. Failed messages are nacked unless a failure
// policy says otherwise.
func New(opts ...Option) *Worker {
	w := &Worker{
		codec:       DefaultCodec{},
		policy:      NackOnError{},
		logger:      defaultLogger(),
		concurrency: 1,
		handlers:    make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HandleTopic registers h for topic and subscribes to it.
func (w *Worker) HandleTopic(topic string, h Handler) {
	if topic == "" || h == nil {
		return
	}
	w.handlers[topic] = h
}

func (w *Worker) topics() []string {
	topics := make([]string, 0, len(w.handlers))
	for topic := range w.handlers {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

// Run subscribes to every topic and delivers messages until ctx is done.
// It returns after in-flight deliveries finish.
func (w *Worker) Run(ctx context.Context) error {
	if w.subscriber == nil {
		return errors.New("subscriber is required")
	}
	topics := w.topics()
	if len(topics) == 0 {
		return errors.New("at least one topic is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var deliveries errgroup.Group
	deliveries.SetLimit(w.concurrency)

	var readers sync.WaitGroup
	for _, topic := range topics {
		topic := topic
		msgs, err := w.subscriber.Subscribe(ctx, topic)
		if err != nil {
			cancel()
			readers.Wait()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					// Go blocks while concurrency deliveries are running.
					deliveries.Go(func() error {
						w.deliver(ctx, topic, msg)
						return nil
					})
				}
			}
		}()
	}

	<-ctx.Done()
	readers.Wait()
	return deliveries.Wait()
}

// Close closes the subscriber.
func (w *Worker) Close() error {
	if w.subscriber == nil {
		return nil
	}
	return w.subscriber.Close()
}

func (w *Worker) deliver(ctx context.Context, topic string, msg *message.Message) {
	evt, err := w.codec.Decode(topic, msg)
	if err != nil {
		w.logger.Printf("undecodable message topic=%s uuid=%s: %v", topic, msg.UUID, err)
		w.listeners.undecodable(ctx, topic, err)
		w.settle(msg, w.policy.Decide(ctx, nil, err))
		return
	}
	w.listeners.received(ctx, evt)

	handler := w.handlers[topic]
	if handler == nil {
		w.logger.Printf("no handler for topic=%s record_id=%s", topic, evt.Record.RecordID)
		w.listeners.done(ctx, evt, nil)
		msg.Ack()
		return
	}
	for i := len(w.middleware) - 1; i >= 0; i-- {
		handler = w.middleware[i](handler)
	}

	err = handler(ctx, evt)
	w.listeners.done(ctx, evt, err)
	if err == nil {
		w.logger.Printf("record delivered topic=%s record_id=%s request_id=%s", topic, evt.Record.RecordID, evt.Record.RequestID)
		msg.Ack()
		return
	}
	outcome := w.policy.Decide(ctx, evt, err)
	w.logger.Printf("record failed topic=%s record_id=%s outcome=%s: %v", topic, evt.Record.RecordID, outcome, err)
	w.settle(msg, outcome)
}

func (w *Worker) settle(msg *message.Message, outcome Outcome) {
	if outcome == Nack {
		msg.Nack()
		return
	}
	msg.Ack()
}
