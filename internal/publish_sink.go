package internal

import (
	"context"
	"errors"
	"strings"

	"formhooks/pkg/record"
)

// PublisherSink forwards records to a topic so out-of-process workers can
// run the slower sinks.
type PublisherSink struct {
	publisher Publisher
	topic     string
	drivers   []string
}

// NewPublisherSink publishes to topic through drivers, or every built
// driver when drivers is empty.
func NewPublisherSink(publisher Publisher, topic string, drivers []string) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.New("publish sink requires a publisher")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("publish sink requires a topic")
	}
	return &PublisherSink{publisher: publisher, topic: topic, drivers: drivers}, nil
}

// Name returns "publish".
func (s *PublisherSink) Name() string { return "publish" }

func (s *PublisherSink) Send(ctx context.Context, rec record.Record) error {
	return s.publisher.PublishForDrivers(ctx, s.topic, rec, s.drivers)
}
