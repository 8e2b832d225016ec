package worker

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"formhooks/pkg/record"
)

// ErrEmptyPayload is returned for messages without a body.
var ErrEmptyPayload = errors.New("empty message payload")

// Codec is an interface for decoding messages from a message broker into an Event.
type Codec interface {
	// Decode transforms a Watermill message into an Event.
	Decode(topic string, msg *message.Message) (*Event, error)
}

// DefaultCodec decodes the record JSON written by the publish sink.
type DefaultCodec struct{}

func (DefaultCodec) Decode(topic string, msg *message.Message) (*Event, error) {
	if len(msg.Payload) == 0 {
		return nil, ErrEmptyPayload
	}
	var rec record.Record
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec.Fields == nil {
		rec.Fields = map[string]string{}
	}

	metadata := make(map[string]string, len(msg.Metadata))
	for key, value := range msg.Metadata {
		metadata[key] = value
	}
	if rec.RecordID == "" {
		rec.RecordID = metadata["record_id"]
	}
	if rec.RequestID == "" {
		rec.RequestID = metadata["request_id"]
	}

	return &Event{
		Topic:    topic,
		Metadata: metadata,
		Payload:  json.RawMessage(msg.Payload),
		Record:   rec,
	}, nil
}
