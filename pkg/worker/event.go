package worker

import (
	"encoding/json"

	"formhooks/pkg/record"
)

// Event is one record delivery received by the worker.
type Event struct {
	// Topic is the topic or queue the delivery arrived on.
	Topic string `json:"topic"`
	// Metadata carries broker metadata such as record_id and request_id.
	Metadata map[string]string `json:"metadata"`
	// Payload is the message body as received.
	Payload json.RawMessage `json:"payload"`
	// Record is the decoded submission.
	Record record.Record `json:"record"`
}
