package worker

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// MiddlewareFromWatermill lets Watermill handler middleware, such as the
// router's Recoverer, wrap a worker Handler. The middleware sees a copy of
// the delivery as a message.
func MiddlewareFromWatermill(m message.HandlerMiddleware) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) error {
			msg := message.NewMessage(watermill.NewUUID(), message.Payload(evt.Payload))
			msg.Metadata = message.Metadata{}
			for key, value := range evt.Metadata {
				msg.Metadata[key] = value
			}
			if evt.Record.RecordID != "" {
				msg.Metadata.Set("record_id", evt.Record.RecordID)
			}
			msg.SetContext(ctx)
			wrapped := m(func(_ *message.Message) ([]*message.Message, error) {
				return nil, next(ctx, evt)
			})
			_, err := wrapped(msg)
			return err
		}
	}
}
