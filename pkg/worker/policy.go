package worker

import "context"

// Outcome is what happens to a broker message after a failed delivery.
type Outcome int

const (
	// Ack removes the message from the topic.
	Ack Outcome = iota
	// Nack hands the message back to the broker for redelivery.
	Nack
)

func (o Outcome) String() string {
	if o == Nack {
		return "nack"
	}
	return "ack"
}

// FailurePolicy decides the outcome of a message whose decode or delivery
// failed. evt is nil when the payload could not be decoded.
type FailurePolicy interface {
	Decide(ctx context.Context, evt *Event, err error) Outcome
}

// FailurePolicyFunc adapts a function to FailurePolicy.
type FailurePolicyFunc func(ctx context.Context, evt *Event, err error) Outcome

func (f FailurePolicyFunc) Decide(ctx context.Context, evt *Event, err error) Outcome {
	return f(ctx, evt, err)
}

// NackOnError redelivers every failed message.
type NackOnError struct{}

func (NackOnError) Decide(context.Context, *Event, error) Outcome { return Nack }

// AckOnError drops failed messages. Sink fan-out is at-most-once, so a
// redelivery would repeat the sinks that already succeeded.
type AckOnError struct{}

func (AckOnError) Decide(context.Context, *Event, error) Outcome { return Ack }
