package bus

import (
	"context"

	"caravan/internal/saga"
)

// Handler processes one delivered envelope. Returning an error leaves the
// message unacknowledged so the transport redelivers it; handlers must be
// idempotent under redelivery.
type Handler func(ctx context.Context, env saga.Envelope) error

// Publisher publishes saga envelopes to their topic.
type Publisher interface {
	Publish(ctx context.Context, env saga.Envelope) error
}

// Subscriber registers a handler for a topic under a consumer group.
// Every group receives its own copy of each message; within a group a
// message is delivered to one consumer at a time.
type Subscriber interface {
	Subscribe(topic, group string, h Handler) error
}

// Bus is a topic-routed, at-least-once publish/subscribe transport.
type Bus interface {
	Publisher
	Subscriber
}
